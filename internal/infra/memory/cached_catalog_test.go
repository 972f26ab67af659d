package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"quiz-round-service/internal/domain"
)

func TestCachedCatalogCaches(t *testing.T) {
	store := seededStore(t)
	loader := &countingLoader{QuestionLoader: store}
	catalog := NewCachedCatalog(loader, store, time.Minute)
	ctx := context.Background()

	if _, err := catalog.QuestionsFor(ctx, "poll-1"); err != nil {
		t.Fatalf("questions: %v", err)
	}
	if loader.polls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.polls.Load())
	}

	if _, err := catalog.QuestionsFor(ctx, "poll-1"); err != nil {
		t.Fatalf("questions 2: %v", err)
	}
	if _, err := catalog.Question(ctx, "q2"); err != nil {
		t.Fatalf("question: %v", err)
	}
	if loader.polls.Load() != 1 || loader.single.Load() != 0 {
		t.Fatalf("expected cache hits, loader calls polls=%d single=%d", loader.polls.Load(), loader.single.Load())
	}
}

func TestCachedCatalogInvalidatesOnStatusChange(t *testing.T) {
	store := seededStore(t)
	loader := &countingLoader{QuestionLoader: store}
	catalog := NewCachedCatalog(loader, store, time.Minute)
	ctx := context.Background()

	if _, err := catalog.QuestionsFor(ctx, "poll-1"); err != nil {
		t.Fatalf("questions: %v", err)
	}
	if err := catalog.MarkOpen(ctx, "q1"); err != nil {
		t.Fatalf("mark open: %v", err)
	}
	q, err := catalog.Question(ctx, "q1")
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	if q.Status != domain.QuestionOpen {
		t.Fatalf("expected fresh open status, got %s", q.Status)
	}

	next, ok, err := catalog.NextAfter(ctx, "poll-1", 1)
	if err != nil || !ok || next.ID != "q2" {
		t.Fatalf("next after 1: %+v %v %v", next, ok, err)
	}
	if _, ok, _ := catalog.NextAfter(ctx, "poll-1", 2); ok {
		t.Fatalf("expected no question after the last one")
	}
}

func TestCachedCatalogExpires(t *testing.T) {
	store := seededStore(t)
	loader := &countingLoader{QuestionLoader: store}
	catalog := NewCachedCatalog(loader, store, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	catalog.clock = func() time.Time { return now }
	ctx := context.Background()

	_, _ = catalog.QuestionsFor(ctx, "poll-1")
	now = now.Add(2 * time.Minute)
	_, _ = catalog.QuestionsFor(ctx, "poll-1")
	if loader.polls.Load() != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", loader.polls.Load())
	}
}

type countingLoader struct {
	QuestionLoader
	polls  atomic.Int32
	single atomic.Int32
}

func (l *countingLoader) LoadQuestions(ctx context.Context, pollID string) ([]domain.Question, error) {
	l.polls.Add(1)
	return l.QuestionLoader.LoadQuestions(ctx, pollID)
}

func (l *countingLoader) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	l.single.Add(1)
	return l.QuestionLoader.LoadQuestion(ctx, questionID)
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore()
	ctx := context.Background()
	if err := store.CreatePoll(ctx, domain.Poll{ID: "poll-1", Title: "Capitals", AccessCode: "CAPS"}); err != nil {
		t.Fatalf("create poll: %v", err)
	}
	questions := []domain.Question{
		{ID: "q1", Text: "Capital of France?", Options: []string{"Paris", "London"}, CorrectAnswers: []string{"Paris"}, Order: 1},
		{ID: "q2", Text: "Pick vowels", Options: []string{"A", "B", "E"}, CorrectAnswers: []string{"A", "E"}, Order: 2},
	}
	if err := store.AttachQuestions(ctx, "poll-1", questions); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return store
}

func TestCachedCatalogSkipsEmptyPolls(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.CreatePoll(ctx, domain.Poll{ID: "draft", Title: "Draft", AccessCode: "DRAFT"}); err != nil {
		t.Fatalf("create poll: %v", err)
	}
	catalog := NewCachedCatalog(store, store, time.Minute)

	if questions, err := catalog.QuestionsFor(ctx, "draft"); err != nil || len(questions) != 0 {
		t.Fatalf("expected no questions, got %v %v", questions, err)
	}
	err := store.AttachQuestions(ctx, "draft", []domain.Question{{ID: "d1", Text: "Q", Options: []string{"A"}, Order: 1}})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	questions, err := catalog.QuestionsFor(ctx, "draft")
	if err != nil || len(questions) != 1 {
		t.Fatalf("questions attached after a miss should be visible, got %v %v", questions, err)
	}
}
