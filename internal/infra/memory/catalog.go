package memory

import (
	"context"

	"quiz-round-service/internal/domain"
)

func (s *Store) QuestionsFor(_ context.Context, pollID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.polls[pollID]; !ok {
		return nil, domain.ErrPollNotFound
	}
	ids := s.pollOrder[pollID]
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneQuestion(s.questions[id]))
	}
	return out, nil
}

func (s *Store) NextAfter(ctx context.Context, pollID string, order int) (domain.Question, bool, error) {
	questions, err := s.QuestionsFor(ctx, pollID)
	if err != nil {
		return domain.Question{}, false, err
	}
	next, ok := domain.NextAfter(questions, order)
	return next, ok, nil
}

func (s *Store) Question(_ context.Context, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return cloneQuestion(q), nil
}

// MarkOpen moves a pending question to open. Closed questions stay closed.
func (s *Store) MarkOpen(_ context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if q.Status == domain.QuestionPending {
		q.Status = domain.QuestionOpen
		s.questions[questionID] = q
	}
	return nil
}

func (s *Store) MarkClosed(_ context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markClosedLocked(questionID)
}

func (s *Store) markClosedLocked(questionID string) error {
	q, ok := s.questions[questionID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	q.Status = domain.QuestionClosed
	s.questions[questionID] = q
	return nil
}

// LoadQuestions and LoadQuestion let a CachedCatalog read through the store.
func (s *Store) LoadQuestions(ctx context.Context, pollID string) ([]domain.Question, error) {
	return s.QuestionsFor(ctx, pollID)
}

func (s *Store) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	return s.Question(ctx, questionID)
}
