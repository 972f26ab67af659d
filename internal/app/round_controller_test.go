package app_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"quiz-round-service/internal/app"
	"quiz-round-service/internal/domain"
	"quiz-round-service/internal/infra/memory"
	infraredis "quiz-round-service/internal/infra/redis"
)

type harness struct {
	store       *memory.Store
	submissions *memory.SubmissionStore
	deliverer   *recordingDeliverer
	records     *flakyRecords
	controller  *app.RoundController
	now         time.Time
}

func newHarness(t *testing.T, questions ...domain.Question) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		store:       memory.NewStore(),
		submissions: memory.NewSubmissionStore(),
		deliverer:   &recordingDeliverer{fail: map[string]bool{}},
		now:         time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.records = &flakyRecords{ScoredRecordStore: h.store}
	if err := h.store.CreatePoll(ctx, domain.Poll{ID: "poll-1", Title: "Geography", AccessCode: "GEO1"}); err != nil {
		t.Fatalf("create poll: %v", err)
	}
	if len(questions) > 0 {
		if err := h.store.AttachQuestions(ctx, "poll-1", questions); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	h.controller = app.NewRoundControllerWithClock(app.RoundDeps{
		Polls:       h.store,
		Catalog:     h.store,
		Roster:      h.store,
		Submissions: h.submissions,
		Records:     h.records,
		Dispatcher:  app.NewDispatcher(h.deliverer, app.DispatcherOptions{Timeout: time.Second}, nil),
	}, func() time.Time { return h.now })
	return h
}

func twoQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "Capital of France?", Options: []string{"Paris", "London"}, CorrectAnswers: []string{"Paris"}, Order: 1},
		{ID: "q2", Text: "Pick A and B", Options: []string{"A", "B", "C"}, CorrectAnswers: []string{"A", "B"}, Order: 2},
	}
}

func (h *harness) join(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := h.controller.Join(context.Background(), "poll-1", id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
}

func TestRoundLifecycleThroughFinish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1", "u2")

	if err := h.controller.Activate(ctx, "poll-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	res, err := h.controller.OpenNext(ctx, "poll-1")
	if err != nil {
		t.Fatalf("open q1: %v", err)
	}
	if res.Question == nil || res.Question.ID != "q1" || res.Broadcast.Delivered != 2 {
		t.Fatalf("unexpected open result: %+v", res)
	}
	if _, err := h.controller.OpenNext(ctx, "poll-1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while q1 is open, got %v", err)
	}
	assertOpenCount(t, h, 1)

	if _, err := h.controller.Toggle(ctx, "u1", "q1", "Paris"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	tally, err := h.controller.CloseCurrent(ctx, "poll-1")
	if err != nil {
		t.Fatalf("close q1: %v", err)
	}
	if len(tally.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(tally.Records))
	}

	res, err = h.controller.OpenNext(ctx, "poll-1")
	if err != nil || res.Question.ID != "q2" {
		t.Fatalf("open q2: %+v %v", res, err)
	}
	if _, err := h.controller.CloseCurrent(ctx, "poll-1"); err != nil {
		t.Fatalf("close q2: %v", err)
	}

	res, err = h.controller.OpenNext(ctx, "poll-1")
	if err != nil || !res.Finished {
		t.Fatalf("expected finish, got %+v %v", res, err)
	}
	state, _ := h.controller.State(ctx, "poll-1")
	if state != domain.StateFinished {
		t.Fatalf("expected finished state, got %s", state)
	}
	for _, id := range []string{"u1", "u2"} {
		m, _ := h.store.Membership(ctx, "poll-1", id)
		if m.CompletedAt == nil || !m.CompletedAt.Equal(h.now) {
			t.Fatalf("expected completed_at for %s, got %v", id, m.CompletedAt)
		}
	}
	poll, _ := h.store.GetPoll(ctx, "poll-1")
	if poll.Active {
		t.Fatalf("finished poll must be inactive")
	}
	if _, err := h.controller.OpenNext(ctx, "poll-1"); !errors.Is(err, domain.ErrPollFinished) {
		t.Fatalf("expected ErrPollFinished, got %v", err)
	}
}

func TestJoinTwiceKeepsRoster(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)

	first, err := h.controller.Join(ctx, "poll-1", "u1")
	if err != nil || first != domain.JoinJoined {
		t.Fatalf("first join: %v %v", first, err)
	}
	second, err := h.controller.Join(ctx, "poll-1", "u1")
	if err != nil || second != domain.JoinAlreadyJoined {
		t.Fatalf("second join: %v %v", second, err)
	}
	members, _ := h.store.AllMembers(ctx, "poll-1")
	if len(members) != 1 {
		t.Fatalf("roster size changed: %v", members)
	}
}

func TestJoinByCode(t *testing.T) {
	h := newHarness(t, twoQuestions()...)
	poll, res, err := h.controller.JoinByCode(context.Background(), "GEO1", "u1")
	if err != nil || poll.ID != "poll-1" || res != domain.JoinJoined {
		t.Fatalf("join by code: %+v %v %v", poll, res, err)
	}
	if _, _, err := h.controller.JoinByCode(context.Background(), "NOPE", "u1"); !errors.Is(err, domain.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound, got %v", err)
	}
}

func TestBroadcastPartialFailureStillOpens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1", "u2", "u3", "u4", "u5")
	h.deliverer.fail["u2"] = true
	h.deliverer.fail["u4"] = true
	_ = h.controller.Activate(ctx, "poll-1")

	res, err := h.controller.OpenNext(ctx, "poll-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.Broadcast.Delivered != 3 || res.Broadcast.Total != 5 {
		t.Fatalf("expected delivered=3 total=5, got %d/%d", res.Broadcast.Delivered, res.Broadcast.Total)
	}
	for i, o := range res.Broadcast.Outcomes {
		if o.ParticipantID != fmt.Sprintf("u%d", i+1) {
			t.Fatalf("outcomes out of recipient order: %+v", res.Broadcast.Outcomes)
		}
	}
	state, _ := h.controller.State(ctx, "poll-1")
	if state != domain.StateQuestionOpen {
		t.Fatalf("expected question open, got %s", state)
	}
}

func TestOpenWithEmptyRosterIsNonFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	_ = h.controller.Activate(ctx, "poll-1")

	res, err := h.controller.OpenNext(ctx, "poll-1")
	if !errors.Is(err, domain.ErrNoActiveParticipants) || !domain.IsNonFatal(err) {
		t.Fatalf("expected non-fatal ErrNoActiveParticipants, got %v", err)
	}
	if res.Question == nil || res.Question.ID != "q1" {
		t.Fatalf("question should still be open: %+v", res)
	}
}

func TestActivatePreconditions(t *testing.T) {
	ctx := context.Background()
	empty := newHarness(t)
	if err := empty.controller.Activate(ctx, "poll-1"); !errors.Is(err, domain.ErrEmptyPoll) {
		t.Fatalf("expected ErrEmptyPoll, got %v", err)
	}
	if _, err := empty.controller.OpenNext(ctx, "poll-1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for draft poll, got %v", err)
	}

	h := newHarness(t, twoQuestions()...)
	_ = h.controller.Activate(ctx, "poll-1")
	_, _ = h.controller.OpenNext(ctx, "poll-1")
	if err := h.controller.Activate(ctx, "poll-1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while open, got %v", err)
	}
}

func TestCloseTwiceReturnsPreviousTally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1")
	_ = h.controller.Activate(ctx, "poll-1")
	_, _ = h.controller.OpenNext(ctx, "poll-1")
	_, _ = h.controller.Toggle(ctx, "u1", "q1", "Paris")

	first, err := h.controller.CloseCurrent(ctx, "poll-1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := h.controller.CloseCurrent(ctx, "poll-1")
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second close should return the same tally")
	}
	stored, _ := h.store.RecordsForQuestion(ctx, "q1")
	if len(stored) != 1 || stored[0].Score != 1 {
		t.Fatalf("expected one record scored 1, got %+v", stored)
	}
}

func TestCloseAfterRestartReadsStoredTally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1")
	_ = h.controller.Activate(ctx, "poll-1")
	_, _ = h.controller.OpenNext(ctx, "poll-1")
	_, _ = h.controller.CloseCurrent(ctx, "poll-1")

	h.controller.Forget("poll-1")
	tally, err := h.controller.CloseCurrent(ctx, "poll-1")
	if !errors.Is(err, domain.ErrAlreadyClosed) || tally.QuestionID != "q1" || len(tally.Records) != 1 {
		t.Fatalf("expected stored tally for q1, got %+v %v", tally, err)
	}
	res, err := h.controller.OpenNext(ctx, "poll-1")
	if err != nil || res.Question.ID != "q2" {
		t.Fatalf("rebuilt controller should open q2, got %+v %v", res, err)
	}
}

func TestCloseRetriesAfterPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1", "u2")
	_ = h.controller.Activate(ctx, "poll-1")
	_, _ = h.controller.OpenNext(ctx, "poll-1")
	_, _ = h.controller.Toggle(ctx, "u1", "q1", "Paris")
	_, _ = h.controller.Toggle(ctx, "u2", "q1", "London")

	h.records.failNext.Store(true)
	_, err := h.controller.CloseCurrent(ctx, "poll-1")
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || !app.IsRetryable(err) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	state, _ := h.controller.State(ctx, "poll-1")
	if state != domain.StateQuestionOpen {
		t.Fatalf("failed close must leave the question open, got %s", state)
	}
	if stored, _ := h.store.RecordsForQuestion(ctx, "q1"); len(stored) != 0 {
		t.Fatalf("failed close must not persist records, got %d", len(stored))
	}
	if pending, _ := h.controller.Pending(ctx, "u1", "q1"); !reflect.DeepEqual(pending, []string{"Paris"}) {
		t.Fatalf("selection should survive failed close, got %v", pending)
	}

	tally, err := h.controller.CloseCurrent(ctx, "poll-1")
	if err != nil {
		t.Fatalf("retry close: %v", err)
	}
	scores := map[string]float64{}
	for _, rec := range tally.Records {
		scores[rec.ParticipantID] = rec.Score
	}
	if scores["u1"] != 1 || scores["u2"] != 0 || len(scores) != 2 {
		t.Fatalf("unexpected scores after retry: %v", scores)
	}
}

func TestCloseRetriesAfterCancelledRequest(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	records := &cancellingRecords{ScoredRecordStore: h.store}
	controller := app.NewRoundController(app.RoundDeps{
		Polls:       h.store,
		Catalog:     h.store,
		Roster:      h.store,
		Submissions: infraredis.NewSubmissionStore(client, time.Minute),
		Records:     records,
		Dispatcher:  app.NewDispatcher(h.deliverer, app.DispatcherOptions{Timeout: time.Second}, nil),
	})
	for _, id := range []string{"u1", "u2"} {
		if _, err := controller.Join(ctx, "poll-1", id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	_ = controller.Activate(ctx, "poll-1")
	_, _ = controller.OpenNext(ctx, "poll-1")
	_, _ = controller.Toggle(ctx, "u1", "q1", "Paris")
	_, _ = controller.Toggle(ctx, "u2", "q1", "London")

	reqCtx, cancel := context.WithCancel(ctx)
	records.cancel = cancel
	if _, err := controller.CloseCurrent(reqCtx, "poll-1"); !app.IsRetryable(err) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if pending, _ := controller.Pending(ctx, "u1", "q1"); !reflect.DeepEqual(pending, []string{"Paris"}) {
		t.Fatalf("selection should survive a cancelled close, got %v", pending)
	}

	tally, err := controller.CloseCurrent(ctx, "poll-1")
	if err != nil {
		t.Fatalf("retry close: %v", err)
	}
	scores := map[string]float64{}
	for _, rec := range tally.Records {
		scores[rec.ParticipantID] = rec.Score
	}
	if scores["u1"] != 1 || scores["u2"] != 0 || len(scores) != 2 {
		t.Fatalf("unexpected scores after retry: %v", scores)
	}
	if mr.Exists("quiz:sub:{q1}:drained") {
		t.Fatalf("committed close should settle the drained snapshot")
	}
}

func TestCloseAfterRestartBetweenDrainAndCommit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1", "u2")
	_ = h.controller.Activate(ctx, "poll-1")
	_, _ = h.controller.OpenNext(ctx, "poll-1")
	_, _ = h.controller.Toggle(ctx, "u1", "q1", "Paris")
	_, _ = h.controller.Toggle(ctx, "u2", "q1", "London")

	// The drain happened but the process died before the commit.
	if _, err := h.submissions.Finalize(ctx, "q1", []string{"u1", "u2"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	h.controller.Forget("poll-1")

	tally, err := h.controller.CloseCurrent(ctx, "poll-1")
	if err != nil {
		t.Fatalf("close after restart: %v", err)
	}
	scores := map[string]float64{}
	for _, rec := range tally.Records {
		scores[rec.ParticipantID] = rec.Score
	}
	if scores["u1"] != 1 || scores["u2"] != 0 || len(scores) != 2 {
		t.Fatalf("drained selections must be committed, got %v", scores)
	}
	if again, _ := h.submissions.Finalize(ctx, "q1", []string{"u1", "u2"}); len(again) != 0 {
		t.Fatalf("snapshot should be settled after commit, got %+v", again)
	}
}

func TestToggleAcceptedByAnotherInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1")
	other := app.NewRoundController(app.RoundDeps{
		Polls:       h.store,
		Catalog:     h.store,
		Roster:      h.store,
		Submissions: h.submissions,
		Records:     h.store,
		Dispatcher:  app.NewDispatcher(h.deliverer, app.DispatcherOptions{Timeout: time.Second}, nil),
	})

	_ = h.controller.Activate(ctx, "poll-1")
	if state, _ := other.State(ctx, "poll-1"); state != domain.StateReady {
		t.Fatalf("second instance should see a ready poll, got %s", state)
	}
	if _, err := h.controller.OpenNext(ctx, "poll-1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	sel, err := other.Toggle(ctx, "u1", "q1", "Paris")
	if err != nil || !reflect.DeepEqual(sel, []string{"Paris"}) {
		t.Fatalf("second instance should accept toggles on the open question, got %v %v", sel, err)
	}
	if _, err := other.Toggle(ctx, "u1", "q2", "A"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for unopened question, got %v", err)
	}

	tally, err := h.controller.CloseCurrent(ctx, "poll-1")
	if err != nil || len(tally.Records) != 1 || tally.Records[0].Score != 1 {
		t.Fatalf("toggle from the second instance should be scored, got %+v %v", tally, err)
	}
	if _, err := other.Toggle(ctx, "u1", "q1", "London"); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected ErrQuestionClosed after close, got %v", err)
	}
}

func TestToggleValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1")
	_ = h.controller.Activate(ctx, "poll-1")

	if _, err := h.controller.Toggle(ctx, "u1", "q1", "Paris"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before open, got %v", err)
	}
	_, _ = h.controller.OpenNext(ctx, "poll-1")

	if _, err := h.controller.Toggle(ctx, "u1", "q1", "Berlin"); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected ErrOptionNotFound, got %v", err)
	}
	if _, err := h.controller.Toggle(ctx, "stranger", "q1", "Paris"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if _, err := h.controller.Toggle(ctx, "u1", "q2", "A"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for unopened question, got %v", err)
	}

	_, _ = h.controller.Toggle(ctx, "u1", "q1", "London")
	sel, err := h.controller.Toggle(ctx, "u1", "q1", "Paris")
	if err != nil || !reflect.DeepEqual(sel, []string{"Paris", "London"}) {
		t.Fatalf("expected selection in option order, got %v %v", sel, err)
	}

	_, _ = h.controller.CloseCurrent(ctx, "poll-1")
	if _, err := h.controller.Toggle(ctx, "u1", "q1", "Paris"); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected ErrQuestionClosed after close, got %v", err)
	}
}

func TestConcurrentTogglesDuringClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	ids := make([]string, 40)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%d", i)
	}
	h.join(t, ids...)
	_ = h.controller.Activate(ctx, "poll-1")
	_, _ = h.controller.OpenNext(ctx, "poll-1")

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := h.controller.Toggle(ctx, id, "q1", "Paris"); err == nil {
				accepted.Add(1)
			}
		}(id)
	}
	var tally domain.RoundTally
	wg.Add(1)
	go func() {
		defer wg.Done()
		tally, _ = h.controller.CloseCurrent(ctx, "poll-1")
	}()
	wg.Wait()

	if len(tally.Records) != len(ids) {
		t.Fatalf("expected one record per member, got %d", len(tally.Records))
	}
	scored := 0
	for _, rec := range tally.Records {
		if rec.Score == 1 {
			scored++
		}
	}
	if scored != int(accepted.Load()) {
		t.Fatalf("accepted %d toggles but %d records scored", accepted.Load(), scored)
	}
}

func TestOpenNextConcurrentCallsOpenOneQuestion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestions()...)
	h.join(t, "u1")
	_ = h.controller.Activate(ctx, "poll-1")

	var opened atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.controller.OpenNext(ctx, "poll-1"); err == nil {
				opened.Add(1)
			}
		}()
	}
	wg.Wait()
	if opened.Load() != 1 {
		t.Fatalf("expected exactly one successful open, got %d", opened.Load())
	}
	assertOpenCount(t, h, 1)
}

func assertOpenCount(t *testing.T, h *harness, want int) {
	t.Helper()
	questions, _ := h.store.QuestionsFor(context.Background(), "poll-1")
	open := 0
	for _, q := range questions {
		if q.Status == domain.QuestionOpen {
			open++
		}
	}
	if open != want {
		t.Fatalf("expected %d open questions, got %d", want, open)
	}
}

type recordingDeliverer struct {
	mu   sync.Mutex
	fail map[string]bool
	got  []string
}

func (d *recordingDeliverer) Deliver(_ context.Context, participantID string, _ domain.QuestionPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[participantID] {
		return domain.ErrRecipientUnreachable
	}
	d.got = append(d.got, participantID)
	return nil
}

type flakyRecords struct {
	app.ScoredRecordStore
	failNext atomic.Bool
}

func (f *flakyRecords) CommitRound(ctx context.Context, questionID string, records []domain.ScoredRecord) error {
	if f.failNext.CompareAndSwap(true, false) {
		return errors.New("connection reset")
	}
	return f.ScoredRecordStore.CommitRound(ctx, questionID, records)
}

// cancellingRecords cancels the caller's context and fails, like a request
// aborted mid-commit.
type cancellingRecords struct {
	app.ScoredRecordStore
	cancel context.CancelFunc
}

func (c *cancellingRecords) CommitRound(ctx context.Context, questionID string, records []domain.ScoredRecord) error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		return ctx.Err()
	}
	return c.ScoredRecordStore.CommitRound(ctx, questionID, records)
}
