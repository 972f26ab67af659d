package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-round-service/internal/domain"
	"quiz-round-service/internal/scoring"
)

// RoundDeps groups the collaborators of a RoundController.
type RoundDeps struct {
	Polls       PollRepository
	Catalog     QuestionCatalog
	Roster      Roster
	Submissions SubmissionStore
	Records     ScoredRecordStore
	Dispatcher  *Dispatcher
	Logger      *zap.Logger
}

// RoundController drives a poll through its question rounds: activate, open the
// next question, collect toggles, close and score.
type RoundController struct {
	polls       PollRepository
	catalog     QuestionCatalog
	roster      Roster
	submissions SubmissionStore
	records     ScoredRecordStore
	dispatcher  *Dispatcher
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.Mutex
	rounds map[string]*round
}

// round is the in-process view of one poll's lifecycle. It is rebuilt from
// durable data the first time a poll is touched.
type round struct {
	mu        sync.Mutex
	loaded    bool
	state     domain.RoundState
	open      *domain.Question
	lastOrder int
	total     int
	lastTally *domain.RoundTally
}

func NewRoundController(deps RoundDeps) *RoundController {
	return NewRoundControllerWithClock(deps, time.Now)
}

// NewRoundControllerWithClock is used by tests that need deterministic timestamps.
func NewRoundControllerWithClock(deps RoundDeps, now func() time.Time) *RoundController {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoundController{
		polls:       deps.Polls,
		catalog:     deps.Catalog,
		roster:      deps.Roster,
		submissions: deps.Submissions,
		records:     deps.Records,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		now:         now,
		rounds:      make(map[string]*round),
	}
}

func (c *RoundController) roundFor(pollID string) *round {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rounds[pollID]
	if !ok {
		r = &round{}
		c.rounds[pollID] = r
	}
	return r
}

// lockRound returns the poll's round locked and loaded. Callers must unlock r.mu.
func (c *RoundController) lockRound(ctx context.Context, pollID string, reload bool) (*round, error) {
	r := c.roundFor(pollID)
	r.mu.Lock()
	if r.loaded && !reload {
		return r, nil
	}
	if err := c.loadLocked(ctx, r, pollID); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	return r, nil
}

func (c *RoundController) loadLocked(ctx context.Context, r *round, pollID string) error {
	poll, err := c.polls.GetPoll(ctx, pollID)
	if err != nil {
		return err
	}
	questions, err := c.catalog.QuestionsFor(ctx, pollID)
	if err != nil {
		return err
	}
	state, open, last := domain.DeriveState(poll, questions)
	r.state = state
	r.open = open
	r.lastOrder = last
	r.total = len(questions)
	r.loaded = true
	return nil
}

// State reports the current round state of a poll.
func (c *RoundController) State(ctx context.Context, pollID string) (domain.RoundState, error) {
	r, err := c.lockRound(ctx, pollID, false)
	if err != nil {
		return "", err
	}
	defer r.mu.Unlock()
	return r.state, nil
}

// OpenQuestion returns the currently open question of a poll, if any.
func (c *RoundController) OpenQuestion(ctx context.Context, pollID string) (*domain.Question, error) {
	r, err := c.lockRound(ctx, pollID, false)
	if err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	if r.open == nil {
		return nil, nil
	}
	q := *r.open
	return &q, nil
}

// Activate moves a poll with questions into the ready state.
func (c *RoundController) Activate(ctx context.Context, pollID string) error {
	// Questions may have been attached since the last load.
	r, err := c.lockRound(ctx, pollID, true)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	switch r.state {
	case domain.StateFinished:
		return domain.ErrPollFinished
	case domain.StateQuestionOpen:
		return domain.ErrInvalidState
	}
	if r.total == 0 {
		return domain.ErrEmptyPoll
	}
	if err := c.polls.SetActive(ctx, pollID, true); err != nil {
		return &domain.PersistenceError{Op: "activate poll", Err: err}
	}
	r.state = domain.StateReady
	c.logger.Info("poll activated", zap.String("poll_id", pollID), zap.Int("questions", r.total))
	return nil
}

// Join adds a participant to a poll roster. Joining twice is not an error.
func (c *RoundController) Join(ctx context.Context, pollID, participantID string) (domain.JoinResult, error) {
	r, err := c.lockRound(ctx, pollID, false)
	if err != nil {
		return domain.JoinJoined, err
	}
	finished := r.state == domain.StateFinished
	r.mu.Unlock()
	if finished {
		return domain.JoinJoined, domain.ErrPollFinished
	}

	res, err := c.roster.Join(ctx, pollID, participantID, c.now())
	if err != nil {
		return res, err
	}
	c.logger.Info("participant joined",
		zap.String("poll_id", pollID),
		zap.String("participant_id", participantID),
		zap.Stringer("result", res),
	)
	return res, nil
}

// JoinByCode resolves an access code and joins the poll behind it.
func (c *RoundController) JoinByCode(ctx context.Context, code, participantID string) (domain.Poll, domain.JoinResult, error) {
	poll, err := c.polls.GetPollByCode(ctx, code)
	if err != nil {
		return domain.Poll{}, domain.JoinJoined, err
	}
	res, err := c.Join(ctx, poll.ID, participantID)
	return poll, res, err
}

// OpenNext opens the question after the last closed one and broadcasts it to the
// active roster. When no question is left the poll finishes instead. A result with
// domain.ErrNoActiveParticipants is still valid: the question is open.
func (c *RoundController) OpenNext(ctx context.Context, pollID string) (domain.OpenResult, error) {
	result := domain.OpenResult{PollID: pollID}

	q, members, total, finished, err := c.openLocked(ctx, pollID)
	if err != nil {
		return result, err
	}
	if finished {
		result.Finished = true
		return result, nil
	}
	result.Question = &q

	// Delivery runs outside the round lock so the question can be closed meanwhile.
	payload := domain.QuestionPayload{
		PollID:     pollID,
		QuestionID: q.ID,
		Text:       q.Text,
		Options:    append([]string(nil), q.Options...),
		Order:      q.Order,
		Total:      total,
	}
	if len(members) == 0 {
		result.Broadcast = domain.BroadcastResult{Outcomes: []domain.DeliveryOutcome{}}
		c.logger.Warn("question opened with no active participants",
			zap.String("poll_id", pollID), zap.String("question_id", q.ID))
		return result, domain.ErrNoActiveParticipants
	}
	result.Broadcast = c.dispatcher.Broadcast(ctx, members, payload)
	return result, nil
}

func (c *RoundController) openLocked(ctx context.Context, pollID string) (domain.Question, []string, int, bool, error) {
	r, err := c.lockRound(ctx, pollID, false)
	if err != nil {
		return domain.Question{}, nil, 0, false, err
	}
	defer r.mu.Unlock()

	switch r.state {
	case domain.StateFinished:
		return domain.Question{}, nil, 0, false, domain.ErrPollFinished
	case domain.StateDraft, domain.StateQuestionOpen:
		return domain.Question{}, nil, 0, false, domain.ErrInvalidState
	}

	next, ok, err := c.catalog.NextAfter(ctx, pollID, r.lastOrder)
	if err != nil {
		return domain.Question{}, nil, 0, false, err
	}
	if !ok {
		if err := c.finishLocked(ctx, r, pollID); err != nil {
			return domain.Question{}, nil, 0, false, err
		}
		return domain.Question{}, nil, 0, true, nil
	}

	members, err := c.roster.ActiveMembers(ctx, pollID)
	if err != nil {
		return domain.Question{}, nil, 0, false, err
	}
	if err := c.catalog.MarkOpen(ctx, next.ID); err != nil {
		return domain.Question{}, nil, 0, false, &domain.PersistenceError{Op: "open question", Err: err}
	}
	next.Status = domain.QuestionOpen
	open := next
	r.open = &open
	r.state = domain.StateQuestionOpen
	r.lastTally = nil

	c.logger.Info("question opened",
		zap.String("poll_id", pollID),
		zap.String("question_id", next.ID),
		zap.Int("order", next.Order),
		zap.Int("recipients", len(members)),
	)
	return next, members, r.total, false, nil
}

func (c *RoundController) finishLocked(ctx context.Context, r *round, pollID string) error {
	members, err := c.roster.AllMembers(ctx, pollID)
	if err != nil {
		return err
	}
	at := c.now()
	for _, id := range members {
		if err := c.roster.MarkCompleted(ctx, pollID, id, at); err != nil {
			return &domain.PersistenceError{Op: "complete participation", Err: err}
		}
	}
	if err := c.polls.SetActive(ctx, pollID, false); err != nil {
		return &domain.PersistenceError{Op: "finish poll", Err: err}
	}
	r.state = domain.StateFinished
	c.logger.Info("poll finished", zap.String("poll_id", pollID), zap.Int("participants", len(members)))
	return nil
}

// CloseCurrent seals the open question, scores every active participant and
// persists the results. Closing again returns the previous tally together with
// domain.ErrAlreadyClosed. If persistence fails nothing is lost: the question stays
// open and the call can be retried.
func (c *RoundController) CloseCurrent(ctx context.Context, pollID string) (domain.RoundTally, error) {
	r, err := c.lockRound(ctx, pollID, false)
	if err != nil {
		return domain.RoundTally{}, err
	}
	defer r.mu.Unlock()

	switch r.state {
	case domain.StateFinished:
		return domain.RoundTally{}, domain.ErrPollFinished
	case domain.StateDraft:
		return domain.RoundTally{}, domain.ErrInvalidState
	case domain.StateReady:
		return c.previousTallyLocked(ctx, r, pollID)
	}

	q := *r.open
	members, err := c.roster.ActiveMembers(ctx, pollID)
	if err != nil {
		return domain.RoundTally{}, err
	}
	selections, err := c.submissions.Finalize(ctx, q.ID, members)
	if err != nil {
		return domain.RoundTally{}, &domain.PersistenceError{Op: "finalize submissions", Err: err}
	}

	at := c.now()
	records := make([]domain.ScoredRecord, 0, len(selections))
	for _, sel := range selections {
		selected := q.Arrange(sel.Options)
		records = append(records, domain.ScoredRecord{
			PollID:        pollID,
			QuestionID:    q.ID,
			ParticipantID: sel.ParticipantID,
			Selected:      selected,
			Score:         scoring.Score(selected, q.CorrectAnswers),
			CreatedAt:     at,
		})
	}

	if err := c.records.CommitRound(ctx, q.ID, records); err != nil {
		if rerr := c.submissions.Restore(context.WithoutCancel(ctx), q.ID, selections); rerr != nil {
			c.logger.Error("restore submissions after failed commit",
				zap.String("question_id", q.ID), zap.Error(rerr))
		}
		return domain.RoundTally{}, &domain.PersistenceError{Op: "commit round", Err: err}
	}
	if err := c.submissions.Settle(context.WithoutCancel(ctx), q.ID); err != nil {
		c.logger.Warn("settle submissions", zap.String("question_id", q.ID), zap.Error(err))
	}
	if err := c.catalog.MarkClosed(ctx, q.ID); err != nil {
		c.logger.Warn("mark question closed", zap.String("question_id", q.ID), zap.Error(err))
	}

	stored, err := c.records.RecordsForQuestion(ctx, q.ID)
	if err != nil {
		c.logger.Warn("reload scored records", zap.String("question_id", q.ID), zap.Error(err))
		stored = records
	}
	tally := domain.RoundTally{PollID: pollID, QuestionID: q.ID, Order: q.Order, Records: stored}

	r.state = domain.StateReady
	r.open = nil
	r.lastOrder = q.Order
	r.lastTally = &tally

	c.logger.Info("question closed",
		zap.String("poll_id", pollID),
		zap.String("question_id", q.ID),
		zap.Int("records", len(stored)),
	)
	return tally, nil
}

func (c *RoundController) previousTallyLocked(ctx context.Context, r *round, pollID string) (domain.RoundTally, error) {
	if r.lastTally != nil {
		return *r.lastTally, domain.ErrAlreadyClosed
	}
	if r.lastOrder == 0 {
		return domain.RoundTally{}, domain.ErrInvalidState
	}
	// Rebuilt after a restart: read the tally back from the permanent store.
	questions, err := c.catalog.QuestionsFor(ctx, pollID)
	if err != nil {
		return domain.RoundTally{}, err
	}
	for _, q := range questions {
		if q.Order != r.lastOrder {
			continue
		}
		stored, err := c.records.RecordsForQuestion(ctx, q.ID)
		if err != nil {
			return domain.RoundTally{}, err
		}
		tally := domain.RoundTally{PollID: pollID, QuestionID: q.ID, Order: q.Order, Records: stored}
		r.lastTally = &tally
		return tally, domain.ErrAlreadyClosed
	}
	return domain.RoundTally{}, domain.ErrInvalidState
}

// Toggle flips option in the participant's pending selection for an open question
// and returns the resulting set in option order.
func (c *RoundController) Toggle(ctx context.Context, participantID, questionID, option string) ([]string, error) {
	q, err := c.catalog.Question(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if !q.HasOption(option) {
		return nil, domain.ErrOptionNotFound
	}
	if _, err := c.roster.Membership(ctx, q.PollID, participantID); err != nil {
		return nil, err
	}
	if err := c.checkAccepting(ctx, q); err != nil {
		return nil, err
	}

	selected, err := c.submissions.Toggle(ctx, participantID, questionID, option)
	if err != nil {
		return nil, err
	}
	return q.Arrange(selected), nil
}

// Pending returns the participant's current selection for a question.
func (c *RoundController) Pending(ctx context.Context, participantID, questionID string) ([]string, error) {
	q, err := c.catalog.Question(ctx, questionID)
	if err != nil {
		return nil, err
	}
	selected, err := c.submissions.Pending(ctx, participantID, questionID)
	if err != nil {
		return nil, err
	}
	return q.Arrange(selected), nil
}

func (c *RoundController) checkAccepting(ctx context.Context, q domain.Question) error {
	r, err := c.lockRound(ctx, q.PollID, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if accepting(r, q) {
		return nil
	}
	if r.state == domain.StateFinished || q.Order <= r.lastOrder {
		return domain.ErrQuestionClosed
	}
	// Another instance may have opened the question since this round was cached.
	if err := c.loadLocked(ctx, r, q.PollID); err != nil {
		return err
	}
	if accepting(r, q) {
		return nil
	}
	if r.state == domain.StateFinished || q.Order <= r.lastOrder {
		return domain.ErrQuestionClosed
	}
	return domain.ErrInvalidState
}

func accepting(r *round, q domain.Question) bool {
	return r.state == domain.StateQuestionOpen && r.open != nil && r.open.ID == q.ID
}

// Forget drops the cached round of a poll so the next call reloads it.
func (c *RoundController) Forget(pollID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rounds, pollID)
}

// IsRetryable reports whether err came from a storage failure and the operation
// may be repeated.
func IsRetryable(err error) bool {
	var perr *domain.PersistenceError
	return errors.As(err, &perr)
}
