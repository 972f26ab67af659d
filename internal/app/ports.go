package app

import (
	"context"
	"time"

	"quiz-round-service/internal/domain"
)

// PollRepository stores polls and attaches their questions.
type PollRepository interface {
	CreatePoll(ctx context.Context, poll domain.Poll) error
	GetPoll(ctx context.Context, pollID string) (domain.Poll, error)
	GetPollByCode(ctx context.Context, code string) (domain.Poll, error)
	SetActive(ctx context.Context, pollID string, active bool) error
	// AttachQuestions stores all questions at once; a poll accepts questions only once.
	AttachQuestions(ctx context.Context, pollID string, questions []domain.Question) error
}

// QuestionCatalog serves a poll's ordered questions and their open/closed status.
// MarkOpen and MarkClosed are idempotent.
type QuestionCatalog interface {
	QuestionsFor(ctx context.Context, pollID string) ([]domain.Question, error)
	NextAfter(ctx context.Context, pollID string, order int) (domain.Question, bool, error)
	Question(ctx context.Context, questionID string) (domain.Question, error)
	MarkOpen(ctx context.Context, questionID string) error
	MarkClosed(ctx context.Context, questionID string) error
}

// Roster tracks who joined a poll and who finished it.
type Roster interface {
	Join(ctx context.Context, pollID, participantID string, at time.Time) (domain.JoinResult, error)
	Membership(ctx context.Context, pollID, participantID string) (domain.Participation, error)
	ActiveMembers(ctx context.Context, pollID string) ([]string, error)
	AllMembers(ctx context.Context, pollID string) ([]string, error)
	// MarkCompleted keeps the first completion timestamp.
	MarkCompleted(ctx context.Context, pollID, participantID string, at time.Time) error
}

// SubmissionStore holds pending selections until a question is finalized.
type SubmissionStore interface {
	Toggle(ctx context.Context, participantID, questionID, option string) ([]string, error)
	Pending(ctx context.Context, participantID, questionID string) ([]string, error)
	// Finalize drains one selection per member (empty when unanswered) and seals the
	// question so later toggles fail with domain.ErrQuestionClosed. The drained
	// snapshot is kept: calling Finalize again before Settle returns it unchanged.
	Finalize(ctx context.Context, questionID string, members []string) ([]domain.Selection, error)
	// Restore undoes Finalize after a failed commit.
	Restore(ctx context.Context, questionID string, selections []domain.Selection) error
	// Settle discards the snapshot once the round's records are committed.
	Settle(ctx context.Context, questionID string) error
}

// ScoredRecordStore owns the permanent results.
type ScoredRecordStore interface {
	// CommitRound writes records and closes the question in one transaction.
	// Pairs that already have a record are left untouched.
	CommitRound(ctx context.Context, questionID string, records []domain.ScoredRecord) error
	RecordsForQuestion(ctx context.Context, questionID string) ([]domain.ScoredRecord, error)
	RecordsForPoll(ctx context.Context, pollID string) ([]domain.ScoredRecord, error)
}

// ParticipantDirectory keeps participant display and contact data.
type ParticipantDirectory interface {
	UpsertParticipant(ctx context.Context, participant domain.Participant) error
	GetParticipant(ctx context.Context, participantID string) (domain.Participant, error)
}

// Deliverer pushes a question to one participant over whatever transport is in use.
type Deliverer interface {
	Deliver(ctx context.Context, participantID string, payload domain.QuestionPayload) error
}
