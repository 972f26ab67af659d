package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPollNotFound is returned when a poll id or access code does not resolve.
	ErrPollNotFound = errors.New("poll not found")
	// ErrQuestionNotFound indicates a question id is unknown.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a user acts on a poll before joining it.
	ErrParticipantNotFound = errors.New("participant not found in poll")
	// ErrOptionNotFound indicates a selected option is not part of the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrAccessCodeTaken is returned when a poll is created with a code already in use.
	ErrAccessCodeTaken = errors.New("access code already in use")
	// ErrQuestionsAttached is returned when questions are attached to a poll twice.
	ErrQuestionsAttached = errors.New("poll already has questions")
	// ErrInvalidInput marks a request rejected by validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidQuestionOrder indicates question orders are not 1..n.
	ErrInvalidQuestionOrder = errors.New("question order must start at 1 and be contiguous")

	// ErrNoActiveParticipants warns that a question opened with nobody to deliver to.
	ErrNoActiveParticipants = errors.New("no active participants")
	// ErrQuestionClosed rejects a submission that arrives after close.
	ErrQuestionClosed = errors.New("question is closed")
	// ErrAlreadyClosed reports a repeated close; the previous tally is returned with it.
	ErrAlreadyClosed = errors.New("question already closed")

	// ErrEmptyPoll is returned when activating a poll without questions.
	ErrEmptyPoll = errors.New("poll has no questions")
	// ErrPollFinished is returned for round operations on a finished poll.
	ErrPollFinished = errors.New("poll is finished")
	// ErrInvalidState is returned when an operation is not valid in the current round state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrRecipientUnreachable is a delivery failure reason for participants with no live channel.
	ErrRecipientUnreachable = errors.New("recipient unreachable")
)

// IsNonFatal reports whether err accompanies a usable result and is only a warning.
func IsNonFatal(err error) bool {
	return errors.Is(err, ErrNoActiveParticipants) || errors.Is(err, ErrAlreadyClosed)
}

// DeliveryError records why a payload did not reach one recipient.
type DeliveryError struct {
	ParticipantID string
	Reason        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ParticipantID, e.Reason)
}

func (e *DeliveryError) Unwrap() error { return e.Reason }

// PersistenceError wraps a storage failure that aborted a state transition.
// The transition can be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
