package domain

// RoundState is the lifecycle state of a poll's question rounds.
type RoundState string

const (
	StateDraft        RoundState = "draft"
	StateReady        RoundState = "ready"
	StateQuestionOpen RoundState = "question_open"
	StateFinished     RoundState = "finished"
)

// DeriveState rebuilds the round state of a poll from durable data. It returns the
// state, the open question (if any) and the highest order already closed.
func DeriveState(poll Poll, questions []Question) (RoundState, *Question, int) {
	lastClosed := 0
	allClosed := len(questions) > 0
	var open *Question
	for i := range questions {
		q := questions[i]
		switch q.Status {
		case QuestionOpen:
			open = &q
			allClosed = false
		case QuestionClosed:
			if q.Order > lastClosed {
				lastClosed = q.Order
			}
		default:
			allClosed = false
		}
	}
	switch {
	case open != nil:
		return StateQuestionOpen, open, lastClosed
	case poll.Active:
		return StateReady, nil, lastClosed
	case allClosed:
		return StateFinished, nil, lastClosed
	default:
		return StateDraft, nil, lastClosed
	}
}
