package domain

import "time"

// Poll is a quiz instance participants join with an access code.
type Poll struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AccessCode  string    `json:"accessCode"`
	Active      bool      `json:"active"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	QuestionIDs []string  `json:"questionIds"`
}

// PollDraft is the admin input for a new poll.
type PollDraft struct {
	Title       string
	Description string
	AccessCode  string // generated when empty
	CreatedBy   string
}

// QuestionStatus tracks where a question is in its round lifecycle.
type QuestionStatus string

const (
	QuestionPending QuestionStatus = "pending"
	QuestionOpen    QuestionStatus = "open"
	QuestionClosed  QuestionStatus = "closed"
)

// Question models a multiple-choice question. Options are keyed by their text;
// their position is the display order.
type Question struct {
	ID             string         `json:"id"`
	PollID         string         `json:"pollId"`
	Text           string         `json:"text"`
	Options        []string       `json:"options"`
	CorrectAnswers []string       `json:"correctAnswers"`
	Order          int            `json:"order"` // 1-based, contiguous within a poll
	Status         QuestionStatus `json:"status"`
}

// HasOption reports whether option is one of the question's choices.
func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Arrange returns the members of selected that are question options, in option order.
func (q Question) Arrange(selected []string) []string {
	set := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(selected))
	for _, o := range q.Options {
		if _, ok := set[o]; ok {
			out = append(out, o)
			delete(set, o)
		}
	}
	return out
}

// QuestionDraft is one record produced by the question-file parser.
type QuestionDraft struct {
	Text           string
	Options        []string
	CorrectAnswers []string
	Order          int
}

// Participant carries the display and contact metadata of an identity.
type Participant struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// FullName joins first and last name the way reports print it.
func (p Participant) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Participation is the roster entry of one participant in one poll.
type Participation struct {
	PollID        string     `json:"pollId"`
	ParticipantID string     `json:"participantId"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// JoinResult distinguishes a fresh join from a repeated one.
type JoinResult int

const (
	JoinJoined JoinResult = iota
	JoinAlreadyJoined
)

func (r JoinResult) String() string {
	if r == JoinAlreadyJoined {
		return "already_joined"
	}
	return "joined"
}

// Selection is a participant's option set for one question.
type Selection struct {
	ParticipantID string   `json:"participantId"`
	Options       []string `json:"options"`
}

// ScoredRecord is the permanent result of one participant on one question.
type ScoredRecord struct {
	PollID        string    `json:"pollId"`
	QuestionID    string    `json:"questionId"`
	ParticipantID string    `json:"participantId"`
	Selected      []string  `json:"selected"`
	Score         float64   `json:"score"`
	CreatedAt     time.Time `json:"createdAt"`
}

// QuestionPayload is what gets delivered to participants when a question opens.
type QuestionPayload struct {
	PollID     string   `json:"pollId"`
	QuestionID string   `json:"questionId"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Order      int      `json:"order"`
	Total      int      `json:"total"`
}

// DeliveryOutcome is the result of delivering a payload to one recipient.
type DeliveryOutcome struct {
	ParticipantID string `json:"participantId"`
	Delivered     bool   `json:"delivered"`
	Reason        string `json:"reason,omitempty"`
}

// BroadcastResult aggregates per-recipient outcomes.
type BroadcastResult struct {
	Delivered int               `json:"delivered"`
	Total     int               `json:"total"`
	Outcomes  []DeliveryOutcome `json:"outcomes"`
}

// OpenResult describes what OpenNext did.
type OpenResult struct {
	PollID    string          `json:"pollId"`
	Question  *Question       `json:"question,omitempty"`
	Broadcast BroadcastResult `json:"broadcast"`
	Finished  bool            `json:"finished"`
}

// RoundTally is the scored outcome of closing a question.
type RoundTally struct {
	PollID     string         `json:"pollId"`
	QuestionID string         `json:"questionId"`
	Order      int            `json:"order"`
	Records    []ScoredRecord `json:"records"`
}

// NextAfter returns the question with the smallest order greater than order.
func NextAfter(questions []Question, order int) (Question, bool) {
	var next Question
	found := false
	for _, q := range questions {
		if q.Order > order && (!found || q.Order < next.Order) {
			next = q
			found = true
		}
	}
	return next, found
}

// ValidateOrders checks that draft orders form the sequence 1..n.
func ValidateOrders(drafts []QuestionDraft) error {
	seen := make(map[int]bool, len(drafts))
	for _, d := range drafts {
		if d.Order < 1 || d.Order > len(drafts) || seen[d.Order] {
			return ErrInvalidQuestionOrder
		}
		seen[d.Order] = true
	}
	return nil
}
