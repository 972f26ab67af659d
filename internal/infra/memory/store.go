package memory

import (
	"context"
	"sync"

	"quiz-round-service/internal/domain"
)

// Store keeps polls, questions, rosters, participants and scored records in
// process memory. It backs single-instance deployments and tests.
type Store struct {
	mu sync.RWMutex

	polls        map[string]domain.Poll
	codes        map[string]string // access code -> poll id
	questions    map[string]domain.Question
	pollOrder    map[string][]string // poll id -> question ids by order
	participants map[string]domain.Participant

	roster     map[string]map[string]*domain.Participation
	joinOrder  map[string][]string
	records    map[recordKey]struct{}
	byQuestion map[string][]domain.ScoredRecord
}

type recordKey struct {
	participantID string
	questionID    string
}

func NewStore() *Store {
	return &Store{
		polls:        make(map[string]domain.Poll),
		codes:        make(map[string]string),
		questions:    make(map[string]domain.Question),
		pollOrder:    make(map[string][]string),
		participants: make(map[string]domain.Participant),
		roster:       make(map[string]map[string]*domain.Participation),
		joinOrder:    make(map[string][]string),
		records:      make(map[recordKey]struct{}),
		byQuestion:   make(map[string][]domain.ScoredRecord),
	}
}

func (s *Store) CreatePoll(_ context.Context, poll domain.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[poll.AccessCode]; taken {
		return domain.ErrAccessCodeTaken
	}
	poll.QuestionIDs = nil
	s.polls[poll.ID] = poll
	s.codes[poll.AccessCode] = poll.ID
	return nil
}

func (s *Store) GetPoll(_ context.Context, pollID string) (domain.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pollLocked(pollID)
}

func (s *Store) GetPollByCode(_ context.Context, code string) (domain.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return domain.Poll{}, domain.ErrPollNotFound
	}
	return s.pollLocked(id)
}

func (s *Store) pollLocked(pollID string) (domain.Poll, error) {
	poll, ok := s.polls[pollID]
	if !ok {
		return domain.Poll{}, domain.ErrPollNotFound
	}
	poll.QuestionIDs = append([]string(nil), s.pollOrder[pollID]...)
	return poll, nil
}

func (s *Store) SetActive(_ context.Context, pollID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	poll, ok := s.polls[pollID]
	if !ok {
		return domain.ErrPollNotFound
	}
	poll.Active = active
	s.polls[pollID] = poll
	return nil
}

func (s *Store) AttachQuestions(_ context.Context, pollID string, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[pollID]; !ok {
		return domain.ErrPollNotFound
	}
	if len(s.pollOrder[pollID]) > 0 {
		return domain.ErrQuestionsAttached
	}
	ids := make([]string, len(questions))
	for _, q := range questions {
		if q.Order < 1 || q.Order > len(questions) || ids[q.Order-1] != "" {
			return domain.ErrInvalidQuestionOrder
		}
		ids[q.Order-1] = q.ID
	}
	for _, q := range questions {
		q.PollID = pollID
		if q.Status == "" {
			q.Status = domain.QuestionPending
		}
		s.questions[q.ID] = cloneQuestion(q)
	}
	s.pollOrder[pollID] = ids
	return nil
}

func (s *Store) UpsertParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.participants[p.ID]; ok && p.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}
	s.participants[p.ID] = p
	return nil
}

func (s *Store) GetParticipant(_ context.Context, participantID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Options = append([]string(nil), q.Options...)
	q.CorrectAnswers = append([]string(nil), q.CorrectAnswers...)
	return q
}
