package memory

import (
	"context"
	"time"

	"quiz-round-service/internal/domain"
)

func (s *Store) Join(_ context.Context, pollID, participantID string, at time.Time) (domain.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[pollID]; !ok {
		return domain.JoinJoined, domain.ErrPollNotFound
	}
	members, ok := s.roster[pollID]
	if !ok {
		members = make(map[string]*domain.Participation)
		s.roster[pollID] = members
	}
	if _, joined := members[participantID]; joined {
		return domain.JoinAlreadyJoined, nil
	}
	members[participantID] = &domain.Participation{PollID: pollID, ParticipantID: participantID, StartedAt: at}
	s.joinOrder[pollID] = append(s.joinOrder[pollID], participantID)
	return domain.JoinJoined, nil
}

func (s *Store) Membership(_ context.Context, pollID, participantID string) (domain.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.roster[pollID][participantID]
	if !ok {
		return domain.Participation{}, domain.ErrParticipantNotFound
	}
	return copyParticipation(p), nil
}

// ActiveMembers lists participants that joined and have not completed, in join order.
func (s *Store) ActiveMembers(_ context.Context, pollID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.joinOrder[pollID]))
	for _, id := range s.joinOrder[pollID] {
		if s.roster[pollID][id].CompletedAt == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) AllMembers(_ context.Context, pollID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.joinOrder[pollID]...), nil
}

func (s *Store) MarkCompleted(_ context.Context, pollID, participantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.roster[pollID][participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if p.CompletedAt == nil {
		completed := at
		p.CompletedAt = &completed
	}
	return nil
}

func copyParticipation(p *domain.Participation) domain.Participation {
	out := *p
	if p.CompletedAt != nil {
		completed := *p.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}
