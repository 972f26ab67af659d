package memory

import (
	"context"

	"quiz-round-service/internal/domain"
)

// CommitRound stores new records and closes the question under one lock, so a
// reader never sees records without the closed status or the other way round.
func (s *Store) CommitRound(_ context.Context, questionID string, records []domain.ScoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[questionID]; !ok {
		return domain.ErrQuestionNotFound
	}
	for _, rec := range records {
		key := recordKey{participantID: rec.ParticipantID, questionID: questionID}
		if _, exists := s.records[key]; exists {
			continue
		}
		rec.QuestionID = questionID
		rec.Selected = append([]string{}, rec.Selected...)
		s.records[key] = struct{}{}
		s.byQuestion[questionID] = append(s.byQuestion[questionID], rec)
	}
	return s.markClosedLocked(questionID)
}

func (s *Store) RecordsForQuestion(_ context.Context, questionID string) ([]domain.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.byQuestion[questionID]), nil
}

// RecordsForPoll returns records grouped by question order.
func (s *Store) RecordsForPoll(_ context.Context, pollID string) ([]domain.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ScoredRecord
	for _, qid := range s.pollOrder[pollID] {
		out = append(out, cloneRecords(s.byQuestion[qid])...)
	}
	return out, nil
}

func cloneRecords(in []domain.ScoredRecord) []domain.ScoredRecord {
	out := make([]domain.ScoredRecord, len(in))
	for i, rec := range in {
		rec.Selected = append([]string{}, rec.Selected...)
		out[i] = rec
	}
	return out
}
