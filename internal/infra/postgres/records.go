package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"quiz-round-service/internal/domain"
)

// CommitRound writes the round's records and closes the question in one
// transaction. Pairs that already have a record keep it.
func (s *Store) CommitRound(ctx context.Context, questionID string, records []domain.ScoredRecord) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(records) > 0 {
			rows := make([]scoredRecordRow, 0, len(records))
			for _, rec := range records {
				rows = append(rows, scoredRecordRow{
					PollID:        rec.PollID,
					QuestionID:    questionID,
					ParticipantID: rec.ParticipantID,
					Selected:      append([]string{}, rec.Selected...),
					Score:         rec.Score,
					CreatedAt:     rec.CreatedAt,
				})
			}
			_, err := tx.NewInsert().
				Model(&rows).
				ExcludeColumn("id").
				Returning("NULL").
				On("CONFLICT (participant_id, question_id) DO NOTHING").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("insert scored records: %w", err)
			}
		}
		res, err := tx.NewUpdate().
			Model((*questionRow)(nil)).
			Set("status = ?", string(domain.QuestionClosed)).
			Where("id = ?", questionID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("close question: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrQuestionNotFound
		}
		return nil
	})
}

func (s *Store) RecordsForQuestion(ctx context.Context, questionID string) ([]domain.ScoredRecord, error) {
	var rows []scoredRecordRow
	err := s.db.NewSelect().Model(&rows).Where("question_id = ?", questionID).Order("id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select scored records: %w", err)
	}
	return toRecords(rows), nil
}

// RecordsForPoll returns records grouped by question position.
func (s *Store) RecordsForPoll(ctx context.Context, pollID string) ([]domain.ScoredRecord, error) {
	var rows []scoredRecordRow
	err := s.db.NewSelect().
		Model(&rows).
		Join("JOIN questions AS q ON q.id = sr.question_id").
		Where("sr.poll_id = ?", pollID).
		Order("q.position ASC", "sr.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select scored records: %w", err)
	}
	return toRecords(rows), nil
}

func toRecords(rows []scoredRecordRow) []domain.ScoredRecord {
	out := make([]domain.ScoredRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}
