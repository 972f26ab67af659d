package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"quiz-round-service/internal/domain"
)

func (s *Store) QuestionsFor(ctx context.Context, pollID string) ([]domain.Question, error) {
	var rows []questionRow
	err := s.db.NewSelect().Model(&rows).Where("poll_id = ?", pollID).Order("position ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	if len(rows) == 0 {
		exists, err := s.db.NewSelect().Model((*pollRow)(nil)).Where("id = ?", pollID).Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("select poll: %w", err)
		}
		if !exists {
			return nil, domain.ErrPollNotFound
		}
	}
	out := make([]domain.Question, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) NextAfter(ctx context.Context, pollID string, order int) (domain.Question, bool, error) {
	var row questionRow
	err := s.db.NewSelect().
		Model(&row).
		Where("poll_id = ?", pollID).
		Where("position > ?", order).
		Order("position ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Question{}, false, nil
	}
	if err != nil {
		return domain.Question{}, false, fmt.Errorf("select next question: %w", err)
	}
	return row.toDomain(), true, nil
}

func (s *Store) Question(ctx context.Context, questionID string) (domain.Question, error) {
	var row questionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", questionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("select question: %w", err)
	}
	return row.toDomain(), nil
}

// MarkOpen only moves pending questions; a closed question is never reopened.
func (s *Store) MarkOpen(ctx context.Context, questionID string) error {
	return s.setStatus(ctx, questionID, domain.QuestionOpen, string(domain.QuestionPending))
}

func (s *Store) MarkClosed(ctx context.Context, questionID string) error {
	return s.setStatus(ctx, questionID, domain.QuestionClosed, string(domain.QuestionPending), string(domain.QuestionOpen))
}

func (s *Store) setStatus(ctx context.Context, questionID string, to domain.QuestionStatus, from ...string) error {
	res, err := s.db.NewUpdate().
		Model((*questionRow)(nil)).
		Set("status = ?", string(to)).
		Where("id = ?", questionID).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update question status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	exists, err := s.db.NewSelect().Model((*questionRow)(nil)).Where("id = ?", questionID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("select question: %w", err)
	}
	if !exists {
		return domain.ErrQuestionNotFound
	}
	return nil
}
