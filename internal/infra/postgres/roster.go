package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quiz-round-service/internal/domain"
)

// Join inserts the roster row; an existing row means the participant already joined.
func (s *Store) Join(ctx context.Context, pollID, participantID string, at time.Time) (domain.JoinResult, error) {
	row := participationRow{PollID: pollID, ParticipantID: participantID, StartedAt: at}
	res, err := s.db.NewInsert().Model(&row).On("CONFLICT (poll_id, participant_id) DO NOTHING").Exec(ctx)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.JoinJoined, domain.ErrPollNotFound
		}
		return domain.JoinJoined, fmt.Errorf("insert participation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.JoinAlreadyJoined, nil
	}
	return domain.JoinJoined, nil
}

func (s *Store) Membership(ctx context.Context, pollID, participantID string) (domain.Participation, error) {
	var row participationRow
	err := s.db.NewSelect().
		Model(&row).
		Where("poll_id = ?", pollID).
		Where("participant_id = ?", participantID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participation{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participation{}, fmt.Errorf("select participation: %w", err)
	}
	return domain.Participation{
		PollID:        row.PollID,
		ParticipantID: row.ParticipantID,
		StartedAt:     row.StartedAt,
		CompletedAt:   row.CompletedAt,
	}, nil
}

func (s *Store) ActiveMembers(ctx context.Context, pollID string) ([]string, error) {
	return s.members(ctx, pollID, true)
}

func (s *Store) AllMembers(ctx context.Context, pollID string) ([]string, error) {
	return s.members(ctx, pollID, false)
}

func (s *Store) members(ctx context.Context, pollID string, activeOnly bool) ([]string, error) {
	q := s.db.NewSelect().
		Model((*participationRow)(nil)).
		Column("participant_id").
		Where("poll_id = ?", pollID)
	if activeOnly {
		q = q.Where("completed_at IS NULL")
	}
	ids := []string{}
	if err := q.Order("started_at ASC", "participant_id ASC").Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	return ids, nil
}

// MarkCompleted keeps the first completion timestamp.
func (s *Store) MarkCompleted(ctx context.Context, pollID, participantID string, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*participationRow)(nil)).
		Set("completed_at = ?", at).
		Where("poll_id = ?", pollID).
		Where("participant_id = ?", participantID).
		Where("completed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update participation: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.Membership(ctx, pollID, participantID)
	return err
}
