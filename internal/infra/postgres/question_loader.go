package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-round-service/internal/domain"
)

// QuestionLoader reads questions straight from Postgres with pgx. It is the read
// path behind the catalog caches.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

const questionColumns = `id, poll_id, text, options, correct_answers, position, status`

func (l *QuestionLoader) LoadQuestions(ctx context.Context, pollID string) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+questionColumns+` FROM questions WHERE poll_id=$1 ORDER BY position`, pollID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(out) == 0 {
		var exists bool
		if err := l.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM polls WHERE id=$1)`, pollID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("load poll: %w", err)
		}
		if !exists {
			return nil, domain.ErrPollNotFound
		}
	}
	return out, nil
}

func (l *QuestionLoader) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=$1`, questionID)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, err
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q              domain.Question
		status         string
		options, right []byte
	)
	if err := row.Scan(&q.ID, &q.PollID, &q.Text, &options, &right, &q.Order, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Question{}, err
		}
		return domain.Question{}, fmt.Errorf("scan question: %w", err)
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := json.Unmarshal(right, &q.CorrectAnswers); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal correct answers: %w", err)
	}
	q.Status = domain.QuestionStatus(status)
	return q, nil
}
