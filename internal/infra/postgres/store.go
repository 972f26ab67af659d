package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-round-service/internal/domain"
)

// Open connects bun to Postgres through pgdriver.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Store is the durable implementation of the poll, catalog, roster, participant
// and scored-record stores.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

type pollRow struct {
	bun.BaseModel `bun:"table:polls"`

	ID          string    `bun:"id,pk"`
	Title       string    `bun:"title"`
	Description string    `bun:"description"`
	AccessCode  string    `bun:"access_code"`
	Active      bool      `bun:"active"`
	CreatedBy   string    `bun:"created_by"`
	CreatedAt   time.Time `bun:"created_at"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID             string   `bun:"id,pk"`
	PollID         string   `bun:"poll_id"`
	Text           string   `bun:"text"`
	Options        []string `bun:"options,type:jsonb"`
	CorrectAnswers []string `bun:"correct_answers,type:jsonb"`
	Position       int      `bun:"position"`
	Status         string   `bun:"status"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:participants"`

	ID        string    `bun:"id,pk"`
	Username  string    `bun:"username"`
	FirstName string    `bun:"first_name"`
	LastName  string    `bun:"last_name"`
	Phone     string    `bun:"phone"`
	Email     string    `bun:"email"`
	CreatedAt time.Time `bun:"created_at"`
}

type participationRow struct {
	bun.BaseModel `bun:"table:participations"`

	PollID        string     `bun:"poll_id,pk"`
	ParticipantID string     `bun:"participant_id,pk"`
	StartedAt     time.Time  `bun:"started_at"`
	CompletedAt   *time.Time `bun:"completed_at"`
}

type scoredRecordRow struct {
	bun.BaseModel `bun:"table:scored_records,alias:sr"`

	ID            int64     `bun:"id,pk,autoincrement"`
	PollID        string    `bun:"poll_id"`
	QuestionID    string    `bun:"question_id"`
	ParticipantID string    `bun:"participant_id"`
	Selected      []string  `bun:"selected,type:jsonb"`
	Score         float64   `bun:"score"`
	CreatedAt     time.Time `bun:"created_at"`
}

func (r pollRow) toDomain() domain.Poll {
	return domain.Poll{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		AccessCode:  r.AccessCode,
		Active:      r.Active,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

func (r questionRow) toDomain() domain.Question {
	return domain.Question{
		ID:             r.ID,
		PollID:         r.PollID,
		Text:           r.Text,
		Options:        append([]string{}, r.Options...),
		CorrectAnswers: append([]string{}, r.CorrectAnswers...),
		Order:          r.Position,
		Status:         domain.QuestionStatus(r.Status),
	}
}

func (r scoredRecordRow) toDomain() domain.ScoredRecord {
	return domain.ScoredRecord{
		PollID:        r.PollID,
		QuestionID:    r.QuestionID,
		ParticipantID: r.ParticipantID,
		Selected:      append([]string{}, r.Selected...),
		Score:         r.Score,
		CreatedAt:     r.CreatedAt,
	}
}

func (s *Store) CreatePoll(ctx context.Context, poll domain.Poll) error {
	row := pollRow{
		ID:          poll.ID,
		Title:       poll.Title,
		Description: poll.Description,
		AccessCode:  poll.AccessCode,
		Active:      poll.Active,
		CreatedBy:   poll.CreatedBy,
		CreatedAt:   poll.CreatedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAccessCodeTaken
		}
		return fmt.Errorf("insert poll: %w", err)
	}
	return nil
}

func (s *Store) GetPoll(ctx context.Context, pollID string) (domain.Poll, error) {
	var row pollRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", pollID).Scan(ctx)
	return s.withQuestionIDs(ctx, row, err)
}

func (s *Store) GetPollByCode(ctx context.Context, code string) (domain.Poll, error) {
	var row pollRow
	err := s.db.NewSelect().Model(&row).Where("access_code = ?", code).Scan(ctx)
	return s.withQuestionIDs(ctx, row, err)
}

func (s *Store) withQuestionIDs(ctx context.Context, row pollRow, err error) (domain.Poll, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Poll{}, domain.ErrPollNotFound
	}
	if err != nil {
		return domain.Poll{}, fmt.Errorf("select poll: %w", err)
	}
	poll := row.toDomain()
	err = s.db.NewSelect().
		Model((*questionRow)(nil)).
		Column("id").
		Where("poll_id = ?", row.ID).
		Order("position ASC").
		Scan(ctx, &poll.QuestionIDs)
	if err != nil {
		return domain.Poll{}, fmt.Errorf("select question ids: %w", err)
	}
	return poll, nil
}

func (s *Store) SetActive(ctx context.Context, pollID string, active bool) error {
	res, err := s.db.NewUpdate().
		Model((*pollRow)(nil)).
		Set("active = ?", active).
		Where("id = ?", pollID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update poll: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPollNotFound
	}
	return nil
}

// AttachQuestions inserts all questions in one transaction after locking the poll row.
func (s *Store) AttachQuestions(ctx context.Context, pollID string, questions []domain.Question) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var poll pollRow
		err := tx.NewSelect().Model(&poll).Where("id = ?", pollID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrPollNotFound
		}
		if err != nil {
			return fmt.Errorf("lock poll: %w", err)
		}
		existing, err := tx.NewSelect().Model((*questionRow)(nil)).Where("poll_id = ?", pollID).Count(ctx)
		if err != nil {
			return fmt.Errorf("count questions: %w", err)
		}
		if existing > 0 {
			return domain.ErrQuestionsAttached
		}
		if len(questions) == 0 {
			return nil
		}

		rows := make([]questionRow, 0, len(questions))
		for _, q := range questions {
			status := string(q.Status)
			if status == "" {
				status = string(domain.QuestionPending)
			}
			rows = append(rows, questionRow{
				ID:             q.ID,
				PollID:         pollID,
				Text:           q.Text,
				Options:        q.Options,
				CorrectAnswers: q.CorrectAnswers,
				Position:       q.Order,
				Status:         status,
			})
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrInvalidQuestionOrder
			}
			return fmt.Errorf("insert questions: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertParticipant(ctx context.Context, p domain.Participant) error {
	row := participantRow{
		ID:        p.ID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Phone:     p.Phone,
		Email:     p.Email,
		CreatedAt: p.CreatedAt,
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("phone = EXCLUDED.phone").
		Set("email = EXCLUDED.email").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	var row participantRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", participantID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("select participant: %w", err)
	}
	return domain.Participant{
		ID:        row.ID,
		Username:  row.Username,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Phone:     row.Phone,
		Email:     row.Email,
		CreatedAt: row.CreatedAt,
	}, nil
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func pgCode(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}
