// Package report turns a finished poll's scored records into a tabular export.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quiz-round-service/internal/domain"
)

// NotAnswered marks a question a participant has no record for.
const NotAnswered = "N/A"

type PollSource interface {
	GetPoll(ctx context.Context, pollID string) (domain.Poll, error)
}

type QuestionSource interface {
	QuestionsFor(ctx context.Context, pollID string) ([]domain.Question, error)
}

type RosterSource interface {
	AllMembers(ctx context.Context, pollID string) ([]string, error)
}

type RecordSource interface {
	RecordsForPoll(ctx context.Context, pollID string) ([]domain.ScoredRecord, error)
}

type Directory interface {
	GetParticipant(ctx context.Context, participantID string) (domain.Participant, error)
}

// Report is the aggregated result of one poll.
type Report struct {
	Poll        domain.Poll       `json:"poll"`
	Questions   []domain.Question `json:"questions"`
	Rows        []Row             `json:"rows"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// Row is one participant's line in the results sheet.
type Row struct {
	ParticipantID string   `json:"participantId"`
	FullName      string   `json:"fullName"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	Total         float64  `json:"total"`
	Answers       []Answer `json:"answers"`
}

// Answer is a participant's result on one question. Answered is false when no
// record exists.
type Answer struct {
	Order    int      `json:"order"`
	Answered bool     `json:"answered"`
	Selected []string `json:"selected"`
	Correct  []string `json:"correct"`
	Score    float64  `json:"score"`
}

// Aggregator builds reports from the durable stores.
type Aggregator struct {
	polls     PollSource
	questions QuestionSource
	roster    RosterSource
	records   RecordSource
	directory Directory
	logger    *zap.Logger
	now       func() time.Time
}

func NewAggregator(polls PollSource, questions QuestionSource, roster RosterSource, records RecordSource, directory Directory, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		polls:     polls,
		questions: questions,
		roster:    roster,
		records:   records,
		directory: directory,
		logger:    logger,
		now:       time.Now,
	}
}

// Build collects every roster member in join order with their per-question answers.
func (a *Aggregator) Build(ctx context.Context, pollID string) (Report, error) {
	poll, err := a.polls.GetPoll(ctx, pollID)
	if err != nil {
		return Report{}, err
	}
	questions, err := a.questions.QuestionsFor(ctx, pollID)
	if err != nil {
		return Report{}, fmt.Errorf("load questions: %w", err)
	}
	members, err := a.roster.AllMembers(ctx, pollID)
	if err != nil {
		return Report{}, fmt.Errorf("load roster: %w", err)
	}
	records, err := a.records.RecordsForPoll(ctx, pollID)
	if err != nil {
		return Report{}, fmt.Errorf("load records: %w", err)
	}

	type key struct{ participant, question string }
	byPair := make(map[key]domain.ScoredRecord, len(records))
	for _, rec := range records {
		byPair[key{rec.ParticipantID, rec.QuestionID}] = rec
	}

	rows := make([]Row, 0, len(members))
	for _, id := range members {
		row := Row{ParticipantID: id, Username: id}
		p, err := a.directory.GetParticipant(ctx, id)
		switch {
		case err == nil:
			row.FullName = p.FullName()
			row.Email = p.Email
			if p.Username != "" {
				row.Username = p.Username
			}
		case errors.Is(err, domain.ErrParticipantNotFound):
			a.logger.Warn("participant profile missing from report", zap.String("participant_id", id))
		default:
			return Report{}, fmt.Errorf("load participant %s: %w", id, err)
		}

		row.Answers = make([]Answer, 0, len(questions))
		for _, q := range questions {
			ans := Answer{Order: q.Order, Correct: append([]string{}, q.CorrectAnswers...)}
			if rec, ok := byPair[key{id, q.ID}]; ok {
				ans.Answered = true
				ans.Selected = append([]string{}, rec.Selected...)
				ans.Score = rec.Score
				row.Total += rec.Score
			}
			row.Answers = append(row.Answers, ans)
		}
		rows = append(rows, row)
	}

	a.logger.Info("report built",
		zap.String("poll_id", pollID),
		zap.Int("questions", len(questions)),
		zap.Int("participants", len(rows)),
	)
	return Report{Poll: poll, Questions: questions, Rows: rows, GeneratedAt: a.now().UTC()}, nil
}
