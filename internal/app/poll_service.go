package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-round-service/internal/domain"
	"quiz-round-service/internal/questionfile"
)

const codeAttempts = 5

// PollService covers authoring: polls, their questions and participant profiles.
type PollService struct {
	polls        PollRepository
	catalog      QuestionCatalog
	participants ParticipantDirectory
	logger       *zap.Logger
	now          func() time.Time
}

func NewPollService(polls PollRepository, catalog QuestionCatalog, participants ParticipantDirectory, logger *zap.Logger) *PollService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollService{polls: polls, catalog: catalog, participants: participants, logger: logger, now: time.Now}
}

// CreatePoll stores a new inactive poll. A missing access code is generated.
func (s *PollService) CreatePoll(ctx context.Context, draft domain.PollDraft) (domain.Poll, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return domain.Poll{}, fmt.Errorf("%w: poll title is required", domain.ErrInvalidInput)
	}
	generated := draft.AccessCode == ""
	attempts := 1
	if generated {
		attempts = codeAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		poll := domain.Poll{
			ID:          uuid.NewString(),
			Title:       draft.Title,
			Description: draft.Description,
			AccessCode:  strings.ToUpper(draft.AccessCode),
			CreatedBy:   draft.CreatedBy,
			CreatedAt:   s.now().UTC(),
		}
		if generated {
			poll.AccessCode = newAccessCode()
		}
		err = s.polls.CreatePoll(ctx, poll)
		if err == nil {
			s.logger.Info("poll created", zap.String("poll_id", poll.ID), zap.String("access_code", poll.AccessCode))
			return poll, nil
		}
		if !errors.Is(err, domain.ErrAccessCodeTaken) {
			return domain.Poll{}, err
		}
	}
	return domain.Poll{}, err
}

// AttachQuestions validates drafts and stores them as the poll's questions.
func (s *PollService) AttachQuestions(ctx context.Context, pollID string, drafts []domain.QuestionDraft) ([]domain.Question, error) {
	if len(drafts) == 0 {
		return nil, domain.ErrEmptyPoll
	}
	if err := domain.ValidateOrders(drafts); err != nil {
		return nil, err
	}
	if _, err := s.polls.GetPoll(ctx, pollID); err != nil {
		return nil, err
	}

	questions := make([]domain.Question, 0, len(drafts))
	for _, d := range drafts {
		if len(d.Options) == 0 {
			return nil, fmt.Errorf("%w: question %d has no options", domain.ErrInvalidInput, d.Order)
		}
		questions = append(questions, domain.Question{
			ID:             uuid.NewString(),
			PollID:         pollID,
			Text:           d.Text,
			Options:        append([]string(nil), d.Options...),
			CorrectAnswers: append([]string(nil), d.CorrectAnswers...),
			Order:          d.Order,
			Status:         domain.QuestionPending,
		})
	}
	if err := s.polls.AttachQuestions(ctx, pollID, questions); err != nil {
		return nil, err
	}
	s.logger.Info("questions attached", zap.String("poll_id", pollID), zap.Int("count", len(questions)))
	return questions, nil
}

// ImportQuestions parses a question file and attaches its questions to the poll.
func (s *PollService) ImportQuestions(ctx context.Context, pollID string, r io.Reader) ([]domain.Question, error) {
	drafts, err := questionfile.Parse(r)
	if err != nil {
		return nil, err
	}
	return s.AttachQuestions(ctx, pollID, drafts)
}

func (s *PollService) Poll(ctx context.Context, pollID string) (domain.Poll, error) {
	return s.polls.GetPoll(ctx, pollID)
}

func (s *PollService) PollByCode(ctx context.Context, code string) (domain.Poll, error) {
	return s.polls.GetPollByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *PollService) Questions(ctx context.Context, pollID string) ([]domain.Question, error) {
	return s.catalog.QuestionsFor(ctx, pollID)
}

// RegisterParticipant creates or updates a participant profile.
func (s *PollService) RegisterParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	if strings.TrimSpace(p.Username) == "" {
		return domain.Participant{}, fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if err := s.participants.UpsertParticipant(ctx, p); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

func (s *PollService) Participant(ctx context.Context, participantID string) (domain.Participant, error) {
	return s.participants.GetParticipant(ctx, participantID)
}

func newAccessCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}
