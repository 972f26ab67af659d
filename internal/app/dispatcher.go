package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-round-service/internal/domain"
)

// DispatcherOptions bounds broadcast fan-out.
type DispatcherOptions struct {
	// Concurrency caps in-flight deliveries; zero means one goroutine per recipient.
	Concurrency int
	// Timeout applies to each delivery; zero disables it.
	Timeout time.Duration
}

// Dispatcher fans a question payload out to a set of recipients.
type Dispatcher struct {
	deliverer Deliverer
	opts      DispatcherOptions
	logger    *zap.Logger
}

func NewDispatcher(deliverer Deliverer, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{deliverer: deliverer, opts: opts, logger: logger}
}

// Broadcast delivers payload to every recipient concurrently and waits for all of
// them. A failed recipient never stops the others. Outcomes keep recipient order.
func (d *Dispatcher) Broadcast(ctx context.Context, recipients []string, payload domain.QuestionPayload) domain.BroadcastResult {
	outcomes := make([]domain.DeliveryOutcome, len(recipients))

	var g errgroup.Group
	if d.opts.Concurrency > 0 {
		g.SetLimit(d.opts.Concurrency)
	}
	for i, id := range recipients {
		i, id := i, id
		g.Go(func() error {
			outcomes[i] = d.deliverOne(ctx, id, payload)
			return nil
		})
	}
	_ = g.Wait()

	result := domain.BroadcastResult{Total: len(recipients), Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Delivered {
			result.Delivered++
		}
	}
	d.logger.Info("broadcast finished",
		zap.String("poll_id", payload.PollID),
		zap.String("question_id", payload.QuestionID),
		zap.Int("delivered", result.Delivered),
		zap.Int("total", result.Total),
	)
	return result
}

func (d *Dispatcher) deliverOne(ctx context.Context, participantID string, payload domain.QuestionPayload) (outcome domain.DeliveryOutcome) {
	outcome.ParticipantID = participantID
	defer func() {
		if r := recover(); r != nil {
			outcome.Delivered = false
			outcome.Reason = fmt.Sprintf("deliverer panic: %v", r)
			d.logger.Error("deliverer panicked", zap.String("participant_id", participantID), zap.Any("panic", r))
		}
	}()

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	if err := d.deliverer.Deliver(ctx, participantID, payload); err != nil {
		derr := &domain.DeliveryError{ParticipantID: participantID, Reason: err}
		outcome.Reason = err.Error()
		d.logger.Warn("delivery failed",
			zap.String("question_id", payload.QuestionID),
			zap.Error(derr),
		)
		return outcome
	}
	outcome.Delivered = true
	return outcome
}
