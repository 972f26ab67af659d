package memory

import (
	"context"
	"sync"

	"quiz-round-service/internal/domain"
)

// SubmissionStore is an in-memory implementation of app.SubmissionStore.
// Each question has its own slot and lock, so toggles on different questions
// never contend and Finalize is atomic against toggles on the same question.
type SubmissionStore struct {
	mu    sync.RWMutex
	slots map[string]*questionSlot
}

type questionSlot struct {
	mu      sync.Mutex
	sealed  bool
	pending map[string][]string // participant id -> toggled options
	drained []domain.Selection  // kept from Finalize until Settle or Restore
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		slots: make(map[string]*questionSlot),
	}
}

func (s *SubmissionStore) getOrCreate(questionID string) *questionSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.slots[questionID]; ok {
		return slot
	}
	slot := &questionSlot{pending: make(map[string][]string)}
	s.slots[questionID] = slot
	return slot
}

func (s *SubmissionStore) get(questionID string) (*questionSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[questionID]
	return slot, ok
}

// Toggle adds option to the selection or removes it when already selected.
func (s *SubmissionStore) Toggle(_ context.Context, participantID, questionID, option string) ([]string, error) {
	slot := s.getOrCreate(questionID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.sealed {
		return nil, domain.ErrQuestionClosed
	}

	current := slot.pending[participantID]
	next := make([]string, 0, len(current)+1)
	removed := false
	for _, o := range current {
		if o == option {
			removed = true
			continue
		}
		next = append(next, o)
	}
	if !removed {
		next = append(next, option)
	}
	if len(next) == 0 {
		delete(slot.pending, participantID)
	} else {
		slot.pending[participantID] = next
	}
	return append([]string{}, next...), nil
}

func (s *SubmissionStore) Pending(_ context.Context, participantID, questionID string) ([]string, error) {
	slot, ok := s.get(questionID)
	if !ok {
		return []string{}, nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return append([]string{}, slot.pending[participantID]...), nil
}

// Finalize drains the question and seals it. Members appear once each, in the
// given order, with an empty selection when they never answered. While the
// question stays sealed and unsettled, later calls return the same snapshot.
func (s *SubmissionStore) Finalize(_ context.Context, questionID string, members []string) ([]domain.Selection, error) {
	slot := s.getOrCreate(questionID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.sealed {
		return cloneSelections(slot.drained), nil
	}
	slot.sealed = true

	seen := make(map[string]struct{}, len(members))
	out := make([]domain.Selection, 0, len(members))
	for _, id := range members {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, domain.Selection{ParticipantID: id, Options: append([]string{}, slot.pending[id]...)})
	}
	slot.pending = make(map[string][]string)
	slot.drained = cloneSelections(out)
	return out, nil
}

// Restore reopens a sealed question and puts drained selections back.
func (s *SubmissionStore) Restore(_ context.Context, questionID string, selections []domain.Selection) error {
	slot := s.getOrCreate(questionID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.sealed = false
	slot.drained = nil
	for _, sel := range selections {
		if len(sel.Options) == 0 {
			continue
		}
		slot.pending[sel.ParticipantID] = append([]string{}, sel.Options...)
	}
	return nil
}

// Settle drops the drained snapshot once its records are committed. The
// question stays sealed.
func (s *SubmissionStore) Settle(_ context.Context, questionID string) error {
	slot, ok := s.get(questionID)
	if !ok {
		return nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.drained = nil
	return nil
}

func cloneSelections(in []domain.Selection) []domain.Selection {
	out := make([]domain.Selection, len(in))
	for i, sel := range in {
		out[i] = domain.Selection{ParticipantID: sel.ParticipantID, Options: append([]string{}, sel.Options...)}
	}
	return out
}
