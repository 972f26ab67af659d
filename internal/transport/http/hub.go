package http

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"quiz-round-service/internal/domain"
)

var errSendBufferFull = errors.New("send buffer full")

// RemoteSubscriber routes questions published by other instances to this hub.
type RemoteSubscriber interface {
	SubscribeParticipant(participantID string, handler func(domain.QuestionPayload)) (cancel func(), err error)
}

// Hub tracks the participant sockets connected to this instance. It implements
// app.Deliverer for local delivery.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{} // participant id -> open sockets
	subs    map[string]func()
	remote  RemoteSubscriber
	logger  *zap.Logger
}

func NewHub(remote RemoteSubscriber, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		subs:    make(map[string]func()),
		remote:  remote,
		logger:  logger,
	}
}

// Register adds a socket. The first socket of a participant starts the remote
// subscription for them.
func (h *Hub) Register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.participantID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[c.participantID] = set
		if h.remote != nil {
			id := c.participantID
			cancel, err := h.remote.SubscribeParticipant(id, func(p domain.QuestionPayload) {
				if err := h.Deliver(context.Background(), id, p); err != nil {
					h.logger.Warn("local delivery of remote question failed", zap.String("participant_id", id), zap.Error(err))
				}
			})
			if err != nil {
				h.logger.Warn("subscribe participant channel", zap.String("participant_id", id), zap.Error(err))
			} else {
				h.subs[id] = cancel
			}
		}
	}
	set[c] = struct{}{}
	h.logger.Debug("participant connected", zap.String("participant_id", c.participantID))
}

// Unregister removes a socket. Once it returns the hub never writes to c.send again.
func (h *Hub) Unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.participantID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.participantID)
		if cancel, ok := h.subs[c.participantID]; ok {
			cancel()
			delete(h.subs, c.participantID)
		}
	}
	h.logger.Debug("participant disconnected", zap.String("participant_id", c.participantID))
}

// Connected reports whether the participant has at least one open socket here.
func (h *Hub) Connected(participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[participantID]) > 0
}

// Deliver queues the question on every socket of the participant. It fails when
// the participant is not connected or no socket could take the message.
func (h *Hub) Deliver(ctx context.Context, participantID string, payload domain.QuestionPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := outboundMessage[any]{Type: "question", Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[participantID]
	if len(set) == 0 {
		return domain.ErrRecipientUnreachable
	}
	queued := 0
	for c := range set {
		select {
		case c.send <- msg:
			queued++
		default:
		}
	}
	if queued == 0 {
		return errSendBufferFull
	}
	return nil
}
