package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-round-service/internal/app"
	"quiz-round-service/internal/auth"
	"quiz-round-service/internal/domain"
)

const sendBuffer = 16

type WSHandler struct {
	rounds   *app.RoundController
	tokens   *auth.TokenService
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(rounds *app.RoundController, tokens *auth.TokenService, hub *Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		rounds: rounds,
		tokens: tokens,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type wsClient struct {
	participantID string
	send          chan outboundMessage[any]
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type togglePayload struct {
	QuestionID string `json:"questionId"`
	Option     string `json:"option"`
}

type joinPayload struct {
	AccessCode string `json:"accessCode"`
}

type selectionResult struct {
	QuestionID string   `json:"questionId"`
	Selected   []string `json:"selected"`
}

type joinedResult struct {
	PollID        string `json:"pollId"`
	Title         string `json:"title"`
	AlreadyJoined bool   `json:"alreadyJoined"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades an authenticated participant to a websocket. Questions arrive
// through the hub; the participant sends join and toggle messages.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}
	participantID := claims.Subject

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := &wsClient{participantID: participantID, send: make(chan outboundMessage[any], sendBuffer)}
	h.hub.Register(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range client.send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", zap.String("participant_id", participantID), zap.Error(err))
				return
			}
		}
	}()

	reply := func(msg outboundMessage[any]) {
		select {
		case client.send <- msg:
		case <-writerDone:
		}
	}
	replyErr := func(err error) {
		reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
	}

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "join":
			var payload joinPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.AccessCode == "" {
				replyErr(errors.New("invalid join payload"))
				continue
			}
			poll, res, err := h.rounds.JoinByCode(ctx, strings.ToUpper(strings.TrimSpace(payload.AccessCode)), participantID)
			if err != nil {
				replyErr(err)
				continue
			}
			reply(outboundMessage[any]{Type: "joined", Payload: joinedResult{
				PollID:        poll.ID,
				Title:         poll.Title,
				AlreadyJoined: res == domain.JoinAlreadyJoined,
			}})
		case "toggle":
			var payload togglePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" {
				replyErr(errors.New("invalid toggle payload"))
				continue
			}
			selected, err := h.rounds.Toggle(ctx, participantID, payload.QuestionID, payload.Option)
			if err != nil {
				replyErr(err)
				continue
			}
			reply(outboundMessage[any]{Type: "selection", Payload: selectionResult{QuestionID: payload.QuestionID, Selected: selected}})
		default:
			replyErr(errors.New("unsupported message type"))
		}
	}

	h.hub.Unregister(client)
	close(client.send)
	<-writerDone
}
