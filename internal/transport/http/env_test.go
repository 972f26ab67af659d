package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"quiz-round-service/internal/app"
	"quiz-round-service/internal/auth"
	"quiz-round-service/internal/domain"
	"quiz-round-service/internal/infra/memory"
	"quiz-round-service/internal/report"
)

const adminID = "admin-1"

type testEnv struct {
	store  *memory.Store
	polls  *app.PollService
	rounds *app.RoundController
	tokens *auth.TokenService
	hub    *Hub
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	hub := NewHub(nil, nil)
	tokens := auth.NewTokenService("test-secret", time.Hour)
	rounds := app.NewRoundController(app.RoundDeps{
		Polls:       store,
		Catalog:     store,
		Roster:      store,
		Submissions: memory.NewSubmissionStore(),
		Records:     store,
		Dispatcher:  app.NewDispatcher(hub, app.DispatcherOptions{Timeout: time.Second}, nil),
	})
	polls := app.NewPollService(store, store, store, nil)
	router := NewRouter(RouterDeps{
		Polls:   polls,
		Rounds:  rounds,
		Reports: report.NewAggregator(store, store, store, store, store, nil),
		Tokens:  tokens,
		Admins:  auth.NewStaticAdmins([]string{adminID}),
		WS:      NewWSHandler(rounds, tokens, hub, nil),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{store: store, polls: polls, rounds: rounds, tokens: tokens, hub: hub, server: server}
}

func (e *testEnv) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := e.tokens.Generate(subject, subject)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

// seedPoll creates GEO1 with two questions through the services.
func (e *testEnv) seedPoll(t *testing.T) domain.Poll {
	t.Helper()
	ctx := context.Background()
	poll, err := e.polls.CreatePoll(ctx, domain.PollDraft{Title: "Geography", AccessCode: "GEO1", CreatedBy: adminID})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	_, err = e.polls.AttachQuestions(ctx, poll.ID, []domain.QuestionDraft{
		{Text: "Capital of France?", Options: []string{"Paris", "London"}, CorrectAnswers: []string{"Paris"}, Order: 1},
		{Text: "Pick A and B", Options: []string{"A", "B", "C"}, CorrectAnswers: []string{"A", "B"}, Order: 2},
	})
	if err != nil {
		t.Fatalf("attach questions: %v", err)
	}
	return poll
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Warning string          `json:"warning"`
	Error   string          `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out apiResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}
