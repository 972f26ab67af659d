package http

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quiz-round-service/internal/app"
	"quiz-round-service/internal/auth"
	"quiz-round-service/internal/domain"
	"quiz-round-service/internal/report"
)

// maxQuestionFile caps the size of an uploaded question file.
const maxQuestionFile = 1 << 20

// RouterDeps carries everything the HTTP surface calls into.
type RouterDeps struct {
	Polls   *app.PollService
	Rounds  *app.RoundController
	Reports *report.Aggregator
	Sink    *report.S3Sink // optional
	Tokens  *auth.TokenService
	Admins  auth.AdminChecker
	WS      *WSHandler
	Logger  *zap.Logger
}

type handlers struct {
	RouterDeps
}

// NewRouter builds the gin engine with admin, participant and websocket routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{RouterDeps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if deps.WS != nil {
		r.GET("/ws", gin.WrapF(deps.WS.ServeWS))
	}

	authed := r.Group("/", bearerAuth(deps.Tokens))
	authed.POST("/participants", h.registerParticipant)
	authed.POST("/join", h.join)
	authed.GET("/polls/:id/state", h.state)
	authed.POST("/questions/:id/toggle", h.toggle)
	authed.GET("/questions/:id/selection", h.selection)

	admin := authed.Group("/", requireAdmin(deps.Admins))
	admin.POST("/polls", h.createPoll)
	admin.POST("/polls/:id/questions", h.importQuestions)
	admin.POST("/polls/:id/activate", h.activate)
	admin.POST("/polls/:id/open", h.openNext)
	admin.POST("/polls/:id/close", h.closeCurrent)
	admin.GET("/polls/:id/report", h.report)
	admin.GET("/polls/:id/report.csv", h.reportCSV)
	admin.POST("/polls/:id/report/export", h.exportReport)
	return r
}

type createPollRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AccessCode  string `json:"accessCode"`
}

func (h *handlers) createPoll(c *gin.Context) {
	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	poll, err := h.Polls.CreatePoll(c.Request.Context(), domain.PollDraft{
		Title:       req.Title,
		Description: req.Description,
		AccessCode:  req.AccessCode,
		CreatedBy:   c.GetString(ctxActorID),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	created(c, poll)
}

// importQuestions takes the question file as the raw request body.
func (h *handlers) importQuestions(c *gin.Context) {
	questions, err := h.Polls.ImportQuestions(c.Request.Context(), c.Param("id"), http.MaxBytesReader(c.Writer, c.Request.Body, maxQuestionFile))
	if err != nil {
		failErr(c, err)
		return
	}
	created(c, questions)
}

func (h *handlers) activate(c *gin.Context) {
	pollID := c.Param("id")
	if err := h.Rounds.Activate(c.Request.Context(), pollID); err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"pollId": pollID, "state": domain.StateReady})
}

func (h *handlers) openNext(c *gin.Context) {
	res, err := h.Rounds.OpenNext(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		ok(c, res)
	case domain.IsNonFatal(err):
		warn(c, res, err)
	default:
		failErr(c, err)
	}
}

func (h *handlers) closeCurrent(c *gin.Context) {
	tally, err := h.Rounds.CloseCurrent(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		ok(c, tally)
	case domain.IsNonFatal(err):
		warn(c, tally, err)
	default:
		if app.IsRetryable(err) {
			h.Logger.Error("close failed, retry possible", zap.String("poll_id", c.Param("id")), zap.Error(err))
		}
		failErr(c, err)
	}
}

func (h *handlers) state(c *gin.Context) {
	pollID := c.Param("id")
	st, err := h.Rounds.State(c.Request.Context(), pollID)
	if err != nil {
		failErr(c, err)
		return
	}
	open, err := h.Rounds.OpenQuestion(c.Request.Context(), pollID)
	if err != nil {
		failErr(c, err)
		return
	}
	resp := gin.H{"pollId": pollID, "state": st}
	if open != nil {
		// Correct answers stay hidden from participants.
		resp["questionId"] = open.ID
		resp["order"] = open.Order
	}
	ok(c, resp)
}

func (h *handlers) report(c *gin.Context) {
	rep, err := h.Reports.Build(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, rep)
}

func (h *handlers) reportCSV(c *gin.Context) {
	rep, err := h.Reports.Build(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, rep); err != nil {
		failErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+rep.Poll.ID+`.csv"`)
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

func (h *handlers) exportReport(c *gin.Context) {
	if h.Sink == nil {
		fail(c, http.StatusServiceUnavailable, "report storage is not configured")
		return
	}
	rep, err := h.Reports.Build(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	key, err := h.Sink.Upload(c.Request.Context(), rep)
	if err != nil {
		h.Logger.Error("report upload failed", zap.String("poll_id", rep.Poll.ID), zap.Error(err))
		fail(c, http.StatusBadGateway, "report upload failed")
		return
	}
	created(c, gin.H{"key": key})
}

type participantRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// registerParticipant stores the profile of the authenticated actor.
func (h *handlers) registerParticipant(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		req.Username = c.GetString(ctxUsername)
	}
	p, err := h.Polls.RegisterParticipant(c.Request.Context(), domain.Participant{
		ID:        c.GetString(ctxActorID),
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	created(c, p)
}

type joinRequest struct {
	AccessCode string `json:"accessCode"`
}

func (h *handlers) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.AccessCode) == "" {
		fail(c, http.StatusBadRequest, "accessCode is required")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.AccessCode))
	poll, res, err := h.Rounds.JoinByCode(c.Request.Context(), code, c.GetString(ctxActorID))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, joinedResult{PollID: poll.ID, Title: poll.Title, AlreadyJoined: res == domain.JoinAlreadyJoined})
}

type toggleRequest struct {
	Option string `json:"option"`
}

func (h *handlers) toggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	questionID := c.Param("id")
	selected, err := h.Rounds.Toggle(c.Request.Context(), c.GetString(ctxActorID), questionID, req.Option)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, selectionResult{QuestionID: questionID, Selected: selected})
}

func (h *handlers) selection(c *gin.Context) {
	questionID := c.Param("id")
	selected, err := h.Rounds.Pending(c.Request.Context(), c.GetString(ctxActorID), questionID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, selectionResult{QuestionID: questionID, Selected: selected})
}
