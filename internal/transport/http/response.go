package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"quiz-round-service/internal/domain"
	"quiz-round-service/internal/questionfile"
)

// Body is the JSON envelope of every API response.
type Body struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// warn sends a successful result together with a non-fatal condition.
func warn(c *gin.Context, data any, err error) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data, Warning: err.Error()})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: msg})
}

func failErr(c *gin.Context, err error) {
	fail(c, statusFor(err), err.Error())
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var parseErr *questionfile.ParseError
	var persistErr *domain.PersistenceError
	switch {
	case errors.As(err, &parseErr),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidQuestionOrder),
		errors.Is(err, domain.ErrOptionNotFound):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPollNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccessCodeTaken),
		errors.Is(err, domain.ErrQuestionsAttached),
		errors.Is(err, domain.ErrEmptyPoll),
		errors.Is(err, domain.ErrPollFinished),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrQuestionClosed),
		errors.Is(err, domain.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.As(err, &persistErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
