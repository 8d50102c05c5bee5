package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/loomwell/handover-backend/internal/orchestrator"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondAppError maps domain sentinels onto HTTP statuses; rate limits
// carry a Retry-After header.
func respondAppError(c *gin.Context, err error) {
	var rle *orchestrator.RateLimitedError
	switch {
	case errors.As(err, &rle):
		c.Header("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		RespondError(c, http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, apperr.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperr.ErrUnauthorized):
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
	case errors.Is(err, apperr.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, apperr.ErrAuthExpired):
		RespondError(c, http.StatusUnauthorized, "auth_expired", err)
	case errors.Is(err, apperr.ErrRateLimited):
		RespondError(c, http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, apperr.ErrConflict):
		RespondError(c, http.StatusConflict, "conflict", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
