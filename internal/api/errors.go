package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"attendly/internal/attendance"
	"attendly/internal/record"
	"attendly/internal/session"
	"attendly/internal/token"
)

// fail translates domain errors to HTTP responses. Unmatched errors are
// reported as 500 without leaking internals.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, token.ErrNotFound),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, attendance.ErrNotFound),
		errors.Is(err, record.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, session.ErrForbidden),
		errors.Is(err, attendance.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})

	case errors.Is(err, attendance.ErrNotEligible):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})

	case errors.Is(err, token.ErrValidation),
		errors.Is(err, session.ErrValidation),
		errors.Is(err, attendance.ErrBadStatus),
		session.IsWindowError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, session.ErrNotActive):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, session.ErrTerminal),
		errors.Is(err, session.ErrHasAttendance),
		errors.Is(err, session.ErrStatusConflict),
		errors.Is(err, token.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// badRequest reports a malformed request body or query.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
