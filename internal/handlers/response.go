package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/polyforge/polyforge-backend/internal/apierr"
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

// RespondFromError maps a typed apierr to its HTTP status and code;
// anything else becomes a 500.
func RespondFromError(c *gin.Context, err error) {
	var typed *apierr.Error
	if errors.As(err, &typed) {
		status := typed.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		RespondError(c, status, typed.Code, typed)
		return
	}
	RespondError(c, http.StatusInternalServerError, "internal_error", err)
}
