package apihandlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// errorCode values are the stable strings clients and dashboards key on.
type errorCode string

const (
	codeBadRequest   errorCode = "bad_request"
	codeUnauthorized errorCode = "unauthorized"
	codeNoPoints     errorCode = "insufficient_points"
	codeNotFound     errorCode = "not_found"
	codeInternal     errorCode = "internal_error"
)

// apiError is the body of every non-2xx response:
// { "error": { "code": "not_found", "message": "job not found" } }
type apiError struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

func respondError(c *gin.Context, status int, code errorCode, msg string) {
	c.JSON(status, gin.H{"error": apiError{Code: code, Message: msg}})
}

func BadRequest(c *gin.Context, msg string) {
	respondError(c, http.StatusBadRequest, codeBadRequest, msg)
}

func Unauthorized(c *gin.Context, msg string) {
	respondError(c, http.StatusUnauthorized, codeUnauthorized, msg)
}

func PaymentRequired(c *gin.Context, msg string) {
	respondError(c, http.StatusPaymentRequired, codeNoPoints, msg)
}

func NotFound(c *gin.Context, msg string) {
	respondError(c, http.StatusNotFound, codeNotFound, msg)
}

func Internal(c *gin.Context, msg string) {
	respondError(c, http.StatusInternalServerError, codeInternal, msg)
}
