package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/shufflesync/internal/domain"
)

const userKey = "user_id"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
		}
		if user := c.GetString(userKey); user != "" {
			attrs = append(attrs, "user_id", user)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.Last().Error())
		}
		logger.Log(c.Request.Context(), level, "http request", attrs...)
	}
}

// requireUser reads the caller's user id from UserHeader. Browsers cannot
// set headers on a WebSocket handshake, so streams may pass it as the
// user_id query parameter instead.
func requireUser(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(UserHeader))
		if user == "" && allowQuery {
			user = strings.TrimSpace(c.Query("user_id"))
		}
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:  "UNAUTHENTICATED",
				Error: "missing " + UserHeader,
			})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userKey)
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeInvalidTransition, domain.CodeConcurrentModification:
		return http.StatusConflict
	case domain.CodeNotAuthorized:
		return http.StatusForbidden
	case domain.CodeNotFound, domain.CodeSessionNotJoinable, domain.CodeInvalidOrExpiredLink:
		return http.StatusNotFound
	case domain.CodeUnknownCandidate, domain.CodeInvalidArgument:
		return http.StatusUnprocessableEntity
	case domain.CodeCodeGenerationExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := StatusFor(err)
	code := string(domain.CodeOf(err))
	msg := err.Error()
	if status == http.StatusInternalServerError {
		code = "INTERNAL"
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Error: msg})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Error: err.Error()})
}
