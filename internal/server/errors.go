package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorKind struct {
	target error
	status int
	code   string
}

var errorKinds = []errorKind{
	{failure.ErrInvalid, http.StatusBadRequest, "invalid_request"},
	{failure.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{failure.ErrForbidden, http.StatusForbidden, "forbidden"},
	{failure.ErrNotFound, http.StatusNotFound, "not_found"},
	{failure.ErrConflict, http.StatusConflict, "conflict"},
	{failure.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
}

// statusFor maps a service error onto an HTTP status and a fallback code.
func statusFor(err error) (int, string) {
	for _, kind := range errorKinds {
		if errors.Is(err, kind.target) {
			return kind.status, kind.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondError writes err as {"error", "code"}. Unexpected failures are
// logged and reported without their cause.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if serviceCode := failure.CodeOf(err); serviceCode != "" {
		code = serviceCode
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
		message = "internal server error"
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "code": "invalid_request"})
}

// pathID parses a positive numeric path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := parsePositive(c.Param(name))
	if err != nil {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

var errNotPositive = errors.New("value must be a positive integer")

func parsePositive(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errNotPositive
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
