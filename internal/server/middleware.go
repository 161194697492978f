package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var errInvalidAuthorization = errors.New("authorization header missing or invalid")

// requireUser rejects the request unless it carries a valid bearer token for
// an existing account.
func (h *httpHandler) requireUser(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	viewer, ok := h.authenticate(c, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	if !ok {
		return
	}
	c.Set(viewerContextKey, viewer)
	c.Next()
}

// optionalUser resolves the viewer when a bearer token is present and lets
// anonymous requests through.
func (h *httpHandler) optionalUser(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Next()
		return
	}
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	viewer, ok := h.authenticate(c, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	if !ok {
		return
	}
	c.Set(viewerContextKey, viewer)
	c.Next()
}

func (h *httpHandler) authenticate(c *gin.Context, token string) (users.User, bool) {
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return users.User{}, false
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return users.User{}, false
	}
	viewer, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			h.logger.Warn("token subject no longer exists", zap.Uint64("user_id", userID))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return users.User{}, false
		}
		h.respondError(c, err)
		c.Abort()
		return users.User{}, false
	}
	return viewer, true
}

// viewerFrom returns the authenticated account placed in the context by the
// auth middleware.
func viewerFrom(c *gin.Context) (users.User, bool) {
	value, exists := c.Get(viewerContextKey)
	if !exists {
		return users.User{}, false
	}
	viewer, ok := value.(users.User)
	return viewer, ok
}

func mustViewer(c *gin.Context) users.User {
	viewer, _ := viewerFrom(c)
	return viewer
}

// throttle applies the token bucket of the named route to the client address.
func (h *httpHandler) throttle(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := h.limiter.Allow(c.Request.Context(), route+":"+c.ClientIP())
		if err != nil {
			h.logger.Warn("rate limiter unavailable", zap.String("route", route), zap.Error(err))
		}
		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		}
		if !decision.Allowed {
			c.Header("Retry-After", decision.RetryAfterSeconds())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
