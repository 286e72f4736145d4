package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/metrics"
	"storefront/internal/ratelimit"
)

const ownerCtxKey = "owner"

// accessLog writes one entry per request and records request metrics under
// the matched route template.
func accessLog(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, status, latency)

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			logger.Error("http request", fields...)
		case status >= 400:
			logger.Warn("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}

// rateLimit rejects requests once the client IP exceeds max within window.
// A failing counter store lets the request through.
func rateLimit(limiter ratelimit.Limiter, window time.Duration, max int, logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || max <= 0 {
			c.Next()
			return
		}
		route := c.FullPath()
		key := "ip:" + c.ClientIP() + ":" + route
		allowed, err := limiter.Allow(c.Request.Context(), key, window, max)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			m.RecordRateLimited(route)
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			abortWithError(c, http.StatusTooManyRequests, "rate_limited", "too many requests, try again later")
			return
		}
		c.Next()
	}
}

type sessionResolver interface {
	Issue() (token, sessionID string, err error)
	Lookup(token string) (string, error)
	LookupCustomer(token string) (string, error)
	TTL() time.Duration
}

type cookieOptions struct {
	Name   string
	Secure bool
}

// ownerMiddleware resolves who owns the cart for this request. A bearer
// token identifies a customer; otherwise the signed session cookie is used,
// issued on the first request that lacks a valid one.
func ownerMiddleware(sessions sessionResolver, cookie cookieOptions, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			token, ok := bearerToken(header)
			if !ok {
				abortWithError(c, http.StatusUnauthorized, "invalid_token", "authorization header must be a bearer token")
				return
			}
			customerID, err := sessions.LookupCustomer(token)
			if err != nil {
				abortWithError(c, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
				return
			}
			c.Set(ownerCtxKey, domain.CustomerOwner(customerID))
			c.Next()
			return
		}

		if raw, err := c.Cookie(cookie.Name); err == nil && raw != "" {
			if sessionID, err := sessions.Lookup(raw); err == nil {
				c.Set(ownerCtxKey, domain.SessionOwner(sessionID))
				c.Next()
				return
			}
		}

		token, sessionID, err := sessions.Issue()
		if err != nil {
			logger.Error("issue session", zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, "internal_error", "could not start session")
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookie.Name, token, int(sessions.TTL().Seconds()), "/", "", cookie.Secure, true)
		c.Set(ownerCtxKey, domain.SessionOwner(sessionID))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func ownerFrom(c *gin.Context) domain.CartOwner {
	if v, ok := c.Get(ownerCtxKey); ok {
		if owner, ok := v.(domain.CartOwner); ok {
			return owner
		}
	}
	return domain.CartOwner{}
}
