package httpapi

import (
	"net/http"
	"sync"

	"retrieval-service/internal/domain"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	headerGatewayAuth = "X-Gateway-Auth"
	headerUserID      = "X-User-Id"
	headerUserEmail   = "X-User-Email"
	headerUserRole    = "X-User-Role"

	gatewayVerified = "verified"

	identityContextKey = "httpapi.identity"
)

// Identity is the caller identity forwarded by the gateway.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// IdentityFrom extracts the gateway identity set by GatewayAuth.
// Returns a zero Identity when the middleware did not run.
func IdentityFrom(c echo.Context) Identity {
	if ident, ok := c.Get(identityContextKey).(Identity); ok {
		return ident
	}
	return Identity{}
}

// GatewayAuth rejects requests that did not pass through the API
// gateway. The gateway strips these headers from external traffic, so
// their presence is the trust signal.
func GatewayAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(headerGatewayAuth) != gatewayVerified {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			c.Set(identityContextKey, Identity{
				UserID: c.Request().Header.Get(headerUserID),
				Email:  c.Request().Header.Get(headerUserEmail),
				Role:   c.Request().Header.Get(headerUserRole),
			})
			return next(c)
		}
	}
}

// RequireSuperAdmin gates admin endpoints. Must run after GatewayAuth.
func RequireSuperAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IdentityFrom(c).Role != domain.RoleSuperAdmin {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// RateLimiter enforces a per-client token bucket keyed by user id,
// falling back to the remote IP for unidentified callers.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.limiters[key] = l
	return l
}

func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := IdentityFrom(c).UserID
			if key == "" {
				key = c.RealIP()
			}
			if !rl.limiterFor(key).Allow() {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
