package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/enrollpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

// WindowCounter counts hits per scope in fixed windows.
type WindowCounter interface {
	Hit(ctx context.Context, scope string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

// RateLimitPolicy caps requests per client IP on one route.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Limit  int
}

func (p RateLimitPolicy) active() bool {
	return p.Window > 0 && p.Limit > 0
}

func (p RateLimitPolicy) scope(ip string) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "auth"
	}
	return name + ":" + ip
}

// RateLimit rejects a client IP with 429 once it exceeds the policy inside
// one window. Session login has no account key before the token is
// verified, so the IP is all there is to count on.
func RateLimit(policy RateLimitPolicy, counter WindowCounter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.active() || counter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			count, resetIn, err := counter.Hit(ctx, policy.scope(ip), policy.Window)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiter unavailable"))
				return
			}
			if count <= int64(policy.Limit) {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(math.Ceil(resetIn.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"policy":   policy.Name,
					"ip":       ip,
					"attempts": count,
					"limit":    policy.Limit,
				})
				logg.Warn(ctx, "rate_limit.blocked")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts, retry later").
				WithDetails(map[string]any{"retryAfterSeconds": retryAfter}))
		})
	}
}

// clientIP prefers the left-most X-Forwarded-For entry set by the edge proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
