package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/tablesync-backend/api/responses"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// counter is one fixed-window budget keyed off part of the request.
type counter struct {
	scope string
	limit int64
	by    func(*http.Request) string
}

// RateLimitPolicy is a named set of fixed-window counters for one surface.
type RateLimitPolicy struct {
	name     string
	window   time.Duration
	counters []counter
}

// NewRateLimitPolicy counts per customer session and per client IP. A zero
// limit turns that counter off.
func NewRateLimitPolicy(name string, window time.Duration, sessionLimit, ipLimit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	p := RateLimitPolicy{name: name, window: window}
	if window <= 0 {
		return p
	}
	if sessionLimit > 0 {
		p.counters = append(p.counters, counter{scope: "session", limit: int64(sessionLimit), by: func(r *http.Request) string {
			return string(SessionIDFromContext(r.Context()))
		}})
	}
	if ipLimit > 0 {
		p.counters = append(p.counters, counter{scope: "ip", limit: int64(ipLimit), by: clientIP})
	}
	return p
}

// RateLimit rejects a request with 429 once any counter of policy passes its
// limit inside the window. The session counter needs ClientSession upstream.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(policy.counters) == 0 || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, c := range policy.counters {
				subject := c.by(r)
				if subject == "" {
					continue
				}
				hits, err := store.IncrWithTTL(ctx, "rl:"+c.scope+":"+policy.name+":"+subject, policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if hits > c.limit {
					policy.reject(ctx, logg, w, c, hits)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p RateLimitPolicy) reject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, c counter, hits int64) {
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":   p.name,
			"scope":    c.scope,
			"attempts": hits,
			"limit":    c.limit,
		}), "rate limit exceeded")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(p.window.Round(time.Second).Seconds())))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
