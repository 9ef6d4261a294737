package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/cmsauto/autologin-server-go/internal/audit"
	"github.com/cmsauto/autologin-server-go/internal/redis"
)

// Limiter is satisfied by the Redis limiter and MemoryRateLimiter.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, resetAt time.Time)
}

// RunLimitMiddleware caps manual login runs per account, keyed by the {id}
// route parameter.
type RunLimitMiddleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
}

func NewRunLimitMiddleware(limiter Limiter, limit int, window time.Duration) *RunLimitMiddleware {
	return &RunLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
	}
}

func (m *RunLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := m.limiter.CheckLimit(r.Context(), redis.ManualRunKey(accountID), m.limit, m.window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			log.Warn().Int64("accountId", accountID).Msg("manual run rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventRateLimitExceed,
				AccountID: strconv.FormatInt(accountID, 10),
			})
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			writeFailure(w, http.StatusTooManyRequests, "Too many manual runs for this account. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}
