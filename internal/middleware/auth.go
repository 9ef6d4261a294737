package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cmsauto/autologin-server-go/internal/audit"
	"github.com/cmsauto/autologin-server-go/internal/util"
)

// AdminAuthMiddleware checks the bearer token against the bcrypt hash of the
// admin token. An empty hash disables the check.
type AdminAuthMiddleware struct {
	tokenHash string
	failures  *AuthFailureLimiter

	mu       sync.RWMutex
	verified [sha256.Size]byte
	hasToken bool
}

func NewAdminAuthMiddleware(tokenHash string, failures *AuthFailureLimiter) *AdminAuthMiddleware {
	if failures == nil {
		failures = NewAuthFailureLimiter()
	}
	return &AdminAuthMiddleware{tokenHash: tokenHash, failures: failures}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if m.failures.Blocked(ip) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed})
			w.Header().Set("Retry-After", "60")
			writeFailure(w, http.StatusTooManyRequests, "Too many failed attempts. Please try again later.")
			return
		}

		token := extractToken(r)
		if token == "" {
			writeFailure(w, http.StatusUnauthorized, "Missing authentication token")
			return
		}

		if !m.valid(token) {
			m.failures.RecordFailure(ip)
			log.Warn().Str("ip", ip).Msg("auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			writeFailure(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		m.failures.Reset(ip)
		next.ServeHTTP(w, r)
	})
}

// valid compares against the last verified token before falling back to bcrypt.
func (m *AdminAuthMiddleware) valid(token string) bool {
	digest := sha256.Sum256([]byte(token))

	m.mu.RLock()
	cached := m.hasToken && subtle.ConstantTimeCompare(digest[:], m.verified[:]) == 1
	m.mu.RUnlock()
	if cached {
		return true
	}

	if !util.CheckPasswordHash(token, m.tokenHash) {
		return false
	}

	m.mu.Lock()
	m.verified = digest
	m.hasToken = true
	m.mu.Unlock()
	return true
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.Header.Get("X-Admin-Token")
}
