package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuthFailureLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewAuthFailureLimiter()
	l.now = func() time.Time { return now }

	for range authMaxFailures - 1 {
		l.RecordFailure("1.2.3.4")
	}
	assert.False(t, l.Blocked("1.2.3.4"))

	l.RecordFailure("1.2.3.4")
	assert.True(t, l.Blocked("1.2.3.4"))
	assert.False(t, l.Blocked("5.6.7.8"))

	now = now.Add(authWindowDuration + time.Second)
	assert.False(t, l.Blocked("1.2.3.4"))

	l.RecordFailure("9.9.9.9")
	l.Reset("9.9.9.9")
	assert.False(t, l.Blocked("9.9.9.9"))
}
