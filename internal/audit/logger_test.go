package audit

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLogFromRequest(t *testing.T) {
	buf := captureLogs(t)

	r := httptest.NewRequest("POST", "/api/accounts/3/login", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	r.Header.Set("User-Agent", "curl/8.5")

	LogFromRequest(r, Event{
		Type:      EventManualRun,
		AccountID: "3",
		Details:   map[string]any{"success": true, "attempts": 2},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "control", entry["audit"])
	assert.Equal(t, "manual_run", entry["event_type"])
	assert.Equal(t, "3", entry["account_id"])
	assert.Equal(t, "203.0.113.9", entry["ip"])
	assert.Equal(t, "curl/8.5", entry["user_agent"])
	assert.Equal(t, true, entry["success"])
	assert.Equal(t, float64(2), entry["attempts"])
	assert.Equal(t, "audit event", entry["message"])
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1:5555", getClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getClientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3")
	assert.Equal(t, "10.0.0.3", getClientIP(r))
}
