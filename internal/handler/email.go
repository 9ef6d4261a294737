package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cmsauto/autologin-server-go/internal/audit"
	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/httputil"
)

type DigestSender interface {
	SendDailyDigest(ctx context.Context, accountID *int64) (int, error)
}

type EmailHandler struct {
	digest DigestSender
}

func NewEmailHandler(digest DigestSender) *EmailHandler {
	return &EmailHandler{digest: digest}
}

func (h *EmailHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/send-daily-log", h.SendDailyLog)
	return r
}

// SendDailyLog sends today's digest now, to one account or to all of them.
func (h *EmailHandler) SendDailyLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID *int64 `json:"accountId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, apperrors.InvalidInput("body", "expected a JSON object"))
		return
	}
	if req.AccountID != nil && *req.AccountID <= 0 {
		httputil.WriteError(w, apperrors.InvalidInput("accountId", "must be a positive integer"))
		return
	}

	sent, err := h.digest.SendDailyDigest(r.Context(), req.AccountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	event := audit.Event{Type: audit.EventDigestSend, Details: map[string]any{"sent": sent}}
	if req.AccountID != nil {
		event.AccountID = strconv.FormatInt(*req.AccountID, 10)
	}
	audit.LogFromRequest(r, event)

	httputil.WriteSuccess(w, fmt.Sprintf("Sent %d daily log mails", sent), map[string]int{"sent": sent})
}
