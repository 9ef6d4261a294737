package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/cmsauto/autologin-server-go/internal/audit"
	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/httputil"
	"github.com/cmsauto/autologin-server-go/internal/model"
)

// Scheduler is the control surface of the job orchestrator.
type Scheduler interface {
	Schedule(ctx context.Context, accountID int64, intervalMinutes int, label string) error
	Unschedule(ctx context.Context, accountID int64) error
	Toggle(ctx context.Context, accountID int64) (bool, error)
	RunNow(ctx context.Context, accountID int64) (bool, string)
	ListJobs() []model.JobStatus
	JobStatus(accountID int64) model.JobStatus
}

type SchedulerHandler struct {
	scheduler Scheduler
	runLimit  func(http.Handler) http.Handler
}

func NewSchedulerHandler(scheduler Scheduler, runLimit func(http.Handler) http.Handler) *SchedulerHandler {
	if runLimit == nil {
		runLimit = func(next http.Handler) http.Handler { return next }
	}
	return &SchedulerHandler{scheduler: scheduler, runLimit: runLimit}
}

// Routes serves the per-account endpoints. Mount it under /api/accounts.
func (h *SchedulerHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/schedule", h.GetSchedule)
		r.Post("/schedule", h.SetSchedule)
		r.Delete("/schedule", h.RemoveSchedule)
		r.Post("/schedule/toggle", h.ToggleSchedule)
		r.With(h.runLimit).Post("/login", h.RunNow)
	})

	return r
}

type scheduleRequest struct {
	IntervalMinutes int    `json:"intervalMinutes"`
	ScheduleName    string `json:"scheduleName"`
}

func (h *SchedulerHandler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "expected a JSON object"))
		return
	}
	if req.IntervalMinutes <= 0 {
		httputil.WriteError(w, apperrors.ValidationError("intervalMinutes must be a positive number of minutes"))
		return
	}

	if err := h.scheduler.Schedule(r.Context(), accountID, req.IntervalMinutes, req.ScheduleName); err != nil {
		logControlError(err, accountID, "schedule")
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventScheduleSet,
		AccountID: strconv.FormatInt(accountID, 10),
		Details:   map[string]any{"intervalMinutes": req.IntervalMinutes},
	})
	httputil.WriteSuccess(w,
		fmt.Sprintf("Schedule saved, running every %d minutes", req.IntervalMinutes),
		h.scheduler.JobStatus(accountID))
}

func (h *SchedulerHandler) RemoveSchedule(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.scheduler.Unschedule(r.Context(), accountID); err != nil {
		logControlError(err, accountID, "unschedule")
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventScheduleRemove, AccountID: strconv.FormatInt(accountID, 10)})
	httputil.WriteSuccess(w, "Schedule removed", nil)
}

func (h *SchedulerHandler) ToggleSchedule(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	active, err := h.scheduler.Toggle(r.Context(), accountID)
	if err != nil {
		logControlError(err, accountID, "toggle")
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventScheduleToggle,
		AccountID: strconv.FormatInt(accountID, 10),
		Details:   map[string]any{"active": active},
	})
	message := "Schedule paused"
	if active {
		message = "Schedule resumed"
	}
	httputil.WriteSuccess(w, message, h.scheduler.JobStatus(accountID))
}

func (h *SchedulerHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, "", h.scheduler.JobStatus(accountID))
}

func (h *SchedulerHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	success, message := h.scheduler.RunNow(r.Context(), accountID)

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventManualRun,
		AccountID: strconv.FormatInt(accountID, 10),
		Details:   map[string]any{"success": success},
	})
	httputil.WriteOutcome(w, success, message, nil)
}

func (h *SchedulerHandler) Status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, "", h.scheduler.ListJobs())
}

func logControlError(err error, accountID int64, op string) {
	code := apperrors.GetCode(err)
	switch code {
	case apperrors.ErrCodeDatabase, apperrors.ErrCodeInternal:
		log.Error().Err(err).Int64("accountId", accountID).Str("op", op).Msg("control operation failed")
	default:
		log.Debug().Err(err).Int64("accountId", accountID).Str("op", op).Msg("control operation rejected")
	}
}
