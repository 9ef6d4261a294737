package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/httputil"
	"github.com/cmsauto/autologin-server-go/internal/model"
	"github.com/cmsauto/autologin-server-go/internal/repository"
	"github.com/cmsauto/autologin-server-go/internal/util"
)

type LogHandler struct {
	logs     repository.AttemptLogRepository
	accounts repository.AccountRepository
	loc      *time.Location
}

func NewLogHandler(logs repository.AttemptLogRepository, accounts repository.AccountRepository, loc *time.Location) *LogHandler {
	if loc == nil {
		loc = time.Local
	}
	return &LogHandler{logs: logs, accounts: accounts, loc: loc}
}

func (h *LogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

type logPage struct {
	Items  []model.AttemptLogView `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// List returns attempt records newest first, filtered by account, day and level.
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	query, err := h.parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, total, err := h.logs.Query(r.Context(), query)
	if err != nil {
		log.Error().Err(err).Msg("failed to query attempt records")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	names := make(map[int64]string)
	items := make([]model.AttemptLogView, 0, len(entries))
	for _, entry := range entries {
		name, ok := names[entry.AccountID]
		if !ok {
			account, err := h.accounts.FindByID(r.Context(), entry.AccountID)
			if err != nil {
				log.Warn().Err(err).Int64("accountId", entry.AccountID).Msg("failed to resolve account name")
			} else if account != nil {
				name = account.Name
			}
			names[entry.AccountID] = name
		}
		items = append(items, model.AttemptLogView{AttemptLog: entry, AccountName: name})
	}

	httputil.WriteSuccess(w, "", logPage{
		Items:  items,
		Total:  total,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}

func (h *LogHandler) parseQuery(r *http.Request) (model.AttemptLogQuery, error) {
	params := r.URL.Query()
	page := ParsePagination(r)
	q := model.AttemptLogQuery{Limit: page.Limit, Offset: page.Offset}

	if raw := params.Get("accountId"); raw != "" {
		id, err := util.ParseID(raw)
		if err != nil {
			return q, apperrors.InvalidInput("accountId", "must be a positive integer")
		}
		q.AccountID = &id
	}

	if raw := params.Get("date"); raw != "" {
		day, err := util.ParseDay(raw, h.loc)
		if err != nil {
			return q, apperrors.InvalidInput("date", "expected YYYY-MM-DD")
		}
		from, to := util.DayBounds(day, h.loc)
		q.From, q.To = &from, &to
	}

	if raw := params.Get("level"); raw != "" {
		level := model.LogLevel(raw)
		if !level.Valid() {
			return q, apperrors.InvalidInput("level", "must be INFO, WARNING or ERROR")
		}
		q.Level = &level
	}

	return q, nil
}
