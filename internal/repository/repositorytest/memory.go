// Package repositorytest provides in-memory repositories for tests.
package repositorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cmsauto/autologin-server-go/internal/model"
)

type Accounts struct {
	mu     sync.Mutex
	byID   map[int64]model.Account
	nextID int64
	Err    error
}

func NewAccounts(accounts ...model.Account) *Accounts {
	a := &Accounts{byID: make(map[int64]model.Account)}
	for _, account := range accounts {
		a.Put(account)
	}
	return a
}

// Put stores account, assigning an id when it has none.
func (a *Accounts) Put(account model.Account) model.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	if account.ID == 0 {
		a.nextID++
		account.ID = a.nextID
	} else if account.ID > a.nextID {
		a.nextID = account.ID
	}
	a.byID[account.ID] = account
	return account
}

func (a *Accounts) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	account, ok := a.byID[id]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

func (a *Accounts) FindActive(ctx context.Context, filter model.AccountFilter) ([]model.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	var out []model.Account
	for _, account := range a.byID {
		if filter.ActiveOnly && !account.IsActive {
			continue
		}
		if filter.NotificationOnly && !account.EmailNotification {
			continue
		}
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Accounts) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	account := a.Put(model.Account{
		Name:              params.Name,
		LoginName:         params.LoginName,
		Secret:            params.Secret,
		IsActive:          params.IsActive,
		EmailNotification: params.EmailNotification,
		CustomEmail:       params.CustomEmail,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	})
	return &account, nil
}

type Schedules struct {
	mu        sync.Mutex
	byAccount map[int64]model.Schedule
	nextID    int64
	Err       error
}

func NewSchedules(schedules ...model.Schedule) *Schedules {
	s := &Schedules{byAccount: make(map[int64]model.Schedule)}
	for _, schedule := range schedules {
		s.nextID++
		schedule.ID = s.nextID
		s.byAccount[schedule.AccountID] = schedule
	}
	return s
}

func (s *Schedules) FindByAccountID(ctx context.Context, accountID int64) (*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	schedule, ok := s.byAccount[accountID]
	if !ok {
		return nil, nil
	}
	return &schedule, nil
}

func (s *Schedules) FindActive(ctx context.Context) ([]model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []model.Schedule
	for _, schedule := range s.byAccount {
		if schedule.IsActive {
			out = append(out, schedule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s *Schedules) Upsert(ctx context.Context, params model.UpsertScheduleParams) (*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	schedule, ok := s.byAccount[params.AccountID]
	if !ok {
		s.nextID++
		schedule = model.Schedule{ID: s.nextID, AccountID: params.AccountID, CreatedAt: time.Now()}
	}
	schedule.Name = params.Name
	schedule.IntervalMinutes = params.IntervalMinutes
	schedule.IsActive = params.IsActive
	schedule.NextRunAt = params.NextRunAt
	schedule.UpdatedAt = time.Now()
	s.byAccount[params.AccountID] = schedule
	return &schedule, nil
}

func (s *Schedules) Deactivate(ctx context.Context, accountID int64, clearNextRun bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	schedule, ok := s.byAccount[accountID]
	if !ok {
		return nil
	}
	schedule.IsActive = false
	if clearNextRun {
		schedule.NextRunAt = nil
	}
	schedule.UpdatedAt = time.Now()
	s.byAccount[accountID] = schedule
	return nil
}

// Get returns a copy of the stored schedule.
func (s *Schedules) Get(accountID int64) (model.Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.byAccount[accountID]
	return schedule, ok
}

type AttemptLogs struct {
	mu      sync.Mutex
	records []model.AttemptLog
	nextID  int64
	Now     func() time.Time
	Err     error
}

func NewAttemptLogs() *AttemptLogs {
	return &AttemptLogs{Now: time.Now}
}

func (l *AttemptLogs) Append(ctx context.Context, params model.AppendAttemptLogParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.nextID++
	l.records = append(l.records, model.AttemptLog{
		ID:        l.nextID,
		AccountID: params.AccountID,
		Level:     params.Level,
		Message:   params.Message,
		Details:   params.Details,
		IsSuccess: params.IsSuccess,
		CreatedAt: l.Now(),
	})
	return nil
}

func (l *AttemptLogs) FindByAccountBetween(ctx context.Context, accountID int64, from, to time.Time, successOnly bool) ([]model.AttemptLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.AttemptLog
	for i := len(l.records) - 1; i >= 0; i-- {
		r := l.records[i]
		if r.AccountID != accountID || r.CreatedAt.Before(from) || !r.CreatedAt.Before(to) {
			continue
		}
		if successOnly && !r.IsSuccess {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (l *AttemptLogs) Query(ctx context.Context, q model.AttemptLogQuery) ([]model.AttemptLog, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []model.AttemptLog
	for i := len(l.records) - 1; i >= 0; i-- {
		r := l.records[i]
		if q.AccountID != nil && r.AccountID != *q.AccountID {
			continue
		}
		if q.Level != nil && r.Level != *q.Level {
			continue
		}
		if q.From != nil && r.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && !r.CreatedAt.Before(*q.To) {
			continue
		}
		matched = append(matched, r)
	}

	total := len(matched)
	start := min(q.Offset, total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	return matched[start:end], total, nil
}

func (l *AttemptLogs) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return 0, l.Err
	}
	kept := l.records[:0]
	var deleted int64
	for _, r := range l.records {
		if r.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return deleted, nil
}

// Records returns the records of accountID in insertion order.
func (l *AttemptLogs) Records(accountID int64) []model.AttemptLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.AttemptLog
	for _, r := range l.records {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out
}

// Seed appends a record with an explicit timestamp.
func (l *AttemptLogs) Seed(record model.AttemptLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	record.ID = l.nextID
	l.records = append(l.records, record)
}

type EmailConfigs struct {
	Active *model.EmailConfig
	Err    error
}

func (e *EmailConfigs) FindActive(ctx context.Context) (*model.EmailConfig, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Active, nil
}
