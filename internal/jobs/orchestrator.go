package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/metrics"
	"github.com/cmsauto/autologin-server-go/internal/model"
	"github.com/cmsauto/autologin-server-go/internal/redis"
	"github.com/cmsauto/autologin-server-go/internal/repository"
)

const (
	MessageRunCancelled   = "login run cancelled"
	MessageRunningRemote  = "login already running on another instance"
	MessageRunInterrupted = "login run aborted by an internal error"

	MessageAccountNotFound   = "account not found"
	MessageAccountLoadFailed = "failed to load account"
)

type LoginRunner interface {
	RunAttempt(ctx context.Context, accountID int64) (bool, string)
}

type DigestSender interface {
	SendDailyDigest(ctx context.Context, accountID *int64) (int, error)
}

// RunLocker guards runs of one account across processes.
type RunLocker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

type Options struct {
	MaxConcurrentJobs int
	DigestHour        int
	DigestMinute      int
	Location          *time.Location
	// Locker is optional.
	Locker RunLocker
}

type accountJob struct {
	accountID int64
	name      string
	interval  int
	active    bool
	nextRun   *time.Time
	stop      chan struct{}
	done      chan struct{}
}

type runState struct {
	lock        sync.Mutex
	running     bool
	lastRunAt   *time.Time
	lastSuccess *bool
	lastMessage string
}

// Orchestrator owns the per-account interval timers and the daily digest
// timer. The in-memory timers are authoritative; schedule rows only mirror them.
type Orchestrator struct {
	accounts  repository.AccountRepository
	schedules repository.ScheduleRepository
	runner    LoginRunner
	digest    DigestSender
	locker    RunLocker
	sem       *semaphore.Weighted
	loc       *time.Location

	digestHour   int
	digestMinute int

	// minute is the length of one schedule interval unit.
	minute time.Duration
	now    func() time.Time

	// ctl serializes control operations; mu guards the maps below.
	ctl   sync.Mutex
	mu    sync.Mutex
	jobs  map[int64]*accountJob
	runs  map[int64]*runState
	daily struct {
		state   runState
		nextRun *time.Time
		stop    chan struct{}
		done    chan struct{}
	}
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewOrchestrator(
	accounts repository.AccountRepository,
	schedules repository.ScheduleRepository,
	runner LoginRunner,
	digest DigestSender,
	opts Options,
) *Orchestrator {
	if opts.MaxConcurrentJobs < 1 {
		opts.MaxConcurrentJobs = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		accounts:     accounts,
		schedules:    schedules,
		runner:       runner,
		digest:       digest,
		locker:       opts.Locker,
		sem:          semaphore.NewWeighted(int64(opts.MaxConcurrentJobs)),
		loc:          opts.Location,
		digestHour:   opts.DigestHour,
		digestMinute: opts.DigestMinute,
		minute:       time.Minute,
		now:          time.Now,
		jobs:         make(map[int64]*accountJob),
		runs:         make(map[int64]*runState),
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// Start arms the daily digest timer.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.daily.stop != nil {
		return
	}
	next := nextDailyRun(o.now(), o.digestHour, o.digestMinute, o.loc)
	o.daily.nextRun = &next
	o.daily.stop = make(chan struct{})
	o.daily.done = make(chan struct{})
	go o.dailyLoop(o.daily.stop, o.daily.done)
	log.Info().
		Int("hour", o.digestHour).
		Int("minute", o.digestMinute).
		Str("timezone", o.loc.String()).
		Msg("daily digest job started")
}

// Restore re-arms every active stored schedule.
func (o *Orchestrator) Restore(ctx context.Context) error {
	schedules, err := o.schedules.FindActive(ctx)
	if err != nil {
		return apperrors.Database(err)
	}

	o.ctl.Lock()
	defer o.ctl.Unlock()

	for _, s := range schedules {
		if s.IntervalMinutes <= 0 {
			continue
		}
		o.cancelTimer(s.AccountID)
		next := o.arm(s.AccountID, s.Name, s.IntervalMinutes)
		o.mirror(ctx, s.AccountID, s.Name, s.IntervalMinutes, next)
	}
	log.Info().Int("count", len(schedules)).Msg("restored account schedules")
	return nil
}

// Schedule replaces the timer of accountID with one firing every
// intervalMinutes. The previous timer is stopped before the new one starts.
func (o *Orchestrator) Schedule(ctx context.Context, accountID int64, intervalMinutes int, label string) error {
	if intervalMinutes <= 0 {
		return apperrors.ValidationError("intervalMinutes must be a positive number of minutes")
	}

	o.ctl.Lock()
	defer o.ctl.Unlock()

	account, err := o.accounts.FindByID(ctx, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if account == nil {
		return apperrors.NotFound("Account")
	}
	if label == "" {
		label = model.DefaultScheduleName(account.Name)
	}

	o.cancelTimer(accountID)
	next := o.arm(accountID, label, intervalMinutes)
	o.mirror(ctx, accountID, label, intervalMinutes, next)

	log.Info().
		Int64("accountId", accountID).
		Int("intervalMinutes", intervalMinutes).
		Str("name", label).
		Msg("account scheduled")
	return nil
}

// Unschedule stops the timer of accountID and forgets its definition.
func (o *Orchestrator) Unschedule(ctx context.Context, accountID int64) error {
	o.ctl.Lock()
	defer o.ctl.Unlock()

	o.cancelTimer(accountID)
	o.mu.Lock()
	delete(o.jobs, accountID)
	o.mu.Unlock()
	o.updateScheduledGauge()

	if err := o.schedules.Deactivate(ctx, accountID, true); err != nil {
		return apperrors.Database(err)
	}
	log.Info().Int64("accountId", accountID).Msg("account unscheduled")
	return nil
}

// Toggle pauses a live timer, or re-arms a paused one from the in-memory
// definition or the stored schedule row.
func (o *Orchestrator) Toggle(ctx context.Context, accountID int64) (active bool, err error) {
	o.ctl.Lock()
	defer o.ctl.Unlock()

	o.mu.Lock()
	job := o.jobs[accountID]
	o.mu.Unlock()

	if job != nil && job.active {
		o.cancelTimer(accountID)
		if err := o.schedules.Deactivate(ctx, accountID, false); err != nil {
			return false, apperrors.Database(err)
		}
		log.Info().Int64("accountId", accountID).Msg("account schedule paused")
		return false, nil
	}

	name, interval := "", 0
	if job != nil {
		name, interval = job.name, job.interval
	}
	if interval <= 0 {
		stored, err := o.schedules.FindByAccountID(ctx, accountID)
		if err != nil {
			return false, apperrors.Database(err)
		}
		if stored != nil {
			name, interval = stored.Name, stored.IntervalMinutes
		}
	}
	if interval <= 0 {
		return false, apperrors.NotConfigured("no schedule configured for this account")
	}
	if name == "" {
		account, err := o.accounts.FindByID(ctx, accountID)
		if err != nil {
			return false, apperrors.Database(err)
		}
		if account == nil {
			return false, apperrors.NotFound("Account")
		}
		name = model.DefaultScheduleName(account.Name)
	}

	next := o.arm(accountID, name, interval)
	o.mirror(ctx, accountID, name, interval, next)
	log.Info().Int64("accountId", accountID).Int("intervalMinutes", interval).Msg("account schedule resumed")
	return true, nil
}

// RunNow runs the login sequence of accountID immediately, waiting behind a
// run already in flight for the same account. ctx only bounds the account
// lookup; the sequence itself runs on the orchestrator's context and Shutdown
// waits for it.
func (o *Orchestrator) RunNow(ctx context.Context, accountID int64) (bool, string) {
	account, err := o.accounts.FindByID(ctx, accountID)
	if err != nil {
		log.Error().Err(err).Int64("accountId", accountID).Msg("failed to load account")
		return false, MessageAccountLoadFailed
	}
	if account == nil {
		return false, MessageAccountNotFound
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, MessageRunCancelled
	}
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	state := o.runState(accountID)
	state.lock.Lock()
	defer state.lock.Unlock()
	return o.execute(o.baseCtx, accountID, model.JobTriggerManual)
}

// ListJobs returns the account jobs ordered by account id followed by the
// daily digest job.
func (o *Orchestrator) ListJobs() []model.JobStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]int64, 0, len(o.jobs))
	for id := range o.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]model.JobStatus, 0, len(ids)+1)
	for _, id := range ids {
		out = append(out, o.statusLocked(id))
	}
	out = append(out, o.dailyStatusLocked())
	return out
}

// JobStatus reports the job of accountID, or an inactive status when the
// account has none.
func (o *Orchestrator) JobStatus(accountID int64) model.JobStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked(accountID)
}

// Shutdown stops every timer and waits for in-flight runs. Runs still going
// when ctx ends are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.ctl.Lock()
	o.mu.Lock()
	o.closed = true
	ids := make([]int64, 0, len(o.jobs))
	for id := range o.jobs {
		ids = append(ids, id)
	}
	dailyStop, dailyDone := o.daily.stop, o.daily.done
	o.daily.stop, o.daily.done = nil, nil
	o.mu.Unlock()

	for _, id := range ids {
		o.cancelTimer(id)
	}
	if dailyStop != nil {
		close(dailyStop)
		<-dailyDone
	}
	o.ctl.Unlock()

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		o.cancel()
		log.Info().Msg("orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.cancel()
		<-finished
		return ctx.Err()
	}
}

// arm starts the timer goroutine of accountID. Callers hold ctl and have
// cancelled any previous timer.
func (o *Orchestrator) arm(accountID int64, name string, interval int) time.Time {
	every := time.Duration(interval) * o.minute
	next := o.now().Add(every)

	o.mu.Lock()
	job := o.jobs[accountID]
	if job == nil {
		job = &accountJob{accountID: accountID}
		o.jobs[accountID] = job
	}
	job.name = name
	job.interval = interval
	job.nextRun = &next
	if o.closed {
		job.active = false
		o.mu.Unlock()
		return next
	}
	job.active = true
	job.stop = make(chan struct{})
	job.done = make(chan struct{})
	go o.accountLoop(job, every, job.stop, job.done)
	o.mu.Unlock()

	o.updateScheduledGauge()
	return next
}

// cancelTimer stops the timer goroutine of accountID and waits for it to
// exit. The definition stays in memory as paused.
func (o *Orchestrator) cancelTimer(accountID int64) {
	o.mu.Lock()
	job := o.jobs[accountID]
	if job == nil || job.stop == nil {
		o.mu.Unlock()
		return
	}
	stop, done := job.stop, job.done
	job.stop, job.done = nil, nil
	job.active = false
	job.nextRun = nil
	o.mu.Unlock()

	close(stop)
	<-done
	o.updateScheduledGauge()
}

func (o *Orchestrator) accountLoop(job *accountJob, every time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			next := o.now().Add(every)
			o.mu.Lock()
			job.nextRun = &next
			o.mu.Unlock()
			o.fire(job.accountID)
		}
	}
}

// fire starts a timer-triggered run on its own goroutine. A run already in
// flight for the account makes this tick a no-op.
func (o *Orchestrator) fire(accountID int64) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		state := o.runState(accountID)
		if !state.lock.TryLock() {
			metrics.JobSkipsTotal.WithLabelValues("in_flight").Inc()
			log.Warn().Int64("accountId", accountID).Msg("previous login run still in flight, skipping tick")
			return
		}
		defer state.lock.Unlock()
		o.execute(o.baseCtx, accountID, model.JobTriggerTimer)
	}()
}

// execute runs one login sequence. Callers hold the account's run lock.
func (o *Orchestrator) execute(ctx context.Context, accountID int64, trigger model.JobTrigger) (success bool, message string) {
	if o.locker != nil {
		release, err := o.locker.Acquire(ctx, redis.RunLockKey(accountID))
		switch {
		case errors.Is(err, redis.ErrLockHeld):
			metrics.JobSkipsTotal.WithLabelValues("remote_lock").Inc()
			log.Warn().Int64("accountId", accountID).Msg("login run held by another instance")
			return false, MessageRunningRemote
		case err != nil:
			log.Warn().Err(err).Int64("accountId", accountID).Msg("run lock unavailable, continuing without it")
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Int64("accountId", accountID).Msg("failed to release run lock")
				}
			}()
		}
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return false, MessageRunCancelled
	}
	defer o.sem.Release(1)

	o.setRunning(accountID, true)
	metrics.JobsRunning.Inc()
	defer func() {
		metrics.JobsRunning.Dec()
		if r := recover(); r != nil {
			log.Error().
				Int64("accountId", accountID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("login run panicked")
			metrics.JobRunsTotal.WithLabelValues(string(trigger), "panic").Inc()
			success, message = false, MessageRunInterrupted
		} else {
			metrics.JobRunsTotal.WithLabelValues(string(trigger), resultLabel(success)).Inc()
		}
		o.finishRun(accountID, success, message)
	}()

	log.Info().Int64("accountId", accountID).Str("trigger", string(trigger)).Msg("login run started")
	success, message = o.runner.RunAttempt(ctx, accountID)
	log.Info().
		Int64("accountId", accountID).
		Str("trigger", string(trigger)).
		Bool("success", success).
		Str("message", message).
		Msg("login run finished")
	return success, message
}

func (o *Orchestrator) mirror(ctx context.Context, accountID int64, name string, interval int, next time.Time) {
	_, err := o.schedules.Upsert(ctx, model.UpsertScheduleParams{
		AccountID:       accountID,
		Name:            name,
		IntervalMinutes: interval,
		IsActive:        true,
		NextRunAt:       &next,
	})
	if err != nil {
		log.Error().Err(err).Int64("accountId", accountID).Msg("failed to mirror schedule")
	}
}

func (o *Orchestrator) runState(accountID int64) *runState {
	o.mu.Lock()
	defer o.mu.Unlock()
	state := o.runs[accountID]
	if state == nil {
		state = &runState{}
		o.runs[accountID] = state
	}
	return state
}

func (o *Orchestrator) setRunning(accountID int64, running bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if state := o.runs[accountID]; state != nil {
		state.running = running
	}
}

func (o *Orchestrator) finishRun(accountID int64, success bool, message string) {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	state := o.runs[accountID]
	if state == nil {
		return
	}
	state.running = false
	state.lastRunAt = &now
	state.lastSuccess = &success
	state.lastMessage = message
}

func (o *Orchestrator) statusLocked(accountID int64) model.JobStatus {
	id := accountID
	status := model.JobStatus{
		ID:        model.AccountJobID(accountID),
		AccountID: &id,
		Trigger:   string(model.JobTriggerTimer),
	}
	if job := o.jobs[accountID]; job != nil {
		status.Name = job.name
		status.Active = job.active
		status.IntervalMinutes = job.interval
		status.Trigger = fmt.Sprintf("every %d minutes", job.interval)
		if job.active {
			status.NextRunAt = job.nextRun
		}
	}
	if state := o.runs[accountID]; state != nil {
		status.Running = state.running
		status.LastRunAt = state.lastRunAt
		status.LastSuccess = state.lastSuccess
		status.LastMessage = state.lastMessage
	}
	return status
}

func (o *Orchestrator) updateScheduledGauge() {
	o.mu.Lock()
	defer o.mu.Unlock()
	active := 0
	for _, job := range o.jobs {
		if job.active {
			active++
		}
	}
	metrics.ScheduledAccounts.Set(float64(active))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
