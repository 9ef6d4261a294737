package jobs

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/metrics"
	"github.com/cmsauto/autologin-server-go/internal/model"
)

// nextDailyRun returns the first hour:minute in loc strictly after now.
func nextDailyRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

func (o *Orchestrator) dailyLoop(stop, done chan struct{}) {
	defer close(done)

	for {
		next := nextDailyRun(o.now(), o.digestHour, o.digestMinute, o.loc)
		o.mu.Lock()
		o.daily.nextRun = &next
		o.mu.Unlock()

		timer := time.NewTimer(next.Sub(o.now()))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			o.fireDigest()
		}
	}
}

func (o *Orchestrator) fireDigest() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if !o.daily.state.lock.TryLock() {
			metrics.JobSkipsTotal.WithLabelValues("in_flight").Inc()
			log.Warn().Msg("previous daily digest still running, skipping")
			return
		}
		defer o.daily.state.lock.Unlock()
		o.runDigest()
	}()
}

func (o *Orchestrator) runDigest() {
	o.mu.Lock()
	o.daily.state.running = true
	o.mu.Unlock()

	var (
		sent int
		err  error
	)
	defer func() {
		success := err == nil
		message := fmt.Sprintf("sent %d daily log mails", sent)
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("daily digest panicked")
			success, message = false, MessageRunInterrupted
		} else if appErr, ok := apperrors.AsAppError(err); ok {
			message = appErr.Message
		} else if err != nil {
			message = err.Error()
		}
		metrics.JobRunsTotal.WithLabelValues(string(model.JobTriggerDaily), resultLabel(success)).Inc()

		now := o.now()
		o.mu.Lock()
		o.daily.state.running = false
		o.daily.state.lastRunAt = &now
		o.daily.state.lastSuccess = &success
		o.daily.state.lastMessage = message
		o.mu.Unlock()
	}()

	sent, err = o.digest.SendDailyDigest(o.baseCtx, nil)
	if err != nil {
		log.Error().Err(err).Msg("daily digest failed")
	}
}

func (o *Orchestrator) dailyStatusLocked() model.JobStatus {
	status := model.JobStatus{
		ID:          model.DailyDigestJobID,
		Name:        "Daily log email",
		Active:      o.daily.stop != nil,
		Running:     o.daily.state.running,
		Trigger:     fmt.Sprintf("daily at %02d:%02d", o.digestHour, o.digestMinute),
		LastRunAt:   o.daily.state.lastRunAt,
		LastSuccess: o.daily.state.lastSuccess,
		LastMessage: o.daily.state.lastMessage,
	}
	if status.Active {
		status.NextRunAt = o.daily.nextRun
	}
	return status
}
