package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cmsauto/autologin-server-go/internal/metrics"
	"github.com/cmsauto/autologin-server-go/internal/repository"
)

// RetentionJob periodically deletes attempt records older than the
// retention window.
type RetentionJob struct {
	logRepo   repository.AttemptLogRepository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	stopped   chan struct{}
}

func NewRetentionJob(logRepo repository.AttemptLogRepository, retention, interval time.Duration) *RetentionJob {
	return &RetentionJob{
		logRepo:   logRepo,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	defer close(j.stopped)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.purge()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.purge()
		}
	}
}

func (j *RetentionJob) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.logRepo.DeleteOlderThan(ctx, j.now().Add(-j.retention))
	if err != nil {
		log.Error().Err(err).Msg("failed to purge attempt records")
		return
	}
	if count > 0 {
		metrics.AttemptLogsPurgedTotal.Add(float64(count))
		log.Info().Int64("count", count).Msg("purged attempt records")
	}
}
