package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cmsauto/autologin-server-go/internal/model"
	"github.com/cmsauto/autologin-server-go/internal/repository/repositorytest"
)

func TestRetentionJob(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("creates job with correct interval", func(t *testing.T) {
		job := NewRetentionJob(nil, 30*24*time.Hour, time.Hour)

		assert.NotNil(t, job)
		assert.Equal(t, time.Hour, job.interval)
		assert.Equal(t, 30*24*time.Hour, job.retention)
	})

	t.Run("purges old records on start", func(t *testing.T) {
		logs := repositorytest.NewAttemptLogs()
		logs.Seed(model.AttemptLog{AccountID: 1, Message: "old", CreatedAt: now.Add(-31 * 24 * time.Hour)})
		logs.Seed(model.AttemptLog{AccountID: 1, Message: "recent", CreatedAt: now.Add(-24 * time.Hour)})

		job := NewRetentionJob(logs, 30*24*time.Hour, time.Hour)
		job.now = func() time.Time { return now }

		job.Start()
		assert.Eventually(t, func() bool { return len(logs.Records(1)) == 1 }, time.Second, 5*time.Millisecond)
		job.Stop()

		records := logs.Records(1)
		assert.Equal(t, "recent", records[0].Message)
	})

	t.Run("survives repository errors", func(t *testing.T) {
		logs := repositorytest.NewAttemptLogs()
		logs.Err = errors.New("connection reset")

		job := NewRetentionJob(logs, time.Hour, 10*time.Millisecond)
		job.Start()
		time.Sleep(30 * time.Millisecond)
		job.Stop()
	})
}
