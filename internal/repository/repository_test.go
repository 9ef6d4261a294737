package repository

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmsauto/autologin-server-go/internal/database"
	"github.com/cmsauto/autologin-server-go/internal/model"
	"github.com/cmsauto/autologin-server-go/internal/util"
)

func TestAccountRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	box, err := util.NewSecretBox("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	repo := NewAccountRepository(db.DB, box)
	ctx := context.Background()

	active := createAccount(t, repo, "alpha", true, true)
	createAccount(t, repo, "beta", false, true)
	createAccount(t, repo, "gamma", true, false)

	t.Run("FindByID decrypts secret", func(t *testing.T) {
		found, err := repo.FindByID(ctx, active.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "alpha", found.Name)
		assert.Equal(t, "secret-alpha", found.Secret)

		var stored string
		require.NoError(t, db.GetContext(ctx, &stored, `SELECT secret FROM accounts WHERE id = $1`, active.ID))
		assert.NotEqual(t, "secret-alpha", stored)
	})

	t.Run("FindByID returns nil for missing account", func(t *testing.T) {
		found, err := repo.FindByID(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("FindActive applies filter", func(t *testing.T) {
		all, err := repo.FindActive(ctx, model.AccountFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		eligible, err := repo.FindActive(ctx, model.AccountFilter{ActiveOnly: true, NotificationOnly: true})
		require.NoError(t, err)
		require.Len(t, eligible, 1)
		assert.Equal(t, "alpha", eligible[0].Name)
	})
}

func TestScheduleRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	accounts := NewAccountRepository(db.DB, nil)
	repo := NewScheduleRepository(db.DB)
	ctx := context.Background()

	account := createAccount(t, accounts, "alpha", true, true)
	next := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)

	t.Run("Upsert inserts then updates one row", func(t *testing.T) {
		first, err := repo.Upsert(ctx, model.UpsertScheduleParams{
			AccountID: account.ID, Name: "first", IntervalMinutes: 10, IsActive: true, NextRunAt: &next,
		})
		require.NoError(t, err)

		second, err := repo.Upsert(ctx, model.UpsertScheduleParams{
			AccountID: account.ID, Name: "second", IntervalMinutes: 5, IsActive: true, NextRunAt: &next,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 5, second.IntervalMinutes)
		assert.Equal(t, "second", second.Name)
	})

	t.Run("FindActive lists active schedules", func(t *testing.T) {
		schedules, err := repo.FindActive(ctx)
		require.NoError(t, err)
		require.Len(t, schedules, 1)
		assert.Equal(t, account.ID, schedules[0].AccountID)
	})

	t.Run("Deactivate keeps interval", func(t *testing.T) {
		require.NoError(t, repo.Deactivate(ctx, account.ID, true))

		schedule, err := repo.FindByAccountID(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, schedule)
		assert.False(t, schedule.IsActive)
		assert.Nil(t, schedule.NextRunAt)
		assert.Equal(t, 5, schedule.IntervalMinutes)

		schedules, err := repo.FindActive(ctx)
		require.NoError(t, err)
		assert.Empty(t, schedules)
	})

	t.Run("FindByAccountID returns nil when missing", func(t *testing.T) {
		schedule, err := repo.FindByAccountID(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, schedule)
	})
}

func TestAttemptLogRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	accounts := NewAccountRepository(db.DB, nil)
	repo := NewAttemptLogRepository(db.DB)
	ctx := context.Background()

	account := createAccount(t, accounts, "alpha", true, true)
	details := json.RawMessage(`{"iErrCode":0}`)

	require.NoError(t, repo.Append(ctx, model.AppendAttemptLogParams{
		AccountID: account.ID, Level: model.LogLevelInfo, Message: "attempt 1",
	}))
	require.NoError(t, repo.Append(ctx, model.AppendAttemptLogParams{
		AccountID: account.ID, Level: model.LogLevelInfo, Message: "login result", Details: &details,
	}))
	require.NoError(t, repo.Append(ctx, model.AppendAttemptLogParams{
		AccountID: account.ID, Level: model.LogLevelError, Message: "login succeeded", IsSuccess: true,
	}))

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)

	t.Run("FindByAccountBetween", func(t *testing.T) {
		logs, err := repo.FindByAccountBetween(ctx, account.ID, from, to, false)
		require.NoError(t, err)
		assert.Len(t, logs, 3)
		assert.Equal(t, "login succeeded", logs[0].Message)

		successes, err := repo.FindByAccountBetween(ctx, account.ID, from, to, true)
		require.NoError(t, err)
		require.Len(t, successes, 1)
		assert.True(t, successes[0].IsSuccess)
	})

	t.Run("Query filters and counts", func(t *testing.T) {
		level := model.LogLevelInfo
		logs, total, err := repo.Query(ctx, model.AttemptLogQuery{AccountID: &account.ID, Level: &level, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, logs, 1)
		require.NotNil(t, logs[0].Details)
		assert.JSONEq(t, `{"iErrCode":0}`, string(*logs[0].Details))
	})

	t.Run("DeleteOlderThan", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `UPDATE attempt_logs SET created_at = NOW() - INTERVAL '40 days' WHERE message = 'attempt 1'`)
		require.NoError(t, err)

		deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})
}

func TestEmailConfigRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewEmailConfigRepository(db.DB)
	ctx := context.Background()

	cfg, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = db.ExecContext(ctx, `
		INSERT INTO email_configs (smtp_host, smtp_port, sender_email, sender_password, default_receiver)
		VALUES ('smtp.example.com', 465, 'bot@example.com', 'pw', 'ops@example.com')
	`)
	require.NoError(t, err)

	cfg, err = repo.FindActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "ops@example.com", cfg.DefaultReceiver)
	assert.Equal(t, 465, cfg.SMTPPort)
}

func createAccount(t *testing.T, repo AccountRepository, name string, active, notify bool) *model.Account {
	t.Helper()
	account, err := repo.Create(context.Background(), model.CreateAccountParams{
		Name:              name,
		LoginName:         name + "@example.com",
		Secret:            "secret-" + name,
		IsActive:          active,
		EmailNotification: notify,
	})
	require.NoError(t, err)
	return account
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	_, err = db.Exec(`TRUNCATE attempt_logs, schedules, email_configs, accounts RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}
