package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cmsauto/autologin-server-go/internal/model"
)

type ScheduleRepository interface {
	FindByAccountID(ctx context.Context, accountID int64) (*model.Schedule, error)
	FindActive(ctx context.Context) ([]model.Schedule, error)
	Upsert(ctx context.Context, params model.UpsertScheduleParams) (*model.Schedule, error)
	// Deactivate marks the schedule inactive. clearNextRun also nulls next_run_at.
	Deactivate(ctx context.Context, accountID int64, clearNextRun bool) error
}

type scheduleRepo struct {
	db sqlxDB
}

func NewScheduleRepository(db *sqlx.DB) ScheduleRepository {
	return &scheduleRepo{db: db}
}

func (r *scheduleRepo) FindByAccountID(ctx context.Context, accountID int64) (*model.Schedule, error) {
	var schedule model.Schedule
	err := r.db.GetContext(ctx, &schedule, `
		SELECT * FROM schedules WHERE account_id = $1
	`, accountID)
	return HandleNotFound(&schedule, err)
}

func (r *scheduleRepo) FindActive(ctx context.Context) ([]model.Schedule, error) {
	var schedules []model.Schedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT s.* FROM schedules s
		JOIN accounts a ON a.id = s.account_id
		WHERE s.is_active = TRUE AND a.is_active = TRUE
		ORDER BY s.account_id
	`)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *scheduleRepo) Upsert(ctx context.Context, params model.UpsertScheduleParams) (*model.Schedule, error) {
	var schedule model.Schedule
	err := r.db.GetContext(ctx, &schedule, `
		INSERT INTO schedules (account_id, name, interval_minutes, is_active, next_run_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			name = EXCLUDED.name,
			interval_minutes = EXCLUDED.interval_minutes,
			is_active = EXCLUDED.is_active,
			next_run_at = EXCLUDED.next_run_at,
			updated_at = $6
		RETURNING *
	`, params.AccountID, params.Name, params.IntervalMinutes, params.IsActive, params.NextRunAt, time.Now())
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *scheduleRepo) Deactivate(ctx context.Context, accountID int64, clearNextRun bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			is_active = FALSE,
			next_run_at = CASE WHEN $2 THEN NULL ELSE next_run_at END,
			updated_at = $3
		WHERE account_id = $1
	`, accountID, clearNextRun, time.Now())
	return err
}
