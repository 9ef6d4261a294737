package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cmsauto/autologin-server-go/internal/model"
)

type AttemptLogRepository interface {
	Append(ctx context.Context, params model.AppendAttemptLogParams) error
	// FindByAccountBetween returns records in [from, to), newest first.
	FindByAccountBetween(ctx context.Context, accountID int64, from, to time.Time, successOnly bool) ([]model.AttemptLog, error)
	Query(ctx context.Context, q model.AttemptLogQuery) ([]model.AttemptLog, int, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type attemptLogRepo struct {
	db sqlxDB
}

func NewAttemptLogRepository(db *sqlx.DB) AttemptLogRepository {
	return &attemptLogRepo{db: db}
}

func (r *attemptLogRepo) Append(ctx context.Context, params model.AppendAttemptLogParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempt_logs (account_id, level, message, details, is_success)
		VALUES ($1, $2, $3, $4, $5)
	`, params.AccountID, params.Level, params.Message, params.Details, params.IsSuccess)
	return err
}

func (r *attemptLogRepo) FindByAccountBetween(ctx context.Context, accountID int64, from, to time.Time, successOnly bool) ([]model.AttemptLog, error) {
	var logs []model.AttemptLog
	err := r.db.SelectContext(ctx, &logs, `
		SELECT * FROM attempt_logs
		WHERE account_id = $1
		  AND created_at >= $2 AND created_at < $3
		  AND ($4 = FALSE OR is_success = TRUE)
		ORDER BY created_at DESC, id DESC
	`, accountID, from, to, successOnly)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *attemptLogRepo) Query(ctx context.Context, q model.AttemptLogQuery) ([]model.AttemptLog, int, error) {
	where, args := buildLogFilter(q)

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM attempt_logs`+where, args...); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`SELECT * FROM attempt_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	var logs []model.AttemptLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (r *attemptLogRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM attempt_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func buildLogFilter(q model.AttemptLogQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.AccountID != nil {
		add("account_id = $%d", *q.AccountID)
	}
	if q.Level != nil {
		add("level = $%d", *q.Level)
	}
	if q.From != nil {
		add("created_at >= $%d", *q.From)
	}
	if q.To != nil {
		add("created_at < $%d", *q.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
