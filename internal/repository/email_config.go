package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/cmsauto/autologin-server-go/internal/model"
)

type EmailConfigRepository interface {
	FindActive(ctx context.Context) (*model.EmailConfig, error)
}

type emailConfigRepo struct {
	db sqlxDB
}

func NewEmailConfigRepository(db *sqlx.DB) EmailConfigRepository {
	return &emailConfigRepo{db: db}
}

func (r *emailConfigRepo) FindActive(ctx context.Context) (*model.EmailConfig, error) {
	var cfg model.EmailConfig
	err := r.db.GetContext(ctx, &cfg, `
		SELECT * FROM email_configs
		WHERE is_active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1
	`)
	return HandleNotFound(&cfg, err)
}
