package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cmsauto/autologin-server-go/internal/model"
	"github.com/cmsauto/autologin-server-go/internal/util"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Account, error)
	FindActive(ctx context.Context, filter model.AccountFilter) ([]model.Account, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
}

type accountRepo struct {
	db  sqlxDB
	box *util.SecretBox
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// NewAccountRepository returns a repository that decrypts secrets with box.
// box may be nil when secrets are stored in plain text.
func NewAccountRepository(db *sqlx.DB, box *util.SecretBox) AccountRepository {
	return &accountRepo{db: db, box: box}
}

func (r *accountRepo) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	found, err := HandleNotFound(&account, err)
	if err != nil || found == nil {
		return found, err
	}
	if err := r.open(found); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *accountRepo) FindActive(ctx context.Context, filter model.AccountFilter) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE ($1 = FALSE OR is_active = TRUE)
		  AND ($2 = FALSE OR email_notification = TRUE)
		ORDER BY id
	`, filter.ActiveOnly, filter.NotificationOnly)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if err := r.open(&accounts[i]); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	secret, err := r.box.Seal(params.Secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}

	var account model.Account
	err = r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (name, login_name, secret, is_active, email_notification, custom_email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.Name, params.LoginName, secret, params.IsActive, params.EmailNotification, params.CustomEmail)
	if err != nil {
		return nil, err
	}
	account.Secret = params.Secret
	return &account, nil
}

func (r *accountRepo) open(account *model.Account) error {
	secret, err := r.box.Open(account.Secret)
	if err != nil {
		return fmt.Errorf("open secret of account %d: %w", account.ID, err)
	}
	account.Secret = secret
	return nil
}
