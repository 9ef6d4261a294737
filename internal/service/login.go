package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/cmsauto/autologin-server-go/internal/model"
	"github.com/cmsauto/autologin-server-go/internal/repository"
)

const (
	MessageAccountNotFound = "account not found"
	MessageAccountDisabled = "account is disabled"
)

type AttemptRunner interface {
	Run(ctx context.Context, account *model.Account) (bool, string)
}

type SuccessNotifier interface {
	NotifyLoginSuccess(ctx context.Context, account *model.Account) error
}

// LoginService is the entry point for running one login sequence for an
// account, from a timer or a manual trigger.
type LoginService struct {
	accounts repository.AccountRepository
	runner   AttemptRunner
	notifier SuccessNotifier
}

func NewLoginService(accounts repository.AccountRepository, runner AttemptRunner, notifier SuccessNotifier) *LoginService {
	return &LoginService{
		accounts: accounts,
		runner:   runner,
		notifier: notifier,
	}
}

// RunAttempt loads the account, runs the attempt sequence and requests the
// success notification. Notification failures do not change the outcome.
func (s *LoginService) RunAttempt(ctx context.Context, accountID int64) (bool, string) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		log.Error().Err(err).Int64("accountId", accountID).Msg("failed to load account")
		return false, "failed to load account"
	}
	if account == nil {
		return false, MessageAccountNotFound
	}
	if !account.IsActive {
		return false, MessageAccountDisabled
	}

	success, message := s.runner.Run(ctx, account)
	if success && account.EmailNotification && s.notifier != nil {
		if err := s.notifier.NotifyLoginSuccess(ctx, account); err != nil {
			log.Warn().Err(err).Int64("accountId", accountID).Msg("login success notification failed")
		}
	}
	return success, message
}
