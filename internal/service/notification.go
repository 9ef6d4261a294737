package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/metrics"
	"github.com/cmsauto/autologin-server-go/internal/model"
	"github.com/cmsauto/autologin-server-go/internal/notify"
	"github.com/cmsauto/autologin-server-go/internal/repository"
	"github.com/cmsauto/autologin-server-go/internal/util"
)

const (
	timeLayout     = "15:04:05"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// EmailSettingsSource prefers the active email configuration row and falls
// back to the environment settings.
type EmailSettingsSource struct {
	repo     repository.EmailConfigRepository
	fallback notify.Settings
}

func NewEmailSettingsSource(repo repository.EmailConfigRepository, fallback notify.Settings) *EmailSettingsSource {
	return &EmailSettingsSource{repo: repo, fallback: fallback}
}

func (s *EmailSettingsSource) SMTPSettings(ctx context.Context) (notify.Settings, error) {
	cfg, err := s.repo.FindActive(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load email config, using environment settings")
		return s.fallback, nil
	}
	if cfg == nil {
		return s.fallback, nil
	}
	return notify.Settings{
		Host:            cfg.SMTPHost,
		Port:            cfg.SMTPPort,
		Username:        cfg.SenderEmail,
		Password:        cfg.SenderPassword,
		Sender:          cfg.SenderEmail,
		DefaultReceiver: cfg.DefaultReceiver,
	}, nil
}

// NotificationService composes the login success mail and the daily digest.
type NotificationService struct {
	accounts repository.AccountRepository
	logs     repository.AttemptLogRepository
	settings notify.SettingsProvider
	notifier notify.Notifier
	loc      *time.Location
	now      func() time.Time
}

func NewNotificationService(
	accounts repository.AccountRepository,
	logs repository.AttemptLogRepository,
	settings notify.SettingsProvider,
	notifier notify.Notifier,
	loc *time.Location,
) *NotificationService {
	if loc == nil {
		loc = time.Local
	}
	return &NotificationService{
		accounts: accounts,
		logs:     logs,
		settings: settings,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
	}
}

// NotifyLoginSuccess mails today's successful logins of account to its
// recipient. Accounts with notifications off are skipped.
func (s *NotificationService) NotifyLoginSuccess(ctx context.Context, account *model.Account) error {
	if !account.EmailNotification {
		return nil
	}

	recipient, err := s.recipient(ctx, account)
	if err != nil {
		return err
	}

	now := s.now().In(s.loc)
	from, to := util.DayBounds(now, s.loc)
	successes, err := s.logs.FindByAccountBetween(ctx, account.ID, from, to, true)
	if err != nil {
		return apperrors.Database(err)
	}

	day := now.Format(util.DateLayout)
	subject := fmt.Sprintf("Auto login succeeded - %s - %s", account.Name, day)

	var body strings.Builder
	fmt.Fprintf(&body, "Account: %s\n", account.Name)
	fmt.Fprintf(&body, "Login: %s\n", account.LoginName)
	fmt.Fprintf(&body, "Time: %s\n", now.Format(dateTimeLayout))
	body.WriteString("Status: success\n\n")
	body.WriteString("Successful logins today:\n")
	for _, entry := range successes {
		fmt.Fprintf(&body, "[%s] %s\n", entry.CreatedAt.In(s.loc).Format(timeLayout), entry.Message)
	}
	body.WriteString("\n---\nSent by the auto login service\n")

	if err := s.send(ctx, "login_success", recipient, subject, body.String()); err != nil {
		return err
	}

	s.appendInfo(ctx, account.ID, fmt.Sprintf("Login success mail sent to %s", recipient))
	return nil
}

// SendDailyDigest mails today's records to every eligible account, or to the
// given account only. It returns the number of mails sent.
func (s *NotificationService) SendDailyDigest(ctx context.Context, accountID *int64) (int, error) {
	var accounts []model.Account
	if accountID != nil {
		account, err := s.accounts.FindByID(ctx, *accountID)
		if err != nil {
			return 0, apperrors.Database(err)
		}
		if account == nil {
			return 0, apperrors.NotFound("Account")
		}
		accounts = []model.Account{*account}
	} else {
		var err error
		accounts, err = s.accounts.FindActive(ctx, model.AccountFilter{ActiveOnly: true, NotificationOnly: true})
		if err != nil {
			return 0, apperrors.Database(err)
		}
	}

	now := s.now().In(s.loc)
	from, to := util.DayBounds(now, s.loc)
	day := now.Format(util.DateLayout)

	sent := 0
	for i := range accounts {
		account := &accounts[i]
		if !account.EmailNotification {
			continue
		}

		entries, err := s.logs.FindByAccountBetween(ctx, account.ID, from, to, false)
		if err != nil {
			log.Error().Err(err).Int64("accountId", account.ID).Msg("failed to load records for digest")
			continue
		}
		if len(entries) == 0 {
			continue
		}

		recipient, err := s.recipient(ctx, account)
		if err != nil {
			log.Warn().Err(err).Int64("accountId", account.ID).Msg("no digest recipient")
			continue
		}

		subject := fmt.Sprintf("Auto login log - %s - %s", account.Name, day)
		if err := s.send(ctx, "daily_digest", recipient, subject, digestBody(account, day, entries, s.loc)); err != nil {
			continue
		}
		sent++
		s.appendInfo(ctx, account.ID, fmt.Sprintf("Daily log mail sent to %s", recipient))
	}

	log.Info().Int("sent", sent).Int("accounts", len(accounts)).Msg("daily digest finished")
	return sent, nil
}

func digestBody(account *model.Account, day string, entries []model.AttemptLog, loc *time.Location) string {
	var body strings.Builder
	fmt.Fprintf(&body, "Account: %s\n", account.Name)
	fmt.Fprintf(&body, "Login: %s\n", account.LoginName)
	fmt.Fprintf(&body, "Date: %s\n\n", day)
	body.WriteString("Today's login records:\n")

	successes := 0
	for _, entry := range entries {
		mark := "FAIL"
		if entry.IsSuccess {
			mark = " OK "
			successes++
		}
		fmt.Fprintf(&body, "[%s] [%s] [%s] %s\n",
			mark, entry.CreatedAt.In(loc).Format(timeLayout), entry.Level, entry.Message)
	}

	fmt.Fprintf(&body, "\n---\nSummary:\nTotal records: %d\nSuccessful: %d\nOther: %d\n\n",
		len(entries), successes, len(entries)-successes)
	body.WriteString("Sent by the auto login service\n")
	return body.String()
}

func (s *NotificationService) recipient(ctx context.Context, account *model.Account) (string, error) {
	settings, err := s.settings.SMTPSettings(ctx)
	if err != nil {
		return "", err
	}
	recipient := account.Recipient(settings.DefaultReceiver)
	if recipient == "" {
		return "", apperrors.NotConfigured("no recipient configured")
	}
	return recipient, nil
}

func (s *NotificationService) send(ctx context.Context, kind, to, subject, body string) error {
	if err := s.notifier.Notify(ctx, to, subject, body); err != nil {
		metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
		log.Error().Err(err).Str("kind", kind).Str("to", util.MaskEmail(to)).Msg("failed to send notification")
		return apperrors.External("smtp", err)
	}
	metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	return nil
}

func (s *NotificationService) appendInfo(ctx context.Context, accountID int64, message string) {
	if err := s.logs.Append(ctx, model.AppendAttemptLogParams{
		AccountID: accountID,
		Level:     model.LogLevelInfo,
		Message:   message,
	}); err != nil {
		log.Error().Err(err).Int64("accountId", accountID).Msg("failed to save notification record")
	}
}
