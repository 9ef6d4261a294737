package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cmsauto/autologin-server-go/internal/cmsapi"
	"github.com/cmsauto/autologin-server-go/internal/config"
	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/metrics"
	"github.com/cmsauto/autologin-server-go/internal/model"
	"github.com/cmsauto/autologin-server-go/internal/repository"
	"github.com/cmsauto/autologin-server-go/internal/util"
)

const (
	MessageLoginSucceeded = "login succeeded"
	MessageLoginFailed    = "login failed"
	MessageLoginCancelled = "login cancelled"
)

// LoginAPI is the remote side of the handshake.
type LoginAPI interface {
	IssueToken(ctx context.Context) (string, error)
	FetchCaptcha(ctx context.Context, token string) ([]byte, error)
	Login(ctx context.Context, req cmsapi.LoginRequest) (*cmsapi.Envelope, error)
	ClubList(ctx context.Context, token string) (*cmsapi.ClubInfo, error)
}

type CaptchaResolver interface {
	Resolve(ctx context.Context, image []byte) (string, error)
}

// Failure is a failed handshake attempt tagged with where and why it failed.
type Failure struct {
	Stage model.AttemptStage
	Code  apperrors.ErrorCode
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", f.Stage, f.Code, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func newFailure(stage model.AttemptStage, err error) *Failure {
	return &Failure{Stage: stage, Code: apperrors.GetCode(err), Err: err}
}

// RetryDelay is the wait before the attempt following attempt n (1-based).
// Acquisition failures wait 2s, a server-side captcha rejection 1s, and any
// other submission failure 2^n seconds.
func RetryDelay(f *Failure, attempt int) time.Duration {
	switch f.Stage {
	case model.StageIssuing, model.StageCaptcha, model.StageRecognizing:
		return 2 * time.Second
	}
	if f.Code == apperrors.ErrCodeCaptchaInvalid {
		return time.Second
	}
	return time.Duration(1<<attempt) * time.Second
}

type AttemptOptions struct {
	MaxAttempts    int
	CaptchaMarker  string
	DualSuccessLog bool
}

// AttemptController runs the handshake for one account until it succeeds or
// the attempt budget is spent, recording every step.
type AttemptController struct {
	api      LoginAPI
	resolver CaptchaResolver
	logs     repository.AttemptLogRepository
	opts     AttemptOptions
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewAttemptController(
	api LoginAPI,
	resolver CaptchaResolver,
	logs repository.AttemptLogRepository,
	opts AttemptOptions,
) *AttemptController {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = config.MaxLoginAttempts
	}
	return &AttemptController{
		api:      api,
		resolver: resolver,
		logs:     logs,
		opts:     opts,
		sleep:    sleepContext,
	}
}

// Run executes the attempt sequence. Failures are recorded where they occur;
// only the outcome and a short message are returned.
func (c *AttemptController) Run(ctx context.Context, account *model.Account) (bool, string) {
	c.record(ctx, account.ID, model.LogLevelInfo, fmt.Sprintf("Starting automatic login for account [%s]", account.Name), nil, false)

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		c.record(ctx, account.ID, model.LogLevelInfo,
			fmt.Sprintf("Login attempt %d/%d for [%s]", attempt, c.opts.MaxAttempts, account.Name), nil, false)

		failure := c.attempt(ctx, account)
		if failure == nil {
			metrics.LoginRunsTotal.WithLabelValues("success").Inc()
			return true, MessageLoginSucceeded
		}

		metrics.HandshakeFailuresTotal.WithLabelValues(string(failure.Stage), string(failure.Code)).Inc()
		log.Warn().
			Err(failure.Err).
			Int64("accountId", account.ID).
			Int("attempt", attempt).
			Str("stage", string(failure.Stage)).
			Str("code", string(failure.Code)).
			Msg("login attempt failed")

		if attempt == c.opts.MaxAttempts {
			break
		}

		delay := RetryDelay(failure, attempt)
		c.record(ctx, account.ID, model.LogLevelInfo, fmt.Sprintf("Waiting %s before retrying", delay), nil, false)
		if err := c.sleep(ctx, delay); err != nil {
			c.record(ctx, account.ID, model.LogLevelWarning, "Login sequence cancelled during backoff", nil, false)
			return false, MessageLoginCancelled
		}
	}

	metrics.LoginRunsTotal.WithLabelValues("exhausted").Inc()
	exhausted := apperrors.Exhausted(c.opts.MaxAttempts)
	c.record(ctx, account.ID, model.LogLevelError,
		fmt.Sprintf("Reached the maximum of %d attempts, login failed", c.opts.MaxAttempts),
		map[string]any{"code": exhausted.Code}, false)
	log.Error().Int64("accountId", account.ID).Msg(exhausted.Message)
	return false, MessageLoginFailed
}

func (c *AttemptController) attempt(ctx context.Context, account *model.Account) *Failure {
	session := &model.LoginSession{}

	token, err := c.api.IssueToken(ctx)
	if err != nil {
		return c.fail(ctx, account, model.StageIssuing, err, "Failed to get token, retrying")
	}
	session.Token = token
	c.record(ctx, account.ID, model.LogLevelInfo,
		fmt.Sprintf("Got token: %s", util.TruncateToken(token, config.TokenLogPrefix)), nil, false)

	image, err := c.api.FetchCaptcha(ctx, session.Token)
	if err != nil {
		return c.fail(ctx, account, model.StageCaptcha, err, "Failed to get captcha, retrying")
	}
	session.CaptchaImage = image
	c.record(ctx, account.ID, model.LogLevelInfo, "Captcha fetched", nil, false)

	text, err := c.resolver.Resolve(ctx, session.CaptchaImage)
	if err != nil {
		return c.fail(ctx, account, model.StageRecognizing, err,
			fmt.Sprintf("Captcha recognition failed or malformed (%q), retrying", text))
	}
	session.CaptchaText = text
	c.record(ctx, account.ID, model.LogLevelInfo, fmt.Sprintf("Recognized captcha: %s", text), nil, false)

	env, err := c.api.Login(ctx, cmsapi.LoginRequest{
		LoginName:   account.LoginName,
		Secret:      account.Secret,
		CaptchaText: session.CaptchaText,
		Token:       session.Token,
	})
	if err != nil {
		return c.fail(ctx, account, model.StageSubmitting, err, "Login request failed")
	}

	c.recordRaw(ctx, account.ID, "Login result", env.Raw)

	if env.OK() {
		c.succeed(ctx, account, session.Token)
		return nil
	}

	message := env.Message()
	c.record(ctx, account.ID, model.LogLevelError, fmt.Sprintf("Login failed: %s", message),
		map[string]any{"iErrCode": env.ErrCode}, false)

	if c.opts.CaptchaMarker != "" && strings.Contains(message, c.opts.CaptchaMarker) {
		c.record(ctx, account.ID, model.LogLevelInfo, "Captcha rejected by server, retrying immediately", nil, false)
		return &Failure{
			Stage: model.StageSubmitting,
			Code:  apperrors.ErrCodeCaptchaInvalid,
			Err:   apperrors.CaptchaInvalid(message),
		}
	}

	return &Failure{
		Stage: model.StageSubmitting,
		Code:  apperrors.ErrCodeProtocolFailure,
		Err:   apperrors.ProtocolFailure("login", message).WithDetails(map[string]any{"iErrCode": env.ErrCode}),
	}
}

func (c *AttemptController) succeed(ctx context.Context, account *model.Account, token string) {
	c.record(ctx, account.ID, model.LogLevelInfo, "Login succeeded!", nil, true)
	if c.opts.DualSuccessLog {
		c.record(ctx, account.ID, model.LogLevelError, "Login succeeded!", nil, true)
	}
	log.Info().Int64("accountId", account.ID).Str("account", account.Name).Msg("login succeeded")

	club, err := c.api.ClubList(ctx, token)
	if err != nil {
		c.record(ctx, account.ID, model.LogLevelError, "Failed to fetch club list", nil, false)
		log.Warn().Err(err).Int64("accountId", account.ID).Msg("club list lookup failed")
		return
	}

	c.record(ctx, account.ID, model.LogLevelInfo, "Fetched club list", map[string]any{
		"lClubID":         club.ClubID,
		"sClubName":       club.ClubName,
		"lCreateUser":     club.CreateUser,
		"iCreditLeagueId": club.CreditLeagueID,
	}, false)
	log.Info().
		Int64("accountId", account.ID).
		Str("clubId", club.ClubID.String()).
		Str("clubName", club.ClubName).
		Msg("club info")
}

func (c *AttemptController) fail(ctx context.Context, account *model.Account, stage model.AttemptStage, err error, message string) *Failure {
	f := newFailure(stage, err)
	details := map[string]any{"stage": f.Stage, "code": f.Code}
	if appErr, ok := apperrors.AsAppError(err); ok {
		details["reason"] = appErr.Message
	}
	c.record(ctx, account.ID, model.LogLevelError, message, details, false)
	return f
}

func (c *AttemptController) record(ctx context.Context, accountID int64, level model.LogLevel, message string, details map[string]any, success bool) {
	var raw *json.RawMessage
	if details != nil {
		encoded, err := json.Marshal(details)
		if err == nil {
			msg := json.RawMessage(encoded)
			raw = &msg
		}
	}
	c.append(ctx, model.AppendAttemptLogParams{
		AccountID: accountID,
		Level:     level,
		Message:   message,
		Details:   raw,
		IsSuccess: success,
	})
}

func (c *AttemptController) recordRaw(ctx context.Context, accountID int64, message string, body json.RawMessage) {
	params := model.AppendAttemptLogParams{
		AccountID: accountID,
		Level:     model.LogLevelInfo,
		Message:   message,
	}
	if json.Valid(body) {
		params.Details = &body
	}
	c.append(ctx, params)
}

// append is detached from ctx cancellation; records of a running sequence
// are always written.
func (c *AttemptController) append(ctx context.Context, params model.AppendAttemptLogParams) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.RecordWriteTimeout)
	defer cancel()

	if err := c.logs.Append(writeCtx, params); err != nil {
		log.Error().
			Err(err).
			Int64("accountId", params.AccountID).
			Str("message", params.Message).
			Msg("failed to save attempt record")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
