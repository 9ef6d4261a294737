package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// DefaultFirstStageKey is the static public key the CMS login page uses to
// wrap the password before it is re-encrypted under the session token.
const DefaultFirstStageKey = "MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQDNR7I+SpqIZM5w3Aw4lrUlhrs7VurKbeViYXNhOfIgP/4acsWvJy5dPb/FejzUiv2cAiz5As2DJEQYEM10LvnmpnKx9Dq+QDo7WXnT6H2szRtX/8Q56Rlzp9bJMlZy7/i0xevlDrWZMWqx2IK3ZhO9+0nPu4z4SLXaoQGIrs7JxwIDAQAB"

type Config struct {
	Port        int    `env:"PORT" envDefault:"5000"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Production  bool   `env:"PRODUCTION" envDefault:"false"`

	CMSBaseURL         string `env:"CMS_BASE_URL" envDefault:"https://cmsapi3.qiucheng-wangluo.com"`
	CMSReferer         string `env:"CMS_REFERER" envDefault:"https://cms.ayybyyy.com/"`
	FirstStageKey      string `env:"CMS_FIRST_STAGE_KEY"`
	OCRURL             string `env:"OCR_URL,required"`
	HTTPTimeoutSeconds int    `env:"HTTP_TIMEOUT_SECONDS" envDefault:"15"`

	MaxConcurrentJobs    int    `env:"MAX_CONCURRENT_JOBS" envDefault:"3"`
	CaptchaErrorMarker   string `env:"CAPTCHA_ERROR_MARKER" envDefault:"验证码"`
	LegacyDualSuccessLog bool   `env:"LEGACY_DUAL_SUCCESS_LOG" envDefault:"true"`
	DailyDigestTime      string `env:"DAILY_DIGEST_TIME" envDefault:"23:59"`
	Timezone             string `env:"TIMEZONE" envDefault:"Asia/Shanghai"`
	LogRetentionDays     int    `env:"LOG_RETENTION_DAYS" envDefault:"30"`
	ManualRunLimitPerMin int    `env:"MANUAL_RUN_LIMIT_PER_MIN" envDefault:"6"`

	SMTPHost             string `env:"SMTP_HOST" envDefault:"smtp.email.cn"`
	SMTPPort             int    `env:"SMTP_PORT" envDefault:"465"`
	SMTPUsername         string `env:"SMTP_USERNAME"`
	SMTPPassword         string `env:"SMTP_PASSWORD"`
	SMTPSender           string `env:"SMTP_SENDER"`
	DefaultReceiverEmail string `env:"DEFAULT_RECEIVER_EMAIL"`

	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`
	EncryptionKey  string `env:"ENCRYPTION_KEY"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.LogRetentionDays) * 24 * time.Hour
}

// Location resolves Timezone, falling back to the process local zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", c.Timezone).Msg("unknown timezone, using local")
		return time.Local
	}
	return loc
}

// DigestClock parses DailyDigestTime ("HH:MM").
func (c *Config) DigestClock() (hour, minute int, err error) {
	parts := strings.Split(c.DailyDigestTime, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("DAILY_DIGEST_TIME must be HH:MM, got %q", c.DailyDigestTime)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("DAILY_DIGEST_TIME has invalid hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("DAILY_DIGEST_TIME has invalid minute %q", parts[1])
	}
	return hour, minute, nil
}

func (c *Config) Validate() error {
	if c.AdminTokenHash != "" {
		if !strings.HasPrefix(c.AdminTokenHash, "$2a$") &&
			!strings.HasPrefix(c.AdminTokenHash, "$2b$") &&
			!strings.HasPrefix(c.AdminTokenHash, "$2y$") {
			return fmt.Errorf("ADMIN_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <token>)")
		}
	} else {
		log.Warn().Msg("ADMIN_TOKEN_HASH is empty: control API is unauthenticated")
	}

	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}
	if c.HTTPTimeoutSeconds < 1 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be at least 1")
	}
	if _, _, err := c.DigestClock(); err != nil {
		return err
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes (64 hex chars)")
	}
	if c.CaptchaErrorMarker == "" {
		log.Warn().Msg("CAPTCHA_ERROR_MARKER is empty: captcha rejections will use the ordinary backoff")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.FirstStageKey == "" {
		cfg.FirstStageKey = DefaultFirstStageKey
	}
	return &cfg, nil
}
