package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	ld "github.com/launchdarkly/go-server-sdk/v7"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/timewindow"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

const (
	EnvPrefix           = "MARKET"
	LDConnectionTimeout = 5 * time.Second
)

type Config struct {
	AppName string `ignored:"true"`
	Env     string `envconfig:"ENV" default:"dev"`

	// Marketplace API
	APIBaseURL     string        `envconfig:"API_BASE_URL" default:"https://api.agent.market/v1"`
	Username       string        `envconfig:"USERNAME"`
	Password       string        `envconfig:"PASSWORD"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	// Session
	SessionFile     string        `envconfig:"SESSION_FILE"`
	SessionKey      string        `envconfig:"SESSION_KEY"`
	TokenLifetime   time.Duration `envconfig:"TOKEN_LIFETIME" default:"60m"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"55m"`

	// Retries
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"4s"`

	// Settlement ledger. DBUrl selects Postgres, otherwise LedgerPath is a
	// SQLite file.
	LedgerPath string `envconfig:"LEDGER_PATH"`
	DBUrl      string `envconfig:"DB_URL"`

	// GitHub
	GitHubToken  string        `envconfig:"GITHUB_TOKEN"`
	ReposFile    string        `envconfig:"REPOS_FILE"`
	PRWaitWindow time.Duration `envconfig:"PR_WAIT_WINDOW" default:"48h"`
	ReviewWindow time.Duration `envconfig:"REVIEW_WINDOW" default:"24h"`

	MultipleWinners bool `envconfig:"MULTIPLE_WINNERS"`

	// Render bridge
	BindAddr           string   `envconfig:"BIND_ADDR" default:"127.0.0.1:8787"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Review-window notifications
	NotifyEmail         string `envconfig:"NOTIFY_EMAIL"`
	NotifyPhone         string `envconfig:"NOTIFY_PHONE"`
	SendGridAPIKey      string `envconfig:"SENDGRID_API_KEY"`
	SendgridFromEmail   string `envconfig:"SENDGRID_FROM_EMAIL" default:"no-reply@agent.market"`
	SendgridSandboxMode bool   `envconfig:"SENDGRID_SANDBOX_MODE"`
	TwilioAccountSID    string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken     string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromPhone     string `envconfig:"TWILIO_FROM_PHONE"`

	// LaunchDarkly
	LDSDKKey      string `envconfig:"LD_SDK_KEY"`
	LDContextKey  string `envconfig:"LD_CONTEXT_KEY" default:"agent-market-client"`
	LDContextKind string `envconfig:"LD_CONTEXT_KIND" default:"service"`
}

// Load reads MARKET_* variables, then overlays Bitwarden secrets when
// BWS_ACCESS_TOKEN is set and LaunchDarkly flags when an SDK key is known.
func Load() (*Config, error) {
	cfg := &Config{AppName: constants.AppName}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading %s_* environment: %w", EnvPrefix, err)
	}

	if os.Getenv("BWS_ACCESS_TOKEN") != "" {
		if err := cfg.loadBWSSecrets(); err != nil {
			return nil, err
		}
	}
	if cfg.LDSDKKey != "" {
		if err := cfg.loadLDFlags(); err != nil {
			return nil, err
		}
	}

	if err := cfg.fillPaths(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load for long-running processes: any problem is fatal.
func LoadConfig() *Config {
	utils.Logger.Info("Loading config for app: ", constants.AppName)
	cfg, err := Load()
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to load config")
	}
	return cfg
}

func (c *Config) Windows() timewindow.Durations {
	return timewindow.Durations{PRWait: c.PRWaitWindow, Review: c.ReviewWindow}
}

func (c *Config) NotificationsEnabled() bool {
	return (c.SendGridAPIKey != "" && c.NotifyEmail != "") ||
		(c.TwilioAccountSID != "" && c.NotifyPhone != "")
}

func (c *Config) fillPaths() error {
	if c.SessionFile != "" && c.LedgerPath != "" {
		return nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("locating config directory: %w", err)
	}
	dir = filepath.Join(dir, constants.AppName)
	if c.SessionFile == "" {
		c.SessionFile = filepath.Join(dir, "session.json")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(dir, "ledger.db")
	}
	return nil
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("%s_API_BASE_URL must be an http(s) URL, got %q", EnvPrefix, c.APIBaseURL)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("%s_RETRY_MAX_ATTEMPTS must be at least 1", EnvPrefix)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("%s_RETRY_BASE_DELAY must be positive and no larger than %s_RETRY_MAX_DELAY", EnvPrefix, EnvPrefix)
	}
	if c.RefreshInterval <= 0 || c.RefreshInterval >= c.TokenLifetime {
		return fmt.Errorf("%s_REFRESH_INTERVAL must be positive and shorter than the token lifetime", EnvPrefix)
	}
	if c.PRWaitWindow <= 0 || c.ReviewWindow <= 0 {
		return fmt.Errorf("GitHub windows must be positive")
	}
	return nil
}

func (c *Config) loadBWSSecrets() error {
	client, err := utils.NewBWSSecretsClient()
	if err != nil {
		return fmt.Errorf("initializing BWSSecretsClient: %w", err)
	}
	defer client.Close()

	name := fmt.Sprintf("%s-%s", constants.AppName, c.Env)
	secrets, err := client.GetBWSSecrets(name)
	if err != nil {
		return fmt.Errorf("fetching app secrets from BWS: %w", err)
	}
	c.applySecrets(secrets)
	utils.Logger.Debugf("Applied %d secrets from BWS project %s", len(secrets), name)
	return nil
}

// applySecrets fills only what the environment left empty.
func (c *Config) applySecrets(secrets map[string]string) {
	set := func(dst *string, key string) {
		if v, ok := secrets[key]; ok && v != "" && *dst == "" {
			*dst = v
		}
	}
	set(&c.Password, "MARKET_PASSWORD")
	set(&c.SessionKey, "SESSION_KEY")
	set(&c.GitHubToken, "GITHUB_TOKEN")
	set(&c.DBUrl, "DB_URL")
	set(&c.LDSDKKey, "LD_SDK_KEY")
	set(&c.SendGridAPIKey, "SENDGRID_API_KEY")
	set(&c.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	set(&c.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
}

// FlagSource is the part of the LaunchDarkly client that config reads.
type FlagSource interface {
	BoolVariation(key string, context ldcontext.Context, defaultVal bool) (bool, error)
	IntVariation(key string, context ldcontext.Context, defaultVal int) (int, error)
	StringVariation(key string, context ldcontext.Context, defaultVal string) (string, error)
}

func (c *Config) loadLDFlags() error {
	ldClient, err := ld.MakeClient(c.LDSDKKey, LDConnectionTimeout)
	if err != nil {
		return fmt.Errorf("creating LaunchDarkly client: %w", err)
	}
	defer ldClient.Close()
	if !ldClient.Initialized() {
		return fmt.Errorf("LaunchDarkly client failed to initialize")
	}
	return c.applyFlags(ldClient)
}

func (c *Config) applyFlags(flags FlagSource) error {
	ctx := ldcontext.NewWithKind(ldcontext.Kind(c.LDContextKind), c.LDContextKey)

	prWaitHours, err := flags.IntVariation(constants.FlagPRWaitHours, ctx, int(c.PRWaitWindow/time.Hour))
	if err != nil {
		return fmt.Errorf("retrieving %s flag: %w", constants.FlagPRWaitHours, err)
	}
	utils.Logger.Debugf("%s flag: %d", constants.FlagPRWaitHours, prWaitHours)
	if prWaitHours > 0 {
		c.PRWaitWindow = time.Duration(prWaitHours) * time.Hour
	}

	reviewHours, err := flags.IntVariation(constants.FlagReviewWindowHours, ctx, int(c.ReviewWindow/time.Hour))
	if err != nil {
		return fmt.Errorf("retrieving %s flag: %w", constants.FlagReviewWindowHours, err)
	}
	utils.Logger.Debugf("%s flag: %d", constants.FlagReviewWindowHours, reviewHours)
	if reviewHours > 0 {
		c.ReviewWindow = time.Duration(reviewHours) * time.Hour
	}

	if c.MultipleWinners, err = flags.BoolVariation(constants.FlagAllowMultipleWinners, ctx, c.MultipleWinners); err != nil {
		return fmt.Errorf("retrieving %s flag: %w", constants.FlagAllowMultipleWinners, err)
	}
	if c.SendgridSandboxMode, err = flags.BoolVariation(constants.FlagSendgridSandboxMode, ctx, c.SendgridSandboxMode); err != nil {
		return fmt.Errorf("retrieving %s flag: %w", constants.FlagSendgridSandboxMode, err)
	}

	fromEmail, err := flags.StringVariation(constants.FlagSendgridFromEmail, ctx, "")
	if err != nil {
		return fmt.Errorf("retrieving %s flag: %w", constants.FlagSendgridFromEmail, err)
	}
	if fromEmail != "" {
		c.SendgridFromEmail = fromEmail
	}
	fromPhone, err := flags.StringVariation(constants.FlagTwilioFromPhone, ctx, "")
	if err != nil {
		return fmt.Errorf("retrieving %s flag: %w", constants.FlagTwilioFromPhone, err)
	}
	if fromPhone != "" {
		c.TwilioFromPhone = fromPhone
	}
	return nil
}
