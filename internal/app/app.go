package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/raulk/clock"
	"github.com/robfig/cron/v3"

	"github.com/GroupLang/agent-market-client/internal/config"
	"github.com/GroupLang/agent-market-client/internal/githubapi"
	"github.com/GroupLang/agent-market-client/internal/lifecycle"
	"github.com/GroupLang/agent-market-client/internal/repositories"
	"github.com/GroupLang/agent-market-client/internal/services"
	"github.com/GroupLang/agent-market-client/internal/transport"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

const (
	maxRetries     = 5
	connectTimeout = 5 * time.Second
	initialBackoff = 500 * time.Millisecond
)

// App owns the long-lived pieces shared by the CLI commands and the render
// bridge.
type App struct {
	Config *config.Config
	Ledger repositories.LedgerRepository

	Auth       *services.RemoteAuthAPI
	Session    *services.SessionManager
	API        *transport.Client
	Accounts   *services.AccountService
	Instances  *services.InstanceService
	Mirror     *services.GitHubMirrorService
	Chat       *services.ChatService
	Projection *services.ProjectionService
	Watcher    *services.CountdownWatcher
	Notifier   *services.NotificationService

	clock      clock.Clock
	httpClient *http.Client
	cron       *cron.Cron
}

type Option func(*App)

func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithLedger skips opening the configured ledger.
func WithLedger(l repositories.LedgerRepository) Option {
	return func(a *App) { a.Ledger = l }
}

func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg, clock: clock.New()}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	if a.Ledger == nil {
		ledger, err := openLedger(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Ledger = ledger
	}
	if err := a.Ledger.Migrate(ctx); err != nil {
		a.Ledger.Close()
		return nil, fmt.Errorf("migrating settlement ledger: %w", err)
	}

	var err error
	a.Auth, err = services.NewRemoteAuthAPI(cfg.APIBaseURL, a.httpClient)
	if err != nil {
		return nil, err
	}
	sessionOpts := []services.SessionOption{
		services.WithSessionClock(a.clock),
		services.WithTokenLifetime(cfg.TokenLifetime),
		services.WithRefreshInterval(cfg.RefreshInterval),
	}
	if cfg.SessionKey != "" {
		sessionOpts = append(sessionOpts, services.WithSessionStore(repositories.NewFileSessionStore(cfg.SessionFile, cfg.SessionKey)))
	} else {
		utils.Logger.Debug("MARKET_SESSION_KEY not set; sessions are not persisted")
	}
	a.Session = services.NewSessionManager(a.Auth, sessionOpts...)

	a.API, err = transport.NewClient(cfg.APIBaseURL,
		transport.WithHTTPClient(a.httpClient),
		transport.WithTokens(a.Session),
		transport.WithClock(a.clock),
		transport.WithPolicy(transport.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Retriable:   transport.IsRetriable,
		}),
	)
	if err != nil {
		return nil, err
	}

	var gh *githubapi.Client
	if cfg.GitHubToken != "" {
		if gh, err = githubapi.NewClient(cfg.GitHubToken, a.httpClient); err != nil {
			return nil, err
		}
	}

	machine := lifecycle.GitHubMachine{
		Machine: lifecycle.Machine{MultipleWinners: cfg.MultipleWinners},
		Windows: cfg.Windows(),
	}
	a.Notifier = services.NewNotificationServiceFromKeys(services.NotificationConfig{
		ToEmail:         cfg.NotifyEmail,
		FromEmail:       cfg.SendgridFromEmail,
		ToPhone:         cfg.NotifyPhone,
		FromPhone:       cfg.TwilioFromPhone,
		SendgridSandbox: cfg.SendgridSandboxMode,
	}, cfg.SendGridAPIKey, cfg.TwilioAccountSID, cfg.TwilioAuthToken)

	a.Accounts = services.NewAccountService(a.API)
	a.Instances = services.NewInstanceService(a.API, machine, a.Ledger, a.clock)
	a.Mirror = services.NewGitHubMirrorService(a.API, a.Instances, gh, a.Notifier, a.clock)
	a.Chat = services.NewChatService(a.API, a.clock)
	a.Projection = services.NewProjectionService(a.Instances, a.clock)
	a.Watcher = services.NewCountdownWatcher(a.Instances, a.Projection, a.clock)
	return a, nil
}

// EnsureSession resumes the saved session, or logs in with the configured
// credentials when there is none.
func (a *App) EnsureSession(ctx context.Context) error {
	ok, err := a.Session.Restore(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if a.Config.Username == "" || a.Config.Password == "" {
		return fmt.Errorf("%w: run `market login` first", utils.ErrUnauthenticated)
	}
	_, err = a.Session.Login(ctx, a.Config.Username, a.Config.Password)
	return err
}

// SyncBindings applies the repositories file, if one is configured.
func (a *App) SyncBindings(ctx context.Context, prune bool) ([]string, []string, error) {
	if a.Config.ReposFile == "" {
		return nil, nil, nil
	}
	desired, err := config.LoadRepositoryBindings(a.Config.ReposFile)
	if err != nil {
		return nil, nil, err
	}
	return a.Mirror.ApplyBindings(ctx, desired, prune)
}

// Close stops background work. The saved session is kept for the next
// process.
func (a *App) Close() {
	a.StopScheduler()
	if a.Session != nil {
		a.Session.Close()
	}
	if a.Ledger != nil {
		a.Ledger.Close()
		utils.Logger.Debug("Settlement ledger closed")
	}
}

func openLedger(ctx context.Context, cfg *config.Config) (repositories.LedgerRepository, error) {
	if cfg.DBUrl == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
		return repositories.NewSQLiteLedgerRepository(cfg.LedgerPath)
	}

	var (
		dbPool  *pgxpool.Pool
		err     error
		backoff = initialBackoff
	)
	for i := 1; i <= maxRetries; i++ {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		dbPool, err = newDBPool(connectCtx, cfg.DBUrl)
		cancel()
		if err == nil {
			utils.Logger.Infof("Connected to ledger DB on attempt %d", i)
			break
		}

		utils.Logger.WithError(err).Warnf(
			"Failed DB connect on attempt %d/%d. Retrying in %v...",
			i, maxRetries, backoff,
		)
		if i == maxRetries {
			return nil, fmt.Errorf("unable to connect after %d attempts: %w", maxRetries, err)
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return repositories.NewPGLedgerRepository(dbPool), nil
}

func newDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnIdleTime = 2 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	return pgxpool.ConnectConfig(ctx, cfg)
}
