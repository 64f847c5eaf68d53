package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/metrics"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/repositories"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

type SessionState int

const (
	SessionUnauthenticated SessionState = iota
	SessionAuthenticated
)

func (s SessionState) String() string {
	if s == SessionAuthenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// SessionManager owns the bearer token. It refreshes it on a fixed
// schedule while the session is authenticated and ends the session on the
// first refresh failure. It implements transport.TokenSource.
type SessionManager struct {
	api      AuthAPI
	store    repositories.SessionStore
	clock    clock.Clock
	lifetime time.Duration
	schedule cron.Schedule
	timeout  time.Duration

	refreshMu sync.Mutex // one refresh in flight

	mu    sync.Mutex
	token *models.SessionToken
	gen   uint64
	ended error // why the last session ended, if it did not end by logout
	cron  *cron.Cron
}

type SessionOption func(*SessionManager)

func WithSessionStore(s repositories.SessionStore) SessionOption {
	return func(m *SessionManager) { m.store = s }
}

func WithSessionClock(c clock.Clock) SessionOption {
	return func(m *SessionManager) { m.clock = c }
}

func WithTokenLifetime(d time.Duration) SessionOption {
	return func(m *SessionManager) { m.lifetime = d }
}

// WithRefreshInterval sets the period of the background refresh.
func WithRefreshInterval(d time.Duration) SessionOption {
	return func(m *SessionManager) { m.schedule = cron.Every(d) }
}

// WithRefreshSchedule replaces the refresh schedule outright.
func WithRefreshSchedule(s cron.Schedule) SessionOption {
	return func(m *SessionManager) { m.schedule = s }
}

func NewSessionManager(api AuthAPI, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		api:      api,
		clock:    clock.New(),
		lifetime: constants.DefaultTokenLifetime,
		schedule: cron.Every(constants.DefaultRefreshInterval),
		timeout:  constants.DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login authenticates and starts the refresh cycle. Logging in again
// replaces the current session.
func (m *SessionManager) Login(ctx context.Context, username, password string) (*models.SessionToken, error) {
	raw, err := m.api.Login(ctx, username, password)
	if err != nil {
		utils.Logger.WithError(err).Warn("Login failed")
		return nil, err
	}
	tok := models.ParseSessionToken(raw, m.clock.Now(), m.lifetime)
	m.begin(tok)
	utils.Logger.WithField("expires_at", tok.ExpiresAt()).Info("Logged in")
	return tok, nil
}

// LoginWithToken starts a session from a token obtained out of band, such
// as the one an OAuth callback hands back.
func (m *SessionManager) LoginWithToken(raw string) (*models.SessionToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: token is required", utils.ErrInvalidPayload)
	}
	tok := models.ParseSessionToken(raw, m.clock.Now(), m.lifetime)
	if !m.clock.Now().Before(tok.ExpiresAt()) {
		return nil, fmt.Errorf("%w: token expired at %s", utils.ErrSessionExpired, tok.ExpiresAt().Format(time.RFC3339))
	}
	m.begin(tok)
	utils.Logger.WithField("expires_at", tok.ExpiresAt()).Info("Logged in with token")
	return tok, nil
}

// Restore resumes a session saved by an earlier process. It reports false
// when there is nothing usable to resume. A token already past its refresh
// point is refreshed before Restore returns.
func (m *SessionManager) Restore(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	tok, err := m.store.Load()
	if err != nil {
		return false, err
	}
	if tok == nil {
		return false, nil
	}
	now := m.clock.Now()
	if !now.Before(tok.ExpiresAt()) {
		utils.Logger.Info("Saved session has expired")
		_ = m.store.Clear()
		return false, nil
	}
	m.begin(tok)
	if !now.Before(m.schedule.Next(tok.IssuedAt)) {
		if err := m.Refresh(ctx, ""); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (m *SessionManager) begin(tok *models.SessionToken) {
	m.mu.Lock()
	m.stopLocked()
	m.token = tok
	m.gen++
	m.ended = nil
	gen := m.gen
	m.save(tok)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(utils.Logger))))
	c.Schedule(m.schedule, cron.FuncJob(func() { m.scheduledRefresh(gen) }))
	c.Start()
	m.cron = c
	m.mu.Unlock()
}

func (m *SessionManager) scheduledRefresh(gen uint64) {
	m.mu.Lock()
	current := m.gen == gen && m.token != nil
	m.mu.Unlock()
	if !current {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.Refresh(ctx, ""); err != nil {
		utils.Logger.WithError(err).Debug("Scheduled refresh ended the session")
	}
}

// AccessToken implements transport.TokenSource.
func (m *SessionManager) AccessToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		if m.ended != nil {
			return "", fmt.Errorf("%w: %v", utils.ErrSessionExpired, m.ended)
		}
		return "", utils.ErrUnauthenticated
	}
	return m.token.Value, nil
}

// Refresh replaces the token. With a non-empty stale, the call is skipped
// when the session has already moved past that token, so a burst of 401s
// on one token costs a single round trip. Any failure ends the session;
// it is never retried here.
func (m *SessionManager) Refresh(ctx context.Context, stale string) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	tok, gen := m.token, m.gen
	m.mu.Unlock()
	if tok == nil {
		_, err := m.AccessToken()
		return err
	}
	if stale != "" && tok.Value != stale {
		return nil
	}

	raw, err := m.api.Refresh(ctx, tok.Value)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		// Logged out or logged in again while the call was in flight.
		if m.token == nil {
			return utils.ErrUnauthenticated
		}
		return nil
	}
	if err != nil {
		metrics.SessionRefreshes.WithLabelValues("failure").Inc()
		utils.Logger.WithError(err).Error("Session refresh failed; logging out")
		m.endLocked(err)
		return fmt.Errorf("%w: %v", utils.ErrSessionExpired, err)
	}

	next := models.ParseSessionToken(raw, m.clock.Now(), m.lifetime)
	m.token = next
	m.save(next)
	metrics.SessionRefreshes.WithLabelValues("success").Inc()
	utils.Logger.WithFields(logrus.Fields{
		"expires_at": next.ExpiresAt(),
	}).Debug("Session refreshed")
	return nil
}

// Expire implements transport.TokenSource: a 401 survived a refresh.
func (m *SessionManager) Expire(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return
	}
	utils.Logger.WithError(cause).Error("Credentials rejected after refresh; logging out")
	m.endLocked(cause)
}

// Logout ends the session and cancels the refresh cycle. It is safe to
// call when already logged out.
func (m *SessionManager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.token = nil
	m.ended = nil
	m.gen++
	m.clear()
	utils.Logger.Info("Logged out")
}

// Close stops the refresh cycle but keeps the saved session for the next
// process.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return SessionUnauthenticated
	}
	return SessionAuthenticated
}

// Token returns a copy of the current token, or nil.
func (m *SessionManager) Token() *models.SessionToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil
	}
	cp := *m.token
	return &cp
}

// Expired reports whether the last session ended through a failure rather
// than an explicit logout.
func (m *SessionManager) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token == nil && m.ended != nil
}

func (m *SessionManager) endLocked(cause error) {
	m.stopLocked()
	m.token = nil
	if cause == nil {
		cause = errors.New("session ended")
	}
	m.ended = cause
	m.gen++
	m.clear()
}

// stopLocked cancels the refresh cycle. It does not wait for a running
// refresh: that refresh sees the generation change and discards its
// result.
func (m *SessionManager) stopLocked() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

func (m *SessionManager) save(tok *models.SessionToken) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(tok); err != nil {
		utils.Logger.WithError(err).Warn("Failed to persist session")
	}
}

func (m *SessionManager) clear() {
	if m.store == nil {
		return
	}
	if err := m.store.Clear(); err != nil {
		utils.Logger.WithError(err).Warn("Failed to clear persisted session")
	}
}
