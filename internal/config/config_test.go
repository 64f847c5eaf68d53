package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BWS_ACCESS_TOKEN", "")
	t.Setenv("MARKET_LD_SDK_KEY", "")
	t.Setenv("MARKET_SESSION_FILE", filepath.Join(dir, "s.json"))
	t.Setenv("MARKET_LEDGER_PATH", filepath.Join(dir, "l.db"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, constants.AppName, cfg.AppName)
	assert.Equal(t, constants.DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, constants.DefaultPRWaitWindow, cfg.PRWaitWindow)
	assert.Equal(t, constants.DefaultPaymentReviewWindow, cfg.ReviewWindow)
	assert.Equal(t, constants.DefaultRefreshInterval, cfg.RefreshInterval)
	assert.Equal(t, constants.DefaultTokenLifetime, cfg.TokenLifetime)
	assert.Equal(t, constants.DefaultRetryMaxAttempts, cfg.RetryMaxAttempts)
	assert.Equal(t, constants.DefaultRetryBaseDelay, cfg.RetryBaseDelay)
	assert.Equal(t, constants.DefaultRetryMaxDelay, cfg.RetryMaxDelay)
	assert.Equal(t, constants.DefaultRequestTimeout, cfg.RequestTimeout)
	assert.False(t, cfg.MultipleWinners)
	assert.False(t, cfg.NotificationsEnabled())
}

func TestLoadOverridesAndValidation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MARKET_SESSION_FILE", filepath.Join(dir, "s.json"))
	t.Setenv("MARKET_LEDGER_PATH", filepath.Join(dir, "l.db"))
	t.Setenv("MARKET_REVIEW_WINDOW", "168h")
	t.Setenv("MARKET_CORS_ALLOWED_ORIGINS", "http://a,http://b")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, cfg.Windows().Review)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.CORSAllowedOrigins)

	t.Setenv("MARKET_REFRESH_INTERVAL", "2h")
	_, err = Load()
	assert.Error(t, err, "refresh interval longer than the token lifetime must be rejected")
}

func TestApplySecretsKeepsExplicitEnv(t *testing.T) {
	cfg := &Config{GitHubToken: "from-env"}
	cfg.applySecrets(map[string]string{
		"GITHUB_TOKEN":     "from-bws",
		"MARKET_PASSWORD":  "pw",
		"SENDGRID_API_KEY": "sg",
	})
	assert.Equal(t, "from-env", cfg.GitHubToken)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, "sg", cfg.SendGridAPIKey)
}

type fakeFlags struct {
	ints    map[string]int
	bools   map[string]bool
	strings map[string]string
	err     error
}

func (f fakeFlags) BoolVariation(key string, _ ldcontext.Context, def bool) (bool, error) {
	if v, ok := f.bools[key]; ok {
		return v, f.err
	}
	return def, f.err
}

func (f fakeFlags) IntVariation(key string, _ ldcontext.Context, def int) (int, error) {
	if v, ok := f.ints[key]; ok {
		return v, f.err
	}
	return def, f.err
}

func (f fakeFlags) StringVariation(key string, _ ldcontext.Context, def string) (string, error) {
	if v, ok := f.strings[key]; ok {
		return v, f.err
	}
	return def, f.err
}

func TestApplyFlags(t *testing.T) {
	cfg := &Config{
		PRWaitWindow:      48 * time.Hour,
		ReviewWindow:      24 * time.Hour,
		SendgridFromEmail: "default@x",
		LDContextKey:      "k",
		LDContextKind:     "service",
	}
	err := cfg.applyFlags(fakeFlags{
		ints:    map[string]int{constants.FlagPRWaitHours: 72, constants.FlagReviewWindowHours: 0},
		bools:   map[string]bool{constants.FlagAllowMultipleWinners: true},
		strings: map[string]string{constants.FlagTwilioFromPhone: "+15550001111"},
	})
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.PRWaitWindow)
	assert.Equal(t, 24*time.Hour, cfg.ReviewWindow, "a zero flag keeps the configured window")
	assert.True(t, cfg.MultipleWinners)
	assert.Equal(t, "default@x", cfg.SendgridFromEmail)
	assert.Equal(t, "+15550001111", cfg.TwilioFromPhone)

	assert.Error(t, cfg.applyFlags(fakeFlags{err: errors.New("ld down")}))
}

func TestLoadRepositoryBindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
repositories:
  - repo_url: https://github.com/acme/widgets
    default_reward: 25.5
  - repo_url: https://github.com/acme/gadgets
    default_reward: 10
    reward_share_percentage: 80
`), 0o600))

	bindings, err := LoadRepositoryBindings(path)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, models.NewCredits(25.5), bindings[0].DefaultReward)
	assert.Equal(t, 100, bindings[0].RewardSharePercentage)
	assert.Equal(t, 80, bindings[1].RewardSharePercentage)
}

func TestLoadRepositoryBindingsRejectsBadURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repositories:\n  - repo_url: not-a-url\n"), 0o600))

	_, err := LoadRepositoryBindings(path)
	assert.ErrorIs(t, err, utils.ErrInvalidRepositoryURL)
}
