package services

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/lifecycle"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/repositories"
	"github.com/GroupLang/agent-market-client/internal/testhelpers"
	"github.com/GroupLang/agent-market-client/internal/timewindow"
	"github.com/GroupLang/agent-market-client/internal/transport"
)

var (
	t0        = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	testWins  = timewindow.Durations{PRWait: 48 * time.Hour, Review: 24 * time.Hour}
	repoURL   = "https://github.com/acme/widgets"
	otherRepo = "https://github.com/acme/gadgets"
)

// every is a sub-second refresh schedule for tests.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

type testEnv struct {
	market    *testhelpers.FakeMarket
	session   *SessionManager
	api       *transport.Client
	ledger    repositories.LedgerRepository
	clock     *clock.Mock
	instances *InstanceService
}

func fastPolicy() transport.RetryPolicy {
	p := transport.DefaultRetryPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 4 * time.Millisecond
	return p
}

func newTestEnv(t *testing.T, opts ...SessionOption) *testEnv {
	t.Helper()
	market := testhelpers.NewFakeMarket(t)

	authAPI, err := NewRemoteAuthAPI(market.BaseURL(), nil)
	require.NoError(t, err)
	session := NewSessionManager(authAPI, append([]SessionOption{WithRefreshInterval(time.Hour)}, opts...)...)
	t.Cleanup(session.Close)
	_, err = session.Login(context.Background(), testhelpers.TestUsername, testhelpers.TestPassword)
	require.NoError(t, err)

	api, err := transport.NewClient(market.BaseURL(), transport.WithTokens(session), transport.WithPolicy(fastPolicy()))
	require.NoError(t, err)

	ledger, err := repositories.NewSQLiteLedgerRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, ledger.Migrate(context.Background()))
	t.Cleanup(ledger.Close)

	mock := clock.NewMock()
	mock.Set(t0)

	return &testEnv{
		market:    market,
		session:   session,
		api:       api,
		ledger:    ledger,
		clock:     mock,
		instances: NewInstanceService(api, lifecycle.GitHubMachine{Windows: testWins}, ledger, mock),
	}
}

func ts(t time.Time) dtos.Timestamp { return dtos.Timestamp{Time: t} }

func tsPtr(t time.Time) *dtos.Timestamp { return &dtos.Timestamp{Time: t} }

// openInstance is a direct instance whose auction opened at created and
// runs for one minute.
func openInstance(id string, created time.Time) dtos.InstanceResponse {
	pct := 50
	return dtos.InstanceResponse{
		ID:               id,
		UserID:           testhelpers.TestUserID,
		Status:           models.InstanceStatusOpen,
		MaxCredit:        models.NewCredits(100),
		CreationDate:     ts(created),
		InstanceTimeout:  60,
		GenRewardTimeout: 3600,
		PercentageReward: &pct,
	}
}

// interactingInstance is a direct instance won by p1 with a bid of 20,
// whose reward window closes rewardWindow after the auction.
func interactingInstance(id string, created time.Time, rewardWindow time.Duration) dtos.InstanceResponse {
	inst := openInstance(id, created)
	inst.Status = models.InstanceStatusInteracting
	inst.GenRewardTimeout = rewardWindow.Seconds()
	inst.GenRewardTimeoutDatetime = tsPtr(created.Add(time.Minute + rewardWindow))
	inst.Bids = []dtos.BidResponse{
		{ProviderID: "p1", Amount: models.NewCredits(20), SubmittedAt: ts(created.Add(10 * time.Second))},
		{ProviderID: "p2", Amount: models.NewCredits(35), SubmittedAt: ts(created.Add(20 * time.Second))},
	}
	inst.WinningProviders = []string{"p1"}
	return inst
}

// mirroredInstance is a GitHub-origin instance won by p1 with a bid of 20.
func mirroredInstance(id string, created time.Time) dtos.InstanceResponse {
	inst := interactingInstance(id, created, time.Hour)
	inst.Origin = string(models.OriginGitHub)
	inst.PercentageReward = nil
	return inst
}
