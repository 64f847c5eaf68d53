package constants

import "time"

const (
	AppName = "agent-market-client"

	DefaultAPIBaseURL = "https://api.agent.market/v1"
)

// Instance defaults, mirroring what the marketplace API applies when a
// create request omits them.
const (
	DefaultInstanceTimeout       = 60 * time.Second
	DefaultGenRewardTimeout      = 2000 * time.Second
	DefaultRewardSharePercentage = 100
)

// GitHub-mirrored instance windows. Both are overridable through config and
// LaunchDarkly flags.
const (
	DefaultPRWaitWindow        = 48 * time.Hour
	DefaultPaymentReviewWindow = 24 * time.Hour
)

// Session + transport
const (
	DefaultTokenLifetime   = 60 * time.Minute
	DefaultRefreshInterval = 55 * time.Minute
	DefaultRequestTimeout  = 30 * time.Second

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultRetryMaxDelay    = 4 * time.Second

	IdempotencyKeyHeader = "Idempotency-Key"
)

// Background jobs
const (
	MirrorSyncCronSpec       = "@every 2m"
	MirrorSyncJobTimeout     = 90 * time.Second
	InstanceTickCronSpec     = "@every 10s"
	InstanceTickJobTimeout   = 30 * time.Second
	MaxConcurrentRepoSyncs   = 4
	GitHubRequestsPerSecond  = 5
	GitHubRequestBurst       = 10
	CountdownRefreshInterval = time.Second
)

// LaunchDarkly flag keys
const (
	FlagPRWaitHours          = "github_pr_wait_hours"
	FlagReviewWindowHours    = "github_review_window_hours"
	FlagAllowMultipleWinners = "allow_multiple_winning_providers"
	FlagSendgridSandboxMode  = "sendgrid_sandbox_mode"
	FlagSendgridFromEmail    = "sendgrid_from_email"
	FlagTwilioFromPhone      = "twilio_from_phone"
)

// Notification content
const (
	EmailSubjectReviewWindowOpen = "Payment review open for %s#%d"
	NotificationOrgName          = "Agent Market"
)
