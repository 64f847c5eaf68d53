package constants

// Marketplace API endpoints, relative to the configured base URL.
const (
	PathAuthLogin    = "/auth/login"
	PathAuthRegister = "/auth/register"
	PathAuthRefresh  = "/auth/refresh"
	PathAuthMe       = "/auth/users/me"

	PathAPIKeysList    = "/auth/list-api-keys"
	PathAPIKeysCreate  = "/auth/create-api-key"
	PathAPIKeysDelete  = "/auth/delete-api-key"
	PathAPIKeysEnable  = "/auth/enable-api-key"
	PathAPIKeysDisable = "/auth/disable-api-key"

	PathInstances                 = "/instances"
	PathInstancesForCurrentUser   = "/instances/for-current-user"
	PathInstanceByID              = "/instances/%s"
	PathInstanceBids              = "/instances/%s/bids"
	PathInstanceReportReward      = "/instances/%s/report-reward"
	PathInstanceWinningProviders  = "/instances/%s/winning-providers"
	PathInstancesInvolvedProvider = "/instances/involved-providers"

	PathGitHubRepositories = "/github/repositories"
	PathGitHubIssues       = "/github/repositories/issues"
	PathGitHubBlock        = "/github/repositories/issues/block"

	PathChat            = "/chat/%s"
	PathChatSendMessage = "/chat/send-message/%s"

	QueryInstanceStatus = "instance_status"
)
