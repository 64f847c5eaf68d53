package routes

const (
	Health  = "/health"
	Metrics = "/metrics"

	AuthLogin    = "/api/v1/auth/login"
	AuthToken    = "/api/v1/auth/token"
	AuthRegister = "/api/v1/auth/register"
	AuthLogout   = "/api/v1/auth/logout"
	AuthSession  = "/api/v1/auth/session"

	Instances            = "/api/v1/instances"
	InstanceByID         = "/api/v1/instances/{id}"
	InstanceBids         = "/api/v1/instances/{id}/bids"
	InstanceReportReward = "/api/v1/instances/{id}/report-reward"

	GitHubIssues = "/api/v1/github/issues"
	GitHubBlock  = "/api/v1/github/block"
)
