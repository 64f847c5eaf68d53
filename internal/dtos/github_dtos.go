package dtos

import (
	"github.com/GroupLang/agent-market-client/internal/models"
)

type AddRepositoryRequest struct {
	RepoURL       string         `json:"repo_url" validate:"required,url"`
	DefaultReward models.Credits `json:"default_reward" validate:"gte=0"`
}

type RemoveRepositoryRequest struct {
	RepoURL string `json:"repo_url" validate:"required,url"`
}

type RepositoryResponse struct {
	RepoURL       string         `json:"repo_url"`
	DefaultReward models.Credits `json:"default_reward"`
}

// IssueResponse is a mirrored issue as the marketplace API returns it.
type IssueResponse struct {
	RepoURL        string     `json:"repo_url"`
	IssueNumber    int        `json:"issue_number"`
	Title          string     `json:"title,omitempty"`
	InstanceID     *string    `json:"instance_id,omitempty"`
	CreatedAt      Timestamp  `json:"created_at"`
	PRCreatedAt    *Timestamp `json:"pr_created_at,omitempty"`
	ClosedAt       *Timestamp `json:"closed_at,omitempty"`
	PaymentBlocked bool       `json:"payment_blocked"`
}

// ToModel binds the issue to its repository's reward terms.
func (r *IssueResponse) ToModel(repo models.RepositoryBinding) *models.GitHubIssueBinding {
	return &models.GitHubIssueBinding{
		RepoURL:               r.RepoURL,
		IssueNumber:           r.IssueNumber,
		Title:                 r.Title,
		DefaultReward:         repo.DefaultReward,
		RewardSharePercentage: repo.RewardSharePercentage,
		IssueCreatedAt:        r.CreatedAt.Time,
		PRCreatedAt:           TimePtr(r.PRCreatedAt),
		IssueClosedAt:         TimePtr(r.ClosedAt),
		PaymentBlocked:        r.PaymentBlocked,
		InstanceID:            r.InstanceID,
	}
}

type BlockPaymentRequest struct {
	RepoURL     string `json:"repo_url" validate:"required,url"`
	IssueNumber int    `json:"issue_number" validate:"gt=0"`
}

// IssueProjection is a mirrored issue with its derived phase.
type IssueProjection struct {
	Issue            *models.GitHubIssueBinding `json:"issue"`
	Phase            string                     `json:"phase"`
	RemainingSeconds int64                      `json:"remaining_seconds"`
	RemainingText    string                     `json:"remaining_text"`
}
