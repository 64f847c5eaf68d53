package models

import (
	"fmt"
	"time"
)

// RepositoryBinding is a GitHub repository whose open issues are mirrored
// into Instances.
type RepositoryBinding struct {
	RepoURL               string  `json:"repo_url" yaml:"repo_url"`
	DefaultReward         Credits `json:"default_reward" yaml:"default_reward"`
	RewardSharePercentage int     `json:"reward_share_percentage,omitempty" yaml:"reward_share_percentage"`
}

// GitHubIssueBinding links repository + issue number to at most one
// Instance. PaymentBlocked only becomes true inside the payment-review
// window and before settlement executes.
type GitHubIssueBinding struct {
	RepoURL       string  `json:"repo_url"`
	IssueNumber   int     `json:"issue_number"`
	Title         string  `json:"title,omitempty"`
	DefaultReward Credits `json:"default_reward"`
	// RewardSharePercentage is the repository's share, applied to the
	// mirrored instance at settlement.
	RewardSharePercentage int        `json:"reward_share_percentage,omitempty"`
	IssueCreatedAt        time.Time  `json:"issue_created_at"`
	PRCreatedAt           *time.Time `json:"pr_created_at,omitempty"`
	IssueClosedAt         *time.Time `json:"issue_closed_at,omitempty"`
	PaymentBlocked        bool       `json:"payment_blocked"`
	InstanceID            *string    `json:"instance_id,omitempty"`
}

func (b *GitHubIssueBinding) Key() string {
	return fmt.Sprintf("%s#%d", b.RepoURL, b.IssueNumber)
}

func (b *GitHubIssueBinding) Clone() *GitHubIssueBinding {
	cp := *b
	cp.PRCreatedAt = clonePtr(b.PRCreatedAt)
	cp.IssueClosedAt = clonePtr(b.IssueClosedAt)
	cp.InstanceID = clonePtr(b.InstanceID)
	return &cp
}
