package dtos

import (
	"time"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/models"
)

type BidResponse struct {
	ProviderID  string         `json:"provider_id"`
	Amount      models.Credits `json:"bid_amount"`
	SubmittedAt Timestamp      `json:"creation_date"`
}

// InstanceResponse is an instance as the marketplace API returns it.
type InstanceResponse struct {
	ID                       string                `json:"id"`
	UserID                   string                `json:"user_id,omitempty"`
	Status                   models.InstanceStatus `json:"status"`
	MaxCredit                models.Credits        `json:"max_credit_per_instance"`
	CreationDate             Timestamp             `json:"creation_date"`
	InstanceTimeout          float64               `json:"instance_timeout"`
	GenRewardTimeout         float64               `json:"gen_reward_timeout"`
	GenRewardTimeoutDatetime *Timestamp            `json:"gen_reward_timeout_datetime,omitempty"`
	PercentageReward         *int                  `json:"percentage_reward,omitempty"`
	GenReward                *models.Credits       `json:"gen_reward,omitempty"`
	Bids                     []BidResponse         `json:"bids,omitempty"`
	WinningProviders         []string              `json:"winning_providers,omitempty"`
	Origin                   string                `json:"origin,omitempty"`
	Payload                  map[string]any        `json:"payload,omitempty"`
}

func seconds(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

// ToModel converts the wire shape. Interaction start is recovered from the
// reward deadline the server reports.
func (r *InstanceResponse) ToModel() *models.Instance {
	inst := &models.Instance{
		ID:                    r.ID,
		RequesterID:           r.UserID,
		Origin:                models.OriginDirect,
		Status:                r.Status,
		MaxCredit:             r.MaxCredit,
		RewardSharePercentage: constants.DefaultRewardSharePercentage,
		CreatedAt:             r.CreationDate.Time,
		InstanceTimeout:       seconds(r.InstanceTimeout, constants.DefaultInstanceTimeout),
		GenRewardTimeout:      seconds(r.GenRewardTimeout, constants.DefaultGenRewardTimeout),
		Reward:                r.GenReward,
		WinningProviders:      r.WinningProviders,
	}
	if r.Origin == string(models.OriginGitHub) {
		inst.Origin = models.OriginGitHub
	}
	if r.PercentageReward != nil {
		inst.RewardSharePercentage = *r.PercentageReward
	}
	for _, b := range r.Bids {
		inst.Bids = append(inst.Bids, models.Bid{ProviderID: b.ProviderID, Amount: b.Amount, SubmittedAt: b.SubmittedAt.Time})
	}
	if deadline := TimePtr(r.GenRewardTimeoutDatetime); deadline != nil {
		started := deadline.Add(-inst.GenRewardTimeout)
		inst.InteractionStartedAt = &started
	}
	return inst
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateInstanceRequest is the marketplace create body.
type CreateInstanceRequest struct {
	MaxCreditPerInstance models.Credits `json:"max_credit_per_instance" validate:"gt=0"`
	InstanceTimeout      int            `json:"instance_timeout,omitempty" validate:"gte=0"`
	GenRewardTimeout     int            `json:"gen_reward_timeout,omitempty" validate:"gte=0"`
	PercentageReward     int            `json:"percentage_reward" validate:"gte=0,lte=100"`
	Model                string         `json:"model,omitempty"`
	Background           string         `json:"background,omitempty"`
	PromptTemplate       string         `json:"prompt_template,omitempty"`
	Messages             []Message      `json:"messages" validate:"required,min=1,dive"`
}

type SubmitBidRequest struct {
	ProviderID string         `json:"provider_id" validate:"required"`
	Amount     models.Credits `json:"bid_amount" validate:"gte=0"`
}

type ReportRewardRequest struct {
	GenReward *models.Credits `json:"gen_reward" validate:"required"`
}

type WinningProvidersResponse struct {
	Providers []string `json:"providers"`
}

type InvolvedProviderResponse struct {
	ProviderID string `json:"provider_id"`
	Name       string `json:"name,omitempty"`
}
