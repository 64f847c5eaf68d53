// Package settlement computes the final credit split of an Instance.
package settlement

import (
	"strconv"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// Input describes one settlement. A nil Reward means no reward was
// reported on a direct instance.
type Input struct {
	MaxCredit      models.Credits
	Bid            models.Credits
	Reward         *models.Credits
	Blocked        bool
	RewardSharePct int
}

// Settle splits MaxCredit between Requester and Provider. The two deltas
// always sum to MaxCredit; the provider delta may be negative.
func Settle(in Input) models.Split {
	switch {
	case in.Blocked:
		return Refund(in.MaxCredit)
	case in.Reward == nil:
		return models.Split{
			RequesterDelta: in.Bid,
			ProviderDelta:  in.MaxCredit - in.Bid,
		}
	}
	// The provider keeps its share net of the bid hold, and the hold goes
	// back to the requester with whatever share was not paid out.
	share := Share(*in.Reward, in.RewardSharePct)
	return models.Split{
		RequesterDelta: in.MaxCredit - share + in.Bid,
		ProviderDelta:  share - in.Bid,
	}
}

// Refund returns everything to the Requester.
func Refund(maxCredit models.Credits) models.Split {
	return models.Split{RequesterDelta: maxCredit}
}

// Share is pct% of reward, rounded half away from zero to the nearest
// hundredth.
func Share(reward models.Credits, pct int) models.Credits {
	n := int64(reward) * int64(pct)
	if n >= 0 {
		return models.Credits((n + 50) / 100)
	}
	return models.Credits((n - 50) / 100)
}

// Validate checks the input ranges accepted by the marketplace.
func Validate(in Input) error {
	if err := CheckBid(in.Bid, in.MaxCredit); err != nil {
		return err
	}
	if in.Reward != nil {
		if err := CheckReward(*in.Reward, in.MaxCredit); err != nil {
			return err
		}
	}
	if in.RewardSharePct < 0 || in.RewardSharePct > 100 {
		return &utils.RangeError{
			Field: "reward_share_percentage",
			Value: strconv.Itoa(in.RewardSharePct),
			Min:   "0",
			Max:   "100",
			Err:   utils.ErrShareOutOfRange,
		}
	}
	return nil
}

// CheckBid enforces 0 <= bid <= max_credit.
func CheckBid(bid, maxCredit models.Credits) error {
	if bid < 0 || bid > maxCredit {
		return &utils.RangeError{Field: "bid", Value: bid.Plain(), Min: "0.00", Max: maxCredit.Plain(), Err: utils.ErrBidOutOfRange}
	}
	return nil
}

// CheckReward enforces 0 <= reward <= max_credit.
func CheckReward(reward, maxCredit models.Credits) error {
	if reward < 0 || reward > maxCredit {
		return &utils.RangeError{Field: "reward", Value: reward.Plain(), Min: "0.00", Max: maxCredit.Plain(), Err: utils.ErrRewardOutOfRange}
	}
	return nil
}
