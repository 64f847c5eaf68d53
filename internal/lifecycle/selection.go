package lifecycle

import (
	"github.com/samber/lo"

	"github.com/GroupLang/agent-market-client/internal/models"
)

// SelectWinner returns the highest bid. Equal amounts go to the earlier
// submission; a full tie falls back to provider id so the choice is
// deterministic.
func SelectWinner(bids []models.Bid) (models.Bid, bool) {
	if len(bids) == 0 {
		return models.Bid{}, false
	}
	best := bids[0]
	for _, b := range bids[1:] {
		switch {
		case b.Amount > best.Amount:
			best = b
		case b.Amount < best.Amount:
		case b.SubmittedAt.Before(best.SubmittedAt):
			best = b
		case b.SubmittedAt.Equal(best.SubmittedAt) && b.ProviderID < best.ProviderID:
			best = b
		}
	}
	return best, true
}

func bidsFrom(bids []models.Bid, providers []string) []models.Bid {
	return lo.Filter(bids, func(b models.Bid, _ int) bool {
		return lo.Contains(providers, b.ProviderID)
	})
}
