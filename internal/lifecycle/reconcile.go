package lifecycle

import (
	"time"

	"github.com/samber/lo"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/settlement"
)

// Reconcile brings an instance fetched from the server in line with the
// local machine. The server may already be past states the client never
// observed, so the derived fields (accepted bid, conversations, interaction
// start, settlement) are filled in from what it reports, and any
// time-driven transition due at now is fired.
func (m Machine) Reconcile(inst *models.Instance, now time.Time) []Outcome {
	return m.reconcile(inst, now, false)
}

func (m Machine) reconcile(inst *models.Instance, now time.Time, blocked bool) []Outcome {
	var out []Outcome

	switch inst.Status {
	case models.InstanceStatusSelected, models.InstanceStatusInteracting,
		models.InstanceStatusResolved, models.InstanceStatusFinalized:
		m.adoptWinner(inst)
	}

	if inst.Status == models.InstanceStatusSelected {
		o := Outcome{From: inst.Status}
		o.enter(inst, models.InstanceStatusInteracting)
		out = append(out, o)
	}

	switch {
	case inst.Status == models.InstanceStatusResolved && inst.Origin == models.OriginDirect:
		o := Outcome{From: inst.Status}
		finalize(&o, inst, orNow(inst.ResolvedAt, now), false)
		out = append(out, o)

	case inst.Status == models.InstanceStatusFinalized && inst.Settlement == nil:
		split := settlement.Settle(settlement.Input{
			MaxCredit:      inst.MaxCredit,
			Bid:            inst.AcceptedAmount(),
			Reward:         inst.Reward,
			Blocked:        blocked,
			RewardSharePct: inst.RewardSharePercentage,
		})
		inst.Settlement = &split
		settledAt := orNow(inst.SettledAt, now)
		inst.SettledAt = &settledAt

	case inst.Status == models.InstanceStatusFailed && inst.Settlement == nil:
		split := settlement.Refund(inst.MaxCredit)
		inst.Settlement = &split
		settledAt := orNow(inst.SettledAt, now)
		inst.SettledAt = &settledAt
	}

	return append(out, m.Advance(inst, now)...)
}

func (m Machine) adoptWinner(inst *models.Instance) {
	if inst.AcceptedBid == nil {
		candidates := inst.Bids
		if fromWinners := bidsFrom(inst.Bids, inst.WinningProviders); len(fromWinners) > 0 {
			candidates = fromWinners
		}
		if accepted, ok := SelectWinner(candidates); ok {
			inst.AcceptedBid = &accepted
		}
	}

	var winners []string
	if inst.AcceptedBid != nil {
		winners = append(winners, inst.AcceptedBid.ProviderID)
	}
	if m.MultipleWinners || len(winners) == 0 {
		for _, w := range inst.WinningProviders {
			if !lo.Contains(winners, w) {
				winners = append(winners, w)
			}
		}
	}
	inst.WinningProviders = winners
	for _, w := range winners {
		if inst.Conversation(w) == nil {
			inst.Conversations = append(inst.Conversations, &models.Conversation{InstanceID: inst.ID, ProviderID: w})
		}
	}

	if inst.InteractionStartedAt == nil {
		started := inst.AuctionDeadline()
		inst.InteractionStartedAt = &started
	}
}

func orNow(t *time.Time, now time.Time) time.Time {
	if t != nil {
		return *t
	}
	return now
}

// Reconcile is Machine.Reconcile for a mirrored instance, followed by the
// GitHub time-driven transitions. A blocked binding settles a Finalized or
// Resolved instance with the provider receiving nothing.
func (g GitHubMachine) Reconcile(inst *models.Instance, b *models.GitHubIssueBinding, now time.Time) []Outcome {
	applyShare(inst, b)
	out := g.Machine.reconcile(inst, now, b.PaymentBlocked)
	return append(out, g.Advance(inst, b, now)...)
}
