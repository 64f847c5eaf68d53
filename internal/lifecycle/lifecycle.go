// Package lifecycle is the Instance state machine. Every status change of
// a models.Instance goes through Machine.Transition (direct instances) or
// GitHubMachine.Transition (GitHub-mirrored instances). Misuse such as a
// late or duplicate call yields an Outcome with Applied=false; only
// invalid input is reported as an error.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/settlement"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

type EventKind int

const (
	EventAuctionClosed EventKind = iota
	EventRewardReported
	EventRewardDeadlineElapsed
)

func (k EventKind) String() string {
	switch k {
	case EventAuctionClosed:
		return "auction_closed"
	case EventRewardReported:
		return "reward_reported"
	}
	return "reward_deadline_elapsed"
}

type Event struct {
	Kind EventKind
	At   time.Time

	// Reward is required for EventRewardReported.
	Reward *models.Credits

	// Winners lists the providers the server selected, if it reported any.
	Winners []string
	// ServerConfirmed lets the server close an auction before the local
	// deadline has been observed.
	ServerConfirmed bool
}

// No-op reasons.
const (
	ReasonAlreadyFinalized     = "already_finalized"
	ReasonAlreadyFailed        = "already_failed"
	ReasonAlreadyDecided       = "already_decided"
	ReasonAuctionStillOpen     = "auction_still_open"
	ReasonAuctionClosed        = "auction_closed"
	ReasonDuplicateBid         = "duplicate_bid"
	ReasonDuplicateReport      = "duplicate_report"
	ReasonNotInteracting       = "not_interacting"
	ReasonDeadlineNotReached   = "reward_deadline_not_reached"
	ReasonResolvesOnIssueClose = "resolves_on_issue_close"
	ReasonPRAlreadyLinked      = "pr_already_linked"
	ReasonIssueAlreadyClosed   = "issue_already_closed"
)

// Outcome reports what a transition did. Path lists every state entered,
// in order; it is empty for no-ops.
type Outcome struct {
	From       models.InstanceStatus
	To         models.InstanceStatus
	Path       []models.InstanceStatus
	Applied    bool
	Reason     string
	Settlement *models.Split
}

func noop(inst *models.Instance, reason string) Outcome {
	return Outcome{From: inst.Status, To: inst.Status, Reason: reason}
}

func terminalNoop(inst *models.Instance) Outcome {
	if inst.Status == models.InstanceStatusFailed {
		return noop(inst, ReasonAlreadyFailed)
	}
	return noop(inst, ReasonAlreadyFinalized)
}

func (o *Outcome) enter(inst *models.Instance, s models.InstanceStatus) {
	inst.Status = s
	o.Path = append(o.Path, s)
	o.To = s
	o.Applied = true
}

// Machine drives direct instances, and the auction half of GitHub ones.
type Machine struct {
	// MultipleWinners opens one Conversation per server-reported winner.
	// Settlement always uses the single accepted bid.
	MultipleWinners bool
}

// Transition applies ev to inst.
func (m Machine) Transition(inst *models.Instance, ev Event) (Outcome, error) {
	if inst.Status.IsTerminal() {
		return terminalNoop(inst), nil
	}

	switch ev.Kind {
	case EventAuctionClosed:
		return m.closeAuction(inst, ev), nil
	case EventRewardReported:
		return m.reportReward(inst, ev)
	case EventRewardDeadlineElapsed:
		return m.rewardDeadlineElapsed(inst, ev), nil
	}
	return Outcome{}, fmt.Errorf("%w: unknown event %d", utils.ErrInvalidPayload, ev.Kind)
}

// Advance fires every time-driven event that is due at now. The events are
// stamped with their deadlines, not with now.
func (m Machine) Advance(inst *models.Instance, now time.Time) []Outcome {
	var out []Outcome
	for {
		var ev Event
		switch {
		case inst.Status == models.InstanceStatusOpen && !now.Before(inst.AuctionDeadline()):
			ev = Event{Kind: EventAuctionClosed, At: inst.AuctionDeadline()}
		case inst.Status == models.InstanceStatusInteracting && inst.Origin == models.OriginDirect &&
			inst.RewardDeadline() != nil && !now.Before(*inst.RewardDeadline()):
			ev = Event{Kind: EventRewardDeadlineElapsed, At: *inst.RewardDeadline()}
		default:
			return out
		}
		o, err := m.Transition(inst, ev)
		if err != nil || !o.Applied {
			return out
		}
		out = append(out, o)
	}
}

// SubmitBid records a bid while the auction is open. A provider bidding
// again replaces its earlier bid.
func (m Machine) SubmitBid(inst *models.Instance, bid models.Bid) (Outcome, error) {
	if inst.Status.IsTerminal() {
		return terminalNoop(inst), nil
	}
	if inst.Status != models.InstanceStatusOpen || !bid.SubmittedAt.Before(inst.AuctionDeadline()) {
		return noop(inst, ReasonAuctionClosed), nil
	}
	if err := settlement.CheckBid(bid.Amount, inst.MaxCredit); err != nil {
		return Outcome{}, err
	}

	for i, existing := range inst.Bids {
		if existing.ProviderID != bid.ProviderID {
			continue
		}
		if existing.Amount == bid.Amount {
			return noop(inst, ReasonDuplicateBid), nil
		}
		inst.Bids[i] = bid
		return Outcome{From: inst.Status, To: inst.Status, Applied: true}, nil
	}
	inst.Bids = append(inst.Bids, bid)
	return Outcome{From: inst.Status, To: inst.Status, Applied: true}, nil
}

// Finalize settles a Resolved instance. Calling it on a Finalized
// instance is a no-op.
func (m Machine) Finalize(inst *models.Instance, at time.Time) (Outcome, error) {
	if inst.Status.IsTerminal() {
		return terminalNoop(inst), nil
	}
	if inst.Status != models.InstanceStatusResolved {
		return Outcome{}, fmt.Errorf("%w: finalize from %s", utils.ErrWrongStatus, inst.Status)
	}
	o := Outcome{From: inst.Status}
	finalize(&o, inst, at, false)
	return o, nil
}

func (m Machine) closeAuction(inst *models.Instance, ev Event) Outcome {
	if inst.Status != models.InstanceStatusOpen {
		return noop(inst, ReasonAlreadyDecided)
	}
	if !ev.ServerConfirmed && ev.At.Before(inst.AuctionDeadline()) {
		return noop(inst, ReasonAuctionStillOpen)
	}

	o := Outcome{From: inst.Status}

	candidates := inst.Bids
	if len(ev.Winners) > 0 {
		if fromWinners := bidsFrom(inst.Bids, ev.Winners); len(fromWinners) > 0 {
			candidates = fromWinners
		}
	}
	accepted, ok := SelectWinner(candidates)
	if !ok {
		fail(&o, inst, ev.At)
		return o
	}

	inst.AcceptedBid = &accepted
	o.enter(inst, models.InstanceStatusSelected)

	winners := []string{accepted.ProviderID}
	if m.MultipleWinners {
		for _, w := range ev.Winners {
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

	started := ev.At
	inst.InteractionStartedAt = &started
	o.enter(inst, models.InstanceStatusInteracting)
	return o
}

func (m Machine) reportReward(inst *models.Instance, ev Event) (Outcome, error) {
	if inst.Status == models.InstanceStatusResolved {
		if ev.Reward != nil && inst.Reward != nil && *ev.Reward == *inst.Reward {
			return noop(inst, ReasonDuplicateReport), nil
		}
		return noop(inst, ReasonAlreadyDecided), nil
	}
	if inst.Status != models.InstanceStatusInteracting {
		return noop(inst, ReasonNotInteracting), nil
	}
	if ev.Reward == nil {
		return Outcome{}, fmt.Errorf("%w: reward value is required", utils.ErrInvalidPayload)
	}
	if err := settlement.CheckReward(*ev.Reward, inst.MaxCredit); err != nil {
		return Outcome{}, err
	}

	reward := *ev.Reward
	inst.Reward = &reward

	o := Outcome{From: inst.Status}
	resolve(&o, inst, ev.At)
	if inst.Origin == models.OriginDirect {
		finalize(&o, inst, ev.At, false)
	}
	return o, nil
}

func (m Machine) rewardDeadlineElapsed(inst *models.Instance, ev Event) Outcome {
	if inst.Status != models.InstanceStatusInteracting {
		return noop(inst, ReasonNotInteracting)
	}
	if inst.Origin == models.OriginGitHub {
		return noop(inst, ReasonResolvesOnIssueClose)
	}
	deadline := inst.RewardDeadline()
	if deadline == nil || ev.At.Before(*deadline) {
		return noop(inst, ReasonDeadlineNotReached)
	}

	// Silence is not penalized: Reward stays absent and settlement pays
	// the provider as if reward == max_credit.
	o := Outcome{From: inst.Status}
	resolve(&o, inst, ev.At)
	finalize(&o, inst, ev.At, false)
	return o
}

func resolve(o *Outcome, inst *models.Instance, at time.Time) {
	resolvedAt := at
	inst.ResolvedAt = &resolvedAt
	o.enter(inst, models.InstanceStatusResolved)
}

func finalize(o *Outcome, inst *models.Instance, at time.Time, blocked bool) {
	split := settlement.Settle(settlement.Input{
		MaxCredit:      inst.MaxCredit,
		Bid:            inst.AcceptedAmount(),
		Reward:         inst.Reward,
		Blocked:        blocked,
		RewardSharePct: inst.RewardSharePercentage,
	})
	settledAt := at
	inst.Settlement = &split
	inst.SettledAt = &settledAt
	o.Settlement = &split
	o.enter(inst, models.InstanceStatusFinalized)
}

// fail moves inst to Failed and returns the full max_credit to the
// Requester.
func fail(o *Outcome, inst *models.Instance, at time.Time) {
	split := settlement.Refund(inst.MaxCredit)
	settledAt := at
	inst.Settlement = &split
	inst.SettledAt = &settledAt
	o.Settlement = &split
	o.enter(inst, models.InstanceStatusFailed)
}
