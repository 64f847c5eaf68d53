package services

import (
	"sort"
	"time"

	"github.com/raulk/clock"
	"github.com/samber/lo"

	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/lifecycle"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/settlement"
	"github.com/GroupLang/agent-market-client/internal/timewindow"
)

// ProjectionService builds the read model for the render layer. Phase and
// remaining time are recomputed from the anchors on every call.
type ProjectionService struct {
	instances *InstanceService
	clock     clock.Clock
}

func NewProjectionService(instances *InstanceService, clk clock.Clock) *ProjectionService {
	if clk == nil {
		clk = clock.New()
	}
	return &ProjectionService{instances: instances, clock: clk}
}

// Project returns the projection of a cached instance.
func (s *ProjectionService) Project(id string) (*dtos.InstanceProjection, bool) {
	inst, ok := s.instances.Cached(id)
	if !ok {
		return nil, false
	}
	b, _ := s.instances.binding(id)
	p := Project(inst, b, s.instances.github, s.clock.Now())
	return &p, true
}

// ProjectAll lists every cached instance, newest first, optionally only
// those in one of statuses.
func (s *ProjectionService) ProjectAll(statuses ...models.InstanceStatus) []dtos.InstanceProjection {
	now := s.clock.Now()
	insts := s.instances.CachedAll()
	if len(statuses) > 0 {
		insts = lo.Filter(insts, func(inst *models.Instance, _ int) bool {
			return lo.Contains(statuses, inst.Status)
		})
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].CreatedAt.After(insts[j].CreatedAt) })
	return lo.Map(insts, func(inst *models.Instance, _ int) dtos.InstanceProjection {
		b, _ := s.instances.binding(inst.ID)
		return Project(inst, b, s.instances.github, now)
	})
}

// ProjectIssue derives the phase of a mirrored issue at the current time.
func (s *ProjectionService) ProjectIssue(b *models.GitHubIssueBinding) dtos.IssueProjection {
	c := s.instances.github.Classify(b, s.clock.Now())
	return dtos.IssueProjection{
		Issue:            b,
		Phase:            c.Phase.String(),
		RemainingSeconds: int64(c.Remaining / time.Second),
		RemainingText:    timewindow.FormatRemaining(c.Remaining),
	}
}

// Project derives {instance, phase, remaining, settlement preview}. b is
// nil for direct instances.
func Project(inst *models.Instance, b *models.GitHubIssueBinding, g lifecycle.GitHubMachine, now time.Time) dtos.InstanceProjection {
	p := dtos.InstanceProjection{
		Instance: inst,
		Status:   inst.Status.String(),
		Issue:    b,
	}

	var remaining time.Duration
	switch {
	case inst.Status.IsTerminal():
		p.Phase = inst.Status.String()
	case b != nil:
		c := g.Classify(b, now)
		p.Phase = c.Phase.String()
		remaining = c.Remaining
	default:
		c := timewindow.ClassifyInstance(now, timewindow.InstanceAnchors{
			AuctionDeadline: inst.AuctionDeadline(),
			RewardDeadline:  inst.RewardDeadline(),
		})
		p.Phase = c.Phase.String()
		remaining = c.Remaining
	}
	p.RemainingSeconds = int64(remaining / time.Second)
	p.RemainingText = timewindow.FormatRemaining(remaining)

	if inst.Settlement != nil {
		split := *inst.Settlement
		p.SettlementPreview = &split
		p.Settled = true
		return p
	}
	p.SettlementPreview = previewSettlement(inst, b)
	return p
}

// previewSettlement is what settlement would pay if the instance settled
// now with what is known so far.
func previewSettlement(inst *models.Instance, b *models.GitHubIssueBinding) *models.Split {
	bid := inst.AcceptedBid
	if bid == nil {
		accepted, ok := lifecycle.SelectWinner(inst.Bids)
		if !ok {
			return nil
		}
		bid = &accepted
	}
	reward := inst.Reward
	if reward == nil && b != nil {
		r := min(max(b.DefaultReward, 0), inst.MaxCredit)
		reward = &r
	}
	share := inst.RewardSharePercentage
	if b != nil && b.RewardSharePercentage > 0 {
		share = b.RewardSharePercentage
	}
	split := settlement.Settle(settlement.Input{
		MaxCredit:      inst.MaxCredit,
		Bid:            bid.Amount,
		Reward:         reward,
		Blocked:        b != nil && b.PaymentBlocked,
		RewardSharePct: share,
	})
	return &split
}
