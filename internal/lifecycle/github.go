package lifecycle

import (
	"fmt"
	"time"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/timewindow"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

type GitHubEventKind int

const (
	GitHubPRLinked GitHubEventKind = iota
	GitHubIssueClosed
	GitHubBlockPayment
)

func (k GitHubEventKind) String() string {
	switch k {
	case GitHubPRLinked:
		return "pr_linked"
	case GitHubIssueClosed:
		return "issue_closed"
	}
	return "block_payment"
}

type GitHubEvent struct {
	Kind GitHubEventKind
	At   time.Time
}

// GitHubMachine layers the PR-wait and payment-review phases on top of
// Machine for instances mirrored from GitHub issues.
type GitHubMachine struct {
	Machine Machine
	Windows timewindow.Durations
}

func anchorsOf(b *models.GitHubIssueBinding) timewindow.IssueAnchors {
	return timewindow.IssueAnchors{
		CreatedAt:   b.IssueCreatedAt,
		PRCreatedAt: b.PRCreatedAt,
		ClosedAt:    b.IssueClosedAt,
	}
}

// Classify derives the phase shown to callers.
func (g GitHubMachine) Classify(b *models.GitHubIssueBinding, now time.Time) timewindow.Classification {
	return timewindow.ClassifyIssue(now, anchorsOf(b), g.Windows)
}

// Transition applies a GitHub event to the instance and its binding. An
// issue that closes while the auction is still running is recorded on the
// binding; the instance resolves once Advance has closed the auction.
func (g GitHubMachine) Transition(inst *models.Instance, b *models.GitHubIssueBinding, ev GitHubEvent) (Outcome, error) {
	applyShare(inst, b)
	switch ev.Kind {
	case GitHubPRLinked:
		if b.PRCreatedAt != nil {
			return noop(inst, ReasonPRAlreadyLinked), nil
		}
		at := ev.At
		b.PRCreatedAt = &at
		return Outcome{From: inst.Status, To: inst.Status, Applied: true}, nil

	case GitHubIssueClosed:
		if b.IssueClosedAt != nil {
			return noop(inst, ReasonIssueAlreadyClosed), nil
		}
		at := ev.At
		b.IssueClosedAt = &at
		o := Outcome{From: inst.Status, To: inst.Status, Applied: true}
		if window, ok := anchorsOf(b).ReviewWindow(g.Windows); ok && inst.Status == models.InstanceStatusInteracting {
			g.resolve(&o, inst, b, resolveAt(inst, window))
		}
		return o, nil

	case GitHubBlockPayment:
		return g.blockPayment(inst, b, ev.At)
	}
	return Outcome{}, fmt.Errorf("%w: unknown github event %d", utils.ErrInvalidPayload, ev.Kind)
}

// Advance fires the time-driven transitions due at now: the auction close,
// the PR-wait cutoff and the end of the payment-review window. A binding
// blocked elsewhere finalizes a Resolved instance with the refund split.
func (g GitHubMachine) Advance(inst *models.Instance, b *models.GitHubIssueBinding, now time.Time) []Outcome {
	applyShare(inst, b)
	if inst.Status.IsTerminal() {
		return nil
	}
	out := g.Machine.Advance(inst, now)
	if inst.Status.IsTerminal() {
		return out
	}
	a := anchorsOf(b)

	if !a.PRLinkedInTime(g.Windows) {
		if timewindow.ClassifyIssue(now, a, g.Windows).Phase != timewindow.PhaseExpired {
			return out
		}
		at := a.PRDeadline(g.Windows)
		if a.ClosedAt != nil && a.ClosedAt.Before(at) {
			at = *a.ClosedAt
		}
		zero := models.Credits(0)
		inst.Reward = &zero
		o := Outcome{From: inst.Status}
		fail(&o, inst, at)
		return append(out, o)
	}

	window, closed := a.ReviewWindow(g.Windows)
	if !closed || now.Before(window.Start) {
		return out
	}

	switch inst.Status {
	case models.InstanceStatusInteracting:
		o := Outcome{From: inst.Status}
		g.resolve(&o, inst, b, resolveAt(inst, window))
		out = append(out, o)
	case models.InstanceStatusResolved:
	default:
		return out
	}

	switch {
	case b.PaymentBlocked:
		at := now
		if at.After(window.End) {
			at = window.End
		}
		if inst.ResolvedAt != nil && at.Before(*inst.ResolvedAt) {
			at = *inst.ResolvedAt
		}
		o := Outcome{From: inst.Status}
		finalize(&o, inst, at, true)
		out = append(out, o)
	case window.State(now) == timewindow.StateElapsed:
		o := Outcome{From: inst.Status}
		finalize(&o, inst, window.End, false)
		out = append(out, o)
	}
	return out
}

func (g GitHubMachine) blockPayment(inst *models.Instance, b *models.GitHubIssueBinding, at time.Time) (Outcome, error) {
	if b.PaymentBlocked || inst.Status.IsTerminal() {
		return noop(inst, ReasonAlreadyDecided), nil
	}
	window, ok := anchorsOf(b).ReviewWindow(g.Windows)
	if !ok || at.Before(window.Start) {
		return Outcome{}, fmt.Errorf("%w: issue %s is not in review", utils.ErrOutsideReviewWindow, b.Key())
	}
	if window.State(at) == timewindow.StateElapsed {
		return noop(inst, ReasonAlreadyDecided), nil
	}

	o := Outcome{From: inst.Status}
	for _, closed := range g.Machine.Advance(inst, at) {
		o.Path = append(o.Path, closed.Path...)
		o.To, o.Applied, o.Settlement = closed.To, true, closed.Settlement
	}
	switch inst.Status {
	case models.InstanceStatusInteracting:
		g.resolve(&o, inst, b, resolveAt(inst, window))
	case models.InstanceStatusResolved:
	case models.InstanceStatusOpen, models.InstanceStatusSelected:
		return noop(inst, ReasonAuctionStillOpen), nil
	default:
		// the auction closed without bids
		return o, nil
	}
	b.PaymentBlocked = true
	finalize(&o, inst, at, true)
	return o, nil
}

// resolveAt is the review window's start, or the interaction start when
// the auction closed after the issue did.
func resolveAt(inst *models.Instance, window timewindow.Window) time.Time {
	if inst.InteractionStartedAt != nil && inst.InteractionStartedAt.After(window.Start) {
		return *inst.InteractionStartedAt
	}
	return window.Start
}

// applyShare carries the repository's reward share onto the instance.
func applyShare(inst *models.Instance, b *models.GitHubIssueBinding) {
	if b.RewardSharePercentage > 0 {
		inst.RewardSharePercentage = b.RewardSharePercentage
	}
}

// resolve moves the instance to Resolved with the repository's default
// reward, capped at max_credit, unless a reward was already reported.
func (g GitHubMachine) resolve(o *Outcome, inst *models.Instance, b *models.GitHubIssueBinding, at time.Time) {
	if inst.Reward == nil {
		reward := b.DefaultReward
		if reward > inst.MaxCredit {
			reward = inst.MaxCredit
		}
		if reward < 0 {
			reward = 0
		}
		inst.Reward = &reward
	}
	resolve(o, inst, at)
}
