package timewindow

import "time"

// IssuePhase is the derived phase of a GitHub-mirrored instance. Values
// are ordered; for fixed anchors the phase never moves backwards.
type IssuePhase int

const (
	PhaseWaitingForPR IssuePhase = iota
	PhasePROpen
	PhaseInReview
	PhaseExpired
)

func (p IssuePhase) String() string {
	switch p {
	case PhaseWaitingForPR:
		return "waiting_for_pr"
	case PhasePROpen:
		return "pr_open"
	case PhaseInReview:
		return "in_review"
	}
	return "expired"
}

// IssueAnchors are the timestamps a GitHub-mirrored instance is derived from.
type IssueAnchors struct {
	CreatedAt   time.Time
	PRCreatedAt *time.Time
	ClosedAt    *time.Time
}

// Durations holds the product-configurable GitHub windows.
type Durations struct {
	PRWait time.Duration
	Review time.Duration
}

type Classification struct {
	Phase IssuePhase
	// Remaining is the time left in the current phase's countdown; zero
	// for phases without one (pr_open, expired).
	Remaining time.Duration
	// Deadline is the instant Remaining counts down to, zero if none.
	Deadline time.Time
}

// PRDeadline is the hard cutoff for linking a pull request.
func (a IssueAnchors) PRDeadline(d Durations) time.Time {
	return a.CreatedAt.Add(d.PRWait)
}

// PRLinkedInTime reports whether a PR was linked no later than the cutoff.
func (a IssueAnchors) PRLinkedInTime(d Durations) bool {
	return a.PRCreatedAt != nil && !a.PRCreatedAt.After(a.PRDeadline(d))
}

// ReviewWindow is the payment-review window, present only once the issue
// has closed with a PR linked in time.
func (a IssueAnchors) ReviewWindow(d Durations) (Window, bool) {
	if a.ClosedAt == nil || !a.PRLinkedInTime(d) {
		return Window{}, false
	}
	start := *a.ClosedAt
	if a.PRCreatedAt.After(start) {
		start = *a.PRCreatedAt
	}
	return New(start, d.Review), true
}

// ClassifyIssue derives the current phase from the anchors.
func ClassifyIssue(now time.Time, a IssueAnchors, d Durations) Classification {
	prDeadline := a.PRDeadline(d)

	if !a.PRLinkedInTime(d) {
		end := prDeadline
		if a.ClosedAt != nil && a.ClosedAt.Before(end) {
			end = *a.ClosedAt
		}
		if now.Before(end) {
			return Classification{Phase: PhaseWaitingForPR, Remaining: clamp(prDeadline.Sub(now)), Deadline: prDeadline}
		}
		return Classification{Phase: PhaseExpired}
	}

	if now.Before(*a.PRCreatedAt) {
		return Classification{Phase: PhaseWaitingForPR, Remaining: clamp(prDeadline.Sub(now)), Deadline: prDeadline}
	}

	review, closed := a.ReviewWindow(d)
	if !closed || now.Before(review.Start) {
		return Classification{Phase: PhasePROpen}
	}
	if review.Contains(now) {
		return Classification{Phase: PhaseInReview, Remaining: review.Remaining(now), Deadline: review.End}
	}
	return Classification{Phase: PhaseExpired}
}

// InstancePhase is the derived countdown phase of a direct instance.
type InstancePhase int

const (
	PhaseBidding InstancePhase = iota
	PhaseSelecting
	PhaseAwaitingReward
	PhaseRewardWindowElapsed
)

func (p InstancePhase) String() string {
	switch p {
	case PhaseBidding:
		return "bidding"
	case PhaseSelecting:
		return "selecting"
	case PhaseAwaitingReward:
		return "awaiting_reward"
	}
	return "reward_window_elapsed"
}

type InstanceAnchors struct {
	AuctionDeadline time.Time
	RewardDeadline  *time.Time
}

type InstanceClassification struct {
	Phase     InstancePhase
	Remaining time.Duration
	Deadline  time.Time
}

// ClassifyInstance derives the bidding / reward-feedback countdown.
func ClassifyInstance(now time.Time, a InstanceAnchors) InstanceClassification {
	if now.Before(a.AuctionDeadline) {
		return InstanceClassification{Phase: PhaseBidding, Remaining: a.AuctionDeadline.Sub(now), Deadline: a.AuctionDeadline}
	}
	if a.RewardDeadline == nil {
		return InstanceClassification{Phase: PhaseSelecting}
	}
	if now.Before(*a.RewardDeadline) {
		return InstanceClassification{Phase: PhaseAwaitingReward, Remaining: a.RewardDeadline.Sub(now), Deadline: *a.RewardDeadline}
	}
	return InstanceClassification{Phase: PhaseRewardWindowElapsed}
}
