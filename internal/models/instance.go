package models

import (
	"strconv"
	"time"
)

// InstanceStatus uses the marketplace API's integer encoding.
type InstanceStatus int

const (
	InstanceStatusOpen        InstanceStatus = 0
	InstanceStatusSelected    InstanceStatus = 1
	InstanceStatusInteracting InstanceStatus = 2
	InstanceStatusResolved    InstanceStatus = 3
	InstanceStatusFailed      InstanceStatus = 5
	InstanceStatusFinalized   InstanceStatus = 7
)

func (s InstanceStatus) String() string {
	switch s {
	case InstanceStatusOpen:
		return "open"
	case InstanceStatusSelected:
		return "selected"
	case InstanceStatusInteracting:
		return "interacting"
	case InstanceStatusResolved:
		return "resolved"
	case InstanceStatusFailed:
		return "failed"
	case InstanceStatusFinalized:
		return "finalized"
	}
	return "unknown"
}

// IsTerminal reports whether no transition can leave s.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusFailed || s == InstanceStatusFinalized
}

// ParseInstanceStatus accepts either the wire integer or the lowercase name.
func ParseInstanceStatus(v string) (InstanceStatus, bool) {
	for _, s := range []InstanceStatus{
		InstanceStatusOpen, InstanceStatusSelected, InstanceStatusInteracting,
		InstanceStatusResolved, InstanceStatusFailed, InstanceStatusFinalized,
	} {
		if v == s.String() || v == strconv.Itoa(int(s)) {
			return s, true
		}
	}
	return 0, false
}

type Origin string

const (
	OriginDirect Origin = "direct"
	OriginGitHub Origin = "github"
)

// Bid is a Provider's offer. Amount is what the Provider forfeits if the
// reward turns out to be zero.
type Bid struct {
	ProviderID  string    `json:"provider_id"`
	Amount      Credits   `json:"amount"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Instance is a unit of requested work. It is mutated only through the
// lifecycle package; terminal instances are kept for display.
type Instance struct {
	ID                    string         `json:"id"`
	RequesterID           string         `json:"requester_id,omitempty"`
	Origin                Origin         `json:"origin"`
	Status                InstanceStatus `json:"status"`
	MaxCredit             Credits        `json:"max_credit"`
	RewardSharePercentage int            `json:"reward_share_percentage"`
	CreatedAt             time.Time      `json:"creation_time"`
	InstanceTimeout       time.Duration  `json:"instance_timeout"`
	GenRewardTimeout      time.Duration  `json:"gen_reward_timeout"`

	Bids             []Bid    `json:"bids,omitempty"`
	AcceptedBid      *Bid     `json:"accepted_bid,omitempty"`
	WinningProviders []string `json:"winning_providers,omitempty"`

	InteractionStartedAt *time.Time `json:"interaction_started_at,omitempty"`
	Reward               *Credits   `json:"reward,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	SettledAt            *time.Time `json:"settled_at,omitempty"`
	Settlement           *Split     `json:"settlement,omitempty"`

	Conversations []*Conversation `json:"conversations,omitempty"`
}

// AuctionDeadline is creation_time + instance_timeout.
func (i *Instance) AuctionDeadline() time.Time {
	return i.CreatedAt.Add(i.InstanceTimeout)
}

// RewardDeadline is start-of-interaction + gen_reward_timeout, or nil
// before interaction starts.
func (i *Instance) RewardDeadline() *time.Time {
	if i.InteractionStartedAt == nil {
		return nil
	}
	d := i.InteractionStartedAt.Add(i.GenRewardTimeout)
	return &d
}

// AcceptedAmount is the winning bid, or zero when none was accepted.
func (i *Instance) AcceptedAmount() Credits {
	if i.AcceptedBid == nil {
		return 0
	}
	return i.AcceptedBid.Amount
}

func (i *Instance) Conversation(providerID string) *Conversation {
	for _, c := range i.Conversations {
		if c.ProviderID == providerID {
			return c
		}
	}
	return nil
}

// Clone returns a copy that shares no mutable state with i.
func (i *Instance) Clone() *Instance {
	cp := *i
	cp.Bids = append([]Bid(nil), i.Bids...)
	cp.WinningProviders = append([]string(nil), i.WinningProviders...)
	if i.AcceptedBid != nil {
		b := *i.AcceptedBid
		cp.AcceptedBid = &b
	}
	cp.InteractionStartedAt = clonePtr(i.InteractionStartedAt)
	cp.Reward = clonePtr(i.Reward)
	cp.ResolvedAt = clonePtr(i.ResolvedAt)
	cp.SettledAt = clonePtr(i.SettledAt)
	cp.Settlement = clonePtr(i.Settlement)
	cp.Conversations = make([]*Conversation, 0, len(i.Conversations))
	for _, c := range i.Conversations {
		cc := *c
		cc.Messages = append([]Message(nil), c.Messages...)
		cp.Conversations = append(cp.Conversations, &cc)
	}
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
