package models

import "time"

// LedgerEntry is the audit record written once per settled Instance
// (Finalized, or Failed with a refund).
type LedgerEntry struct {
	InstanceID     string    `json:"instance_id"`
	Origin         Origin    `json:"origin"`
	ProviderID     string    `json:"provider_id,omitempty"`
	MaxCredit      Credits   `json:"max_credit"`
	Bid            Credits   `json:"bid"`
	Reward         *Credits  `json:"reward,omitempty"`
	Blocked        bool      `json:"blocked"`
	RequesterDelta Credits   `json:"requester_delta"`
	ProviderDelta  Credits   `json:"provider_delta"`
	SettledAt      time.Time `json:"settled_at"`
}

func NewLedgerEntry(inst *Instance, blocked bool) *LedgerEntry {
	e := &LedgerEntry{
		InstanceID: inst.ID,
		Origin:     inst.Origin,
		MaxCredit:  inst.MaxCredit,
		Bid:        inst.AcceptedAmount(),
		Reward:     inst.Reward,
		Blocked:    blocked,
	}
	if inst.AcceptedBid != nil {
		e.ProviderID = inst.AcceptedBid.ProviderID
	}
	if inst.Settlement != nil {
		e.RequesterDelta = inst.Settlement.RequesterDelta
		e.ProviderDelta = inst.Settlement.ProviderDelta
	}
	if inst.SettledAt != nil {
		e.SettledAt = *inst.SettledAt
	}
	return e
}
