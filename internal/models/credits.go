package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Credits is a signed fixed-point amount in hundredths of a credit. The
// marketplace API speaks floats with two decimals; all arithmetic here is
// integral so that settlement conserves funds exactly.
type Credits int64

const CreditScale = 100

func NewCredits(f float64) Credits {
	return Credits(math.Round(f * CreditScale))
}

func (c Credits) Float() float64 {
	return float64(c) / CreditScale
}

// String renders with thousands separators, e.g. "1,234.50" or "-10.00".
func (c Credits) String() string {
	return humanize.FormatFloat("#,###.##", c.Float())
}

// Plain renders without separators, for range messages and logs.
func (c Credits) Plain() string {
	return strconv.FormatFloat(c.Float(), 'f', 2, 64)
}

func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(c.Plain()), nil
}

func (c *Credits) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("credits: %w", err)
	}
	*c = NewCredits(f)
	return nil
}

// UnmarshalYAML reads whole credits, like the JSON form.
func (c *Credits) UnmarshalYAML(node *yaml.Node) error {
	var f float64
	if err := node.Decode(&f); err != nil {
		return fmt.Errorf("credits: %w", err)
	}
	*c = NewCredits(f)
	return nil
}

// Split is the outcome of a settlement: how max_credit is divided between
// the two parties. RequesterDelta + ProviderDelta always equals max_credit;
// ProviderDelta may be negative.
type Split struct {
	RequesterDelta Credits `json:"requester_delta"`
	ProviderDelta  Credits `json:"provider_delta"`
}

func (s Split) Total() Credits {
	return s.RequesterDelta + s.ProviderDelta
}
