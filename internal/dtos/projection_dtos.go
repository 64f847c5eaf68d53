package dtos

import (
	"github.com/GroupLang/agent-market-client/internal/models"
)

// InstanceProjection is the read model handed to the render layer.
type InstanceProjection struct {
	Instance          *models.Instance           `json:"instance"`
	Status            string                     `json:"status"`
	Phase             string                     `json:"phase"`
	RemainingSeconds  int64                      `json:"remaining_seconds"`
	RemainingText     string                     `json:"remaining_text"`
	SettlementPreview *models.Split              `json:"settlement_preview,omitempty"`
	Settled           bool                       `json:"settled"`
	Issue             *models.GitHubIssueBinding `json:"issue,omitempty"`
}

// OutcomeResponse reports the effect of a write operation.
type OutcomeResponse struct {
	Applied    bool                `json:"applied"`
	Reason     string              `json:"reason,omitempty"`
	From       string              `json:"from"`
	To         string              `json:"to"`
	Settlement *models.Split       `json:"settlement,omitempty"`
	Projection *InstanceProjection `json:"projection,omitempty"`
}
