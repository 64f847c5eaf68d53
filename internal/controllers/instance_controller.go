package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/lifecycle"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/services"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

type InstanceController struct {
	instances  *services.InstanceService
	projection *services.ProjectionService
}

func NewInstanceController(instances *services.InstanceService, projection *services.ProjectionService) *InstanceController {
	return &InstanceController{instances: instances, projection: projection}
}

// GET /api/v1/instances?status=<name|code>
func (c *InstanceController) ListHandler(w http.ResponseWriter, r *http.Request) {
	var filter *models.InstanceStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := models.ParseInstanceStatus(raw)
		if !ok {
			utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, fmt.Sprintf("Unknown status %q", raw), nil)
			return
		}
		filter = &s
	}

	if _, err := c.instances.List(r.Context(), filter); err != nil {
		utils.HandleAppError(w, err)
		return
	}
	var statuses []models.InstanceStatus
	if filter != nil {
		statuses = append(statuses, *filter)
	}
	utils.RespondWithJSON(w, http.StatusOK, c.projection.ProjectAll(statuses...))
}

// GET /api/v1/instances/{id}
func (c *InstanceController) GetHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := c.instances.Get(r.Context(), id); err != nil {
		utils.HandleAppError(w, err)
		return
	}
	p, _ := c.projection.Project(id)
	utils.RespondWithJSON(w, http.StatusOK, p)
}

// POST /api/v1/instances/{id}/bids
func (c *InstanceController) SubmitBidHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req dtos.SubmitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid JSON payload", nil, err)
		return
	}
	if err := dtos.Validate(req); err != nil {
		utils.HandleAppError(w, err)
		return
	}

	o, err := c.instances.SubmitBid(r.Context(), id, req.ProviderID, req.Amount)
	c.respondOutcome(w, id, o, err)
}

// PUT /api/v1/instances/{id}/report-reward
func (c *InstanceController) ReportRewardHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req dtos.ReportRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid JSON payload", nil, err)
		return
	}
	if err := dtos.Validate(req); err != nil {
		utils.HandleAppError(w, err)
		return
	}

	o, err := c.instances.ReportReward(r.Context(), id, *req.GenReward)
	c.respondOutcome(w, id, o, err)
}

// respondOutcome answers a write. Domain errors carry the current
// projection as details so the render layer can redraw.
func (c *InstanceController) respondOutcome(w http.ResponseWriter, id string, o lifecycle.Outcome, err error) {
	p, _ := c.projection.Project(id)
	if err != nil {
		appErr := utils.ToAppError(err)
		var details any
		if p != nil {
			details = p
		}
		utils.RespondErrorWithCode(w, appErr.StatusCode, appErr.Code, appErr.Message, details, appErr.Err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, outcomeResponse(o, p))
}

func outcomeResponse(o lifecycle.Outcome, p *dtos.InstanceProjection) dtos.OutcomeResponse {
	return dtos.OutcomeResponse{
		Applied:    o.Applied,
		Reason:     o.Reason,
		From:       o.From.String(),
		To:         o.To.String(),
		Settlement: o.Settlement,
		Projection: p,
	}
}
