package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/services"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

type GitHubController struct {
	mirror     *services.GitHubMirrorService
	projection *services.ProjectionService
}

func NewGitHubController(mirror *services.GitHubMirrorService, projection *services.ProjectionService) *GitHubController {
	return &GitHubController{mirror: mirror, projection: projection}
}

// GET /api/v1/github/issues?repo_url=
func (c *GitHubController) IssuesHandler(w http.ResponseWriter, r *http.Request) {
	issues, err := c.mirror.ListIssues(r.Context(), r.URL.Query().Get("repo_url"))
	if err != nil {
		utils.HandleAppError(w, err)
		return
	}
	out := make([]dtos.IssueProjection, 0, len(issues))
	for _, b := range issues {
		out = append(out, c.projection.ProjectIssue(b))
	}
	utils.RespondWithJSON(w, http.StatusOK, out)
}

// POST /api/v1/github/block
func (c *GitHubController) BlockPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req dtos.BlockPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid JSON payload", nil, err)
		return
	}

	o, err := c.mirror.BlockPayment(r.Context(), req.RepoURL, req.IssueNumber)
	if err != nil {
		utils.HandleAppError(w, err)
		return
	}
	var p *dtos.InstanceProjection
	if id, ok := c.mirror.InstanceID(req.RepoURL, req.IssueNumber); ok {
		p, _ = c.projection.Project(id)
	}
	utils.RespondWithJSON(w, http.StatusOK, outcomeResponse(o, p))
}
