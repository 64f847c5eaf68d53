package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/repositories"
	"github.com/GroupLang/agent-market-client/internal/services"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

type HealthController struct {
	session *services.SessionManager
	ledger  repositories.LedgerRepository
}

func NewHealthController(session *services.SessionManager, ledger repositories.LedgerRepository) *HealthController {
	return &HealthController{session: session, ledger: ledger}
}

func (c *HealthController) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := c.ledger.Ping(ctx); err != nil {
		utils.Logger.WithError(err).Error("Settlement ledger unreachable")
		utils.RespondErrorWithCode(w, http.StatusServiceUnavailable, utils.ErrCodeInternal, "Ledger unreachable", nil, err)
		return
	}
	resp := dtos.HealthCheckResponse{Status: "OK", Session: c.session.State().String()}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}
