package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/services"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

type SessionController struct {
	session *services.SessionManager
	auth    *services.RemoteAuthAPI
}

func NewSessionController(session *services.SessionManager, auth *services.RemoteAuthAPI) *SessionController {
	return &SessionController{session: session, auth: auth}
}

// POST /api/v1/auth/login
func (c *SessionController) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req dtos.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid JSON payload", nil, err)
		return
	}
	if err := dtos.Validate(req); err != nil {
		utils.HandleAppError(w, err)
		return
	}

	if _, err := c.session.Login(r.Context(), req.Username, req.Password); err != nil {
		utils.HandleAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, c.sessionResponse())
}

// POST /api/v1/auth/token
func (c *SessionController) TokenLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req dtos.TokenLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid JSON payload", nil, err)
		return
	}
	if _, err := c.session.LoginWithToken(req.Token); err != nil {
		utils.HandleAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, c.sessionResponse())
}

// POST /api/v1/auth/register
func (c *SessionController) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req dtos.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid JSON payload", nil, err)
		return
	}
	user, err := c.auth.Register(r.Context(), req)
	if err != nil {
		utils.HandleAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, user)
}

// POST /api/v1/auth/logout
func (c *SessionController) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	c.session.Logout()
	utils.RespondWithJSON(w, http.StatusOK, c.sessionResponse())
}

// GET /api/v1/auth/session
func (c *SessionController) SessionHandler(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, c.sessionResponse())
}

func (c *SessionController) sessionResponse() dtos.SessionResponse {
	resp := dtos.SessionResponse{State: c.session.State().String()}
	if tok := c.session.Token(); tok != nil {
		resp.ExpiresAt = &dtos.Timestamp{Time: tok.ExpiresAt()}
	}
	return resp
}
