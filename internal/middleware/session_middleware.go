// Package middleware guards the render bridge's routes.
package middleware

import (
	"net/http"

	"github.com/GroupLang/agent-market-client/internal/utils"
)

// SessionState is the part of services.SessionManager the middleware reads.
type SessionState interface {
	AccessToken() (string, error)
	Expired() bool
}

// SessionMiddleware rejects requests while no session is active. A session
// that ended through a failed refresh answers token_expired so the render
// layer can prompt for a new login.
func SessionMiddleware(s SessionState) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.AccessToken(); err != nil {
				if s.Expired() {
					utils.RespondErrorWithCode(
						w, http.StatusUnauthorized, utils.ErrCodeTokenExpired, "Session expired, please log in again", nil, err,
					)
					return
				}
				utils.RespondErrorWithCode(
					w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Not logged in", nil, err,
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
