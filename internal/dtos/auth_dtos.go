package dtos

// LoginRequest is the render bridge's login body; the marketplace expects
// the same fields form-encoded.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Fullname string `json:"fullname" validate:"required"`
}

// TokenLoginRequest carries a token issued out of band, such as by an
// OAuth callback.
type TokenLoginRequest struct {
	Token string `json:"token" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type SessionResponse struct {
	State     string     `json:"state"`
	ExpiresAt *Timestamp `json:"expires_at,omitempty"`
}

type APIKeyResponse struct {
	Name      string `json:"name"`
	Key       string `json:"key,omitempty"`
	IsLive    bool   `json:"is_live"`
	IsEnabled bool   `json:"is_enabled"`
}
