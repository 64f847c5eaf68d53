package models

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type APIKey struct {
	Name      string `json:"name"`
	Key       string `json:"key,omitempty"`
	IsLive    bool   `json:"is_live"`
	IsEnabled bool   `json:"is_enabled"`
}
