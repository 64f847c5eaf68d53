package dtos

type HealthCheckResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}
