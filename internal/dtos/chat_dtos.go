package dtos

type SendMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}
