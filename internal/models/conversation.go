package models

import "time"

type SenderType string

const (
	SenderRequester SenderType = "requester"
	SenderProvider  SenderType = "provider"
	SenderSystem    SenderType = "system"
)

type Message struct {
	Sender    SenderType `json:"sender"`
	Content   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// Conversation is the ordered exchange between the Requester and one
// selected Provider of an Instance.
type Conversation struct {
	InstanceID string    `json:"instance_id"`
	ProviderID string    `json:"provider_id"`
	Messages   []Message `json:"messages"`
}

func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
}
