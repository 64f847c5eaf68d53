package services

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/raulk/clock"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// ChatService reads and writes the conversation of an instance. Send
// failures are kept as local system messages so the conversation shows
// what went wrong.
type ChatService struct {
	api   APIClient
	clock clock.Clock

	mu     sync.Mutex
	system map[string][]models.Message
}

func NewChatService(api APIClient, clk clock.Clock) *ChatService {
	if clk == nil {
		clk = clock.New()
	}
	return &ChatService{api: api, clock: clk, system: map[string][]models.Message{}}
}

func (s *ChatService) Messages(ctx context.Context, instanceID string) ([]models.Message, error) {
	var resp []dtos.MessageResponse
	if err := s.api.Get(ctx, fmt.Sprintf(constants.PathChat, url.PathEscape(instanceID)), &resp); err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(resp))
	for _, m := range resp {
		out = append(out, models.Message{
			Sender:    models.SenderType(m.Sender),
			Content:   m.Message,
			Timestamp: m.Timestamp.Time,
		})
	}

	s.mu.Lock()
	out = append(out, s.system[instanceID]...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *ChatService) Send(ctx context.Context, instanceID, message string) error {
	req := dtos.SendMessageRequest{Message: message}
	if err := dtos.Validate(req); err != nil {
		return err
	}

	var resp dtos.StatusResponse
	err := s.api.Post(ctx, fmt.Sprintf(constants.PathChatSendMessage, url.PathEscape(instanceID)), req, &resp)
	if err == nil && resp.Status != "ok" {
		err = fmt.Errorf("%w: send-message answered %q", utils.ErrTransient, resp.Status)
	}
	if err != nil {
		s.mu.Lock()
		s.system[instanceID] = append(s.system[instanceID], models.Message{
			Sender:    models.SenderSystem,
			Content:   "Failed to send message: " + err.Error(),
			Timestamp: s.clock.Now(),
		})
		s.mu.Unlock()
		return err
	}
	return nil
}
