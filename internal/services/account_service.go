package services

import (
	"context"
	"net/url"
	"strconv"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/transport"
)

// AccountService covers the current user and their API keys.
type AccountService struct {
	api APIClient
}

func NewAccountService(api APIClient) *AccountService {
	return &AccountService{api: api}
}

func (s *AccountService) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := s.api.Get(ctx, constants.PathAuthMe, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *AccountService) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	var resp []dtos.APIKeyResponse
	if err := s.api.Get(ctx, constants.PathAPIKeysList, &resp); err != nil {
		return nil, err
	}
	out := make([]models.APIKey, 0, len(resp))
	for _, k := range resp {
		out = append(out, models.APIKey{Name: k.Name, Key: k.Key, IsLive: k.IsLive, IsEnabled: k.IsEnabled})
	}
	return out, nil
}

// CreateAPIKey returns the new key; its secret is only shown once.
func (s *AccountService) CreateAPIKey(ctx context.Context, name string, live bool) (*models.APIKey, error) {
	q := url.Values{"name": {name}, "is_live": {strconv.FormatBool(live)}}
	var resp dtos.APIKeyResponse
	if err := s.api.Post(ctx, constants.PathAPIKeysCreate, nil, &resp, transport.WithQuery(q)); err != nil {
		return nil, err
	}
	return &models.APIKey{Name: resp.Name, Key: resp.Key, IsLive: resp.IsLive, IsEnabled: resp.IsEnabled}, nil
}

func (s *AccountService) DeleteAPIKey(ctx context.Context, name string) error {
	return s.api.Delete(ctx, constants.PathAPIKeysDelete, nil, nil, transport.WithQuery(url.Values{"name": {name}}))
}

func (s *AccountService) SetAPIKeyEnabled(ctx context.Context, name string, enabled bool) error {
	p := constants.PathAPIKeysDisable
	if enabled {
		p = constants.PathAPIKeysEnable
	}
	return s.api.Put(ctx, p, nil, nil, transport.WithQuery(url.Values{"name": {name}}))
}
