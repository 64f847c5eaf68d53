package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/transport"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// AuthAPI is the credential half of the marketplace API.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (string, error)
	Refresh(ctx context.Context, token string) (string, error)
}

// RemoteAuthAPI talks to /auth without retries: a failed login or refresh
// is reported as-is, never repeated.
type RemoteAuthAPI struct {
	client *transport.Client
}

func NewRemoteAuthAPI(baseURL string, hc *http.Client) (*RemoteAuthAPI, error) {
	opts := []transport.Option{transport.WithPolicy(transport.SingleAttempt())}
	if hc != nil {
		opts = append(opts, transport.WithHTTPClient(hc))
	}
	c, err := transport.NewClient(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &RemoteAuthAPI{client: c}, nil
}

func (a *RemoteAuthAPI) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var resp dtos.TokenResponse
	if err := a.client.Post(ctx, constants.PathAuthLogin, form, &resp, transport.WithoutAuth()); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: login response carried no access token", utils.ErrUnauthenticated)
	}
	return resp.AccessToken, nil
}

func (a *RemoteAuthAPI) Refresh(ctx context.Context, token string) (string, error) {
	var resp dtos.TokenResponse
	if err := a.client.Post(ctx, constants.PathAuthRefresh, nil, &resp, transport.WithBearer(token)); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh response carried no access token", utils.ErrUnauthenticated)
	}
	return resp.AccessToken, nil
}

// Register creates a marketplace account. It does not log in.
func (a *RemoteAuthAPI) Register(ctx context.Context, req dtos.RegisterRequest) (*models.User, error) {
	if err := dtos.Validate(req); err != nil {
		return nil, err
	}
	var user models.User
	if err := a.client.Post(ctx, constants.PathAuthRegister, req, &user, transport.WithoutAuth()); err != nil {
		return nil, err
	}
	utils.Logger.WithField("username", user.Username).Info("Account registered")
	return &user, nil
}
