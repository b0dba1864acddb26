package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"duochat/internal/protocol"
)

// API wraps the relay's HTTP boundary: the login flow and the one-shot
// historical message fetch the reconciliation view is seeded from.
type API struct {
	BaseURL string
	Client  *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  http.DefaultClient,
	}
}

// ErrUnauthorized reports rejected credentials on the login flow.
var ErrUnauthorized = fmt.Errorf("unauthorized")

// Login exchanges credentials for a session token.
func (a *API) Login(ctx context.Context, username, password string) (token string, err error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/auth/login", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: unexpected status %d", res.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("login: empty token")
	}
	return out.Token, nil
}

// FetchHistory retrieves the most recent persisted messages. Called once
// per session (or on explicit refresh) as the reconciliation view's
// historical source.
func (a *API) FetchHistory(ctx context.Context, token string) ([]protocol.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/api/messages", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: unexpected status %d", res.StatusCode)
	}

	var msgs []protocol.Message
	if err := json.NewDecoder(res.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}
