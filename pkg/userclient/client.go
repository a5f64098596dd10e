/**
 * @description
 * This package provides a client for communicating with the user service.
 * It is used to resolve account owners (name and email) for display on
 * transfer results and transaction history.
 */
package userclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/google/uuid"
)

// ErrUserNotFound is returned when the user service has no record for the id.
var ErrUserNotFound = errors.New("user not found")

// Client is a client for the user service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new user service client.
func NewClient(baseURL string, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// userResponse defines the response from the user lookup endpoint.
type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FindUserByID calls the user service to fetch the owner's display identity.
func (c *Client) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("user service base url is empty")
	}

	endpoint := fmt.Sprintf("%s/internal/users/%s", c.baseURL, url.PathEscape(userID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to user service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("user service returned error status %d", resp.StatusCode)
	}

	var response userResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	user := &domain.User{ID: userID, Name: strings.TrimSpace(response.Name), Email: strings.TrimSpace(response.Email)}
	if parsed, err := uuid.Parse(response.ID); err == nil {
		user.ID = parsed
	}
	return user, nil
}
