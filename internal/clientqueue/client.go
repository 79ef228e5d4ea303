package clientqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mrlokans/shelfsync/internal/syncengine"
)

const (
	syncEndpoint   = "/api/sync"
	defaultTimeout = 30 * time.Second
)

// ErrInvalidToken indicates the provided API token was rejected
var ErrInvalidToken = errors.New("invalid or expired API token")

// ServerError represents a 5xx error from the sync server
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("sync server error: HTTP %d", e.StatusCode)
}

// Client talks to the sync server over HTTP. It satisfies SyncCaller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a sync client for the given server base URL
// (scheme and host, no trailing slash) and API token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
		token:   token,
	}
}

// Call posts one sync batch and decodes the merge result.
func (c *Client) Call(ctx context.Context, syncReq SyncRequest) (*syncengine.Result, error) {
	body, err := json.Marshal(syncReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+syncEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode >= 500 {
		return nil, &ServerError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result syncengine.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

var _ SyncCaller = (*Client)(nil)
