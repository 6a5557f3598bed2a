package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"inkpass/internal/access"
	"inkpass/internal/apperrors"
)

// AccessClient asks a remote ledger service for access decisions. It
// satisfies the same Authorizer contract as an in-process access.Gate.
type AccessClient struct {
	baseURL string
	http    *http.Client
}

func NewAccessClient(baseURL string) *AccessClient {
	return &AccessClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *AccessClient) Authorize(ctx context.Context, r access.Request) (access.Decision, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return access.Decision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+access.AuthorizePath, bytes.NewReader(body))
	if err != nil {
		return access.Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return access.Decision{}, fmt.Errorf("failed to reach access gate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var appErr apperrors.Error
		if err := json.NewDecoder(resp.Body).Decode(&appErr); err == nil && appErr.Code != "" {
			return access.Decision{}, &appErr
		}
		return access.Decision{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var d access.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return access.Decision{}, err
	}
	return d, nil
}
