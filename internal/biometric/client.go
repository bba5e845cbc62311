package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the biometric verification microservice. Calls are bounded
// by the configured timeout; callers treat failure as non-fatal and fall
// back to QR or manual verification.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. skip short-circuits verification for dev setups
// without a biometric service.
func New(baseURL string, timeout time.Duration, skip bool) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Verify checks a biometric token for a user.
func (c *Client) Verify(ctx context.Context, biometricToken, userID string) (bool, error) {
	if c.Skip {
		return true, nil
	}
	if biometricToken == "" || userID == "" {
		return false, fmt.Errorf("biometric token and user id required")
	}

	body, _ := json.Marshal(map[string]string{
		"token":   biometricToken,
		"user_id": userID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/verification/verify", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("biometric service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("biometric service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode biometric response: %w", err)
	}
	return out.Verified, nil
}

// Health probes the biometric service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("biometric service unhealthy: %s", resp.Status)
	}
	return nil
}
