// internal/clients/guarantee_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GuaranteeClient triggers the maintenance endpoints of the guarantees
// service. It satisfies scheduler.Sweeper.
type GuaranteeClient struct {
	baseURL string
	actor   string
	http    *http.Client
}

func NewGuaranteeClient(baseURL, actor string) *GuaranteeClient {
	return &GuaranteeClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		actor:   actor,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// SweepExpired asks the service to expire every lapsed active guarantee.
func (c *GuaranteeClient) SweepExpired(ctx context.Context) (int, error) {
	return c.post(ctx, "/guarantees/sweep", "expired")
}

// RefreshAlerts asks the service to raise due alerts.
func (c *GuaranteeClient) RefreshAlerts(ctx context.Context) (int, error) {
	return c.post(ctx, "/guarantees/alerts/refresh", "raised")
}

func (c *GuaranteeClient) post(ctx context.Context, path, field string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Actor", c.actor)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("post %s: unexpected status code: %d", path, resp.StatusCode)
	}

	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode %s response: %w", path, err)
	}
	return body[field], nil
}
