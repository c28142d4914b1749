// internal/clients/bank_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"guaranteedesk/internal/bank"
	"guaranteedesk/pkg/domain"
)

// BankClient reads bank profiles from the banks service. It satisfies
// guarantee.BankDirectory.
type BankClient struct {
	baseURL string
	http    *http.Client
}

func NewBankClient(baseURL string) *BankClient {
	return &BankClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetBank fetches one profile. A 404 maps to domain.ErrNotFound.
func (c *BankClient) GetBank(ctx context.Context, id uuid.UUID) (*bank.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/banks/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bank %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &domain.NotFoundError{Resource: "bank", ID: id.String()}
	default:
		return nil, fmt.Errorf("fetch bank %s: unexpected status code: %d", id, resp.StatusCode)
	}

	var profile bank.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode bank %s: %w", id, err)
	}
	return &profile, nil
}

// ListBanks returns every registered bank, or only active ones.
func (c *BankClient) ListBanks(ctx context.Context, activeOnly bool) ([]*bank.Profile, error) {
	url := c.baseURL + "/banks/"
	if activeOnly {
		url += "?active=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list banks: unexpected status code: %d", resp.StatusCode)
	}

	var profiles []*bank.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		return nil, fmt.Errorf("decode banks: %w", err)
	}
	return profiles, nil
}
