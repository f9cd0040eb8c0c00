// internal/membership/client.go
package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Client reads member standing from the remote membership service.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client throttled to rps requests per second.
func NewClient(baseURL string, rps float64) *Client {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// GetMember fetches a member by ID.
func (c *Client) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("membership rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/members/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	default:
		return nil, fmt.Errorf("failed to get member: unexpected status code: %d", resp.StatusCode)
	}

	var member Member
	if err := json.NewDecoder(resp.Body).Decode(&member); err != nil {
		return nil, fmt.Errorf("failed to decode member: %w", err)
	}
	if !member.Status.Valid() {
		return nil, fmt.Errorf("failed to get member: unknown status %q", member.Status)
	}
	return &member, nil
}

// IsEligible implements Gate.
func (c *Client) IsEligible(ctx context.Context, memberID uuid.UUID) (bool, error) {
	member, err := c.GetMember(ctx, memberID)
	if err != nil {
		return false, err
	}
	return member.Eligible(), nil
}
