package scorer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the statistical scorer service over HTTP.
type Client struct {
	base string
	rest *resty.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	return &Client{base: base, rest: r}
}

func (c *Client) Score(ctx context.Context, entityID, orgID string) (*Breakdown, error) {
	path := fmt.Sprintf("/api/v1/entities/%s/risk-score", entityID)

	var breakdown Breakdown
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("organisationId", orgID).
		SetResult(&breakdown).
		Get(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("scorer request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("scorer error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	return &breakdown, nil
}

func (c *Client) SampleEntities(ctx context.Context, orgID string, limit int) ([]string, error) {
	path := fmt.Sprintf("/api/v1/organisations/%s/entities", orgID)

	var ids []string
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("sample", "true").
		SetResult(&ids).
		Get(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("entity sample request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("scorer error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	return ids, nil
}
