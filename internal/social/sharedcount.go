package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/TobiSchelling/socialshares/internal/config"
	"github.com/TobiSchelling/socialshares/internal/database"
)

// SharedCountClient fetches Facebook, Reddit and Pinterest counts for a URL
// from the SharedCount API.
type SharedCountClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSharedCountClient creates a client from provider config.
func NewSharedCountClient(cfg config.Provider) *SharedCountClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SharedCountClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey(),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *SharedCountClient) Name() string { return "sharedcount" }

// IsConfigured returns whether the API key is available.
func (c *SharedCountClient) IsConfigured() bool {
	return c.apiKey != ""
}

type sharedCountResponse struct {
	Facebook *struct {
		ShareCount    *int64 `json:"share_count"`
		CommentCount  *int64 `json:"comment_count"`
		ReactionCount *int64 `json:"reaction_count"`
	} `json:"Facebook"`
	Reddit    *int64 `json:"Reddit"`
	Pinterest *int64 `json:"Pinterest"`
}

// Fetch returns the Facebook, Reddit and Pinterest counters for target.
// Absent or null fields are zero.
func (c *SharedCountClient) Fetch(ctx context.Context, target string) (database.Breakdown, error) {
	var b database.Breakdown
	if !c.IsConfigured() {
		return b, ErrNotConfigured
	}

	params := url.Values{
		"url":    {target},
		"apikey": {c.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return b, fmt.Errorf("sharedcount request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return b, fmt.Errorf("sharedcount: %w", redactKey(err, c.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return b, &StatusError{Provider: c.Name(), Code: resp.StatusCode}
	}

	var result sharedCountResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return b, fmt.Errorf("sharedcount decode: %w", err)
	}

	if fb := result.Facebook; fb != nil {
		b.FacebookShares = value(fb.ShareCount)
		b.FacebookComments = value(fb.CommentCount)
		b.FacebookReactions = value(fb.ReactionCount)
	}
	b.Reddit = value(result.Reddit)
	b.Pinterest = value(result.Pinterest)
	return b, nil
}

func value(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
