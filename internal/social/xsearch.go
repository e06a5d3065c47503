package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TobiSchelling/socialshares/internal/config"
	"github.com/TobiSchelling/socialshares/internal/database"
)

// XSearchClient counts tweets mentioning a URL through the RapidAPI
// twitter-api45 search endpoint.
type XSearchClient struct {
	baseURL string
	host    string
	apiKey  string
	client  *http.Client
}

// NewXSearchClient creates a client from provider config. The RapidAPI host
// header is taken from the base URL.
func NewXSearchClient(cfg config.Provider) *XSearchClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	host := ""
	if u, err := url.Parse(base); err == nil {
		host = u.Host
	}
	return &XSearchClient{
		baseURL: base,
		host:    host,
		apiKey:  cfg.APIKey(),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *XSearchClient) Name() string { return "xsearch" }

// IsConfigured returns whether the API key is available.
func (c *XSearchClient) IsConfigured() bool {
	return c.apiKey != ""
}

type timelineItem struct {
	Type      string `json:"type"`
	Bookmarks *int64 `json:"bookmarks"`
	Favorites *int64 `json:"favorites"`
	Quotes    *int64 `json:"quotes"`
	Replies   *int64 `json:"replies"`
	Retweets  *int64 `json:"retweets"`
}

// Fetch searches for target and sums the engagement of every tweet item.
// Each tweet counts once toward XTweets.
func (c *XSearchClient) Fetch(ctx context.Context, target string) (database.Breakdown, error) {
	var b database.Breakdown
	if !c.IsConfigured() {
		return b, ErrNotConfigured
	}

	endpoint := c.baseURL + "/search.php?query=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return b, fmt.Errorf("xsearch request: %w", err)
	}
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)

	resp, err := c.client.Do(req)
	if err != nil {
		return b, fmt.Errorf("xsearch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return b, &StatusError{Provider: c.Name(), Code: resp.StatusCode}
	}

	var result struct {
		Timeline []timelineItem `json:"timeline"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return b, fmt.Errorf("xsearch decode: %w", err)
	}

	for _, item := range result.Timeline {
		if item.Type != "tweet" {
			continue
		}
		b.XTweets++
		b.XBookmarks += value(item.Bookmarks)
		b.XFavorites += value(item.Favorites)
		b.XQuotes += value(item.Quotes)
		b.XReplies += value(item.Replies)
		b.XRetweets += value(item.Retweets)
	}
	return b, nil
}
