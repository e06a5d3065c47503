package database

import "time"

// Breakdown holds the eleven per-platform engagement counters of one URL.
type Breakdown struct {
	XTweets           int64 `json:"x_tweet_count"`
	XBookmarks        int64 `json:"x_bookmark_count"`
	XFavorites        int64 `json:"x_favorite_count"`
	XQuotes           int64 `json:"x_quote_count"`
	XReplies          int64 `json:"x_reply_count"`
	XRetweets         int64 `json:"x_retweet_count"`
	Reddit            int64 `json:"reddit_count"`
	FacebookShares    int64 `json:"facebook_share_count"`
	FacebookComments  int64 `json:"facebook_comment_count"`
	FacebookReactions int64 `json:"facebook_reaction_count"`
	Pinterest         int64 `json:"pinterest_count"`
}

// Total is the sum of all counters.
func (b Breakdown) Total() int64 {
	return b.XTweets + b.XBookmarks + b.XFavorites + b.XQuotes + b.XReplies + b.XRetweets +
		b.Reddit + b.FacebookShares + b.FacebookComments + b.FacebookReactions + b.Pinterest
}

// Add returns the field-wise sum of b and o.
func (b Breakdown) Add(o Breakdown) Breakdown {
	return Breakdown{
		XTweets:           b.XTweets + o.XTweets,
		XBookmarks:        b.XBookmarks + o.XBookmarks,
		XFavorites:        b.XFavorites + o.XFavorites,
		XQuotes:           b.XQuotes + o.XQuotes,
		XReplies:          b.XReplies + o.XReplies,
		XRetweets:         b.XRetweets + o.XRetweets,
		Reddit:            b.Reddit + o.Reddit,
		FacebookShares:    b.FacebookShares + o.FacebookShares,
		FacebookComments:  b.FacebookComments + o.FacebookComments,
		FacebookReactions: b.FacebookReactions + o.FacebookReactions,
		Pinterest:         b.Pinterest + o.Pinterest,
	}
}

// ContentRecord is a row of the content table as the selector sees it.
type ContentRecord struct {
	ID        int64
	ClientID  *int64
	Client    *string
	Title     *string
	URL       string
	Published *time.Time
	CreatedAt *time.Time
}

// Snapshot is the stored engagement state of one content record.
type Snapshot struct {
	ContentID int64
	Breakdown Breakdown
	Total     int64
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// Candidate is a content record together with its snapshot, if any.
type Candidate struct {
	ContentRecord
	Prior *Snapshot
}

// HasSnapshot reports whether a snapshot already exists for the record.
func (c Candidate) HasSnapshot() bool {
	return c.Prior != nil
}

// PriorTotal returns the stored total, or nil without a snapshot.
func (c Candidate) PriorTotal() *int64 {
	if c.Prior == nil {
		return nil
	}
	t := c.Prior.Total
	return &t
}

// TopRow is one line of the top-engagement report.
type TopRow struct {
	ContentID int64      `json:"id"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Client    string     `json:"client"`
	Published *time.Time `json:"published,omitempty"`
	Breakdown Breakdown  `json:"breakdown"`
	Total     int64      `json:"total"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TrendingRow is one line of the trending report.
type TrendingRow struct {
	ContentID int64      `json:"id"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Client    string     `json:"client"`
	Published *time.Time `json:"published,omitempty"`
	Total     int64      `json:"total"`
	Increase  int64      `json:"increase"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Stats summarizes snapshot coverage of eligible content.
type Stats struct {
	Eligible        int64
	WithSnapshot    int64
	MissingSnapshot int64
	TotalEngagement int64
	LastUpdated     *time.Time
}
