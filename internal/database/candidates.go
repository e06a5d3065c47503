package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// candidateColumns selects a content record and, through the left join, its
// snapshot. Snapshot columns are all NULL when none exists.
const candidateColumns = `
    c.id, c.client_id, c.client, c.title, c.url, c.published, c.created_at,
    s.coverage_id,
    s.x_tweet_count, s.x_bookmark_count, s.x_favorite_count, s.x_quote_count,
    s.x_reply_count, s.x_retweet_count, s.reddit_count,
    s.facebook_share_count, s.facebook_comment_count, s.facebook_reaction_count,
    s.pinterest_count, s.total_social_engagement_count, s.updated_at`

// eligible is the filter every selection mode shares.
const eligible = "c.url IS NOT NULL AND c.url <> '' AND c.deleted = FALSE"

func (db *DB) candidateQuery(where, tail string) string {
	return db.rebind(fmt.Sprintf(`
SELECT %s
FROM %s c
LEFT JOIN %s s ON s.coverage_id = c.id
WHERE %s AND %s
%s`, candidateColumns, db.content, db.snapshot, eligible, where, tail))
}

// SelectByIDs returns the eligible records among ids, ordered by id, and the
// ids that were not found, are soft-deleted, or have no URL.
func (db *DB) SelectByIDs(ctx context.Context, ids []int64) ([]Candidate, []int64, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil, ErrEmptySelection
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	candidates, err := db.queryCandidates(ctx,
		db.candidateQuery("c.id IN ("+placeholders+")", "ORDER BY c.id"), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("selecting by ids: %w", err)
	}

	found := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		found[c.ID] = true
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return candidates, missing, nil
}

// SelectMissing returns up to limit eligible records that have no snapshot,
// newest first, optionally restricted to one client.
func (db *DB) SelectMissing(ctx context.Context, limit int, clientID *int64) ([]Candidate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	where := "s.coverage_id IS NULL"
	var args []any
	if clientID != nil {
		where += " AND c.client_id = ?"
		args = append(args, *clientID)
	}
	args = append(args, limit)

	candidates, err := db.queryCandidates(ctx,
		db.candidateQuery(where, "ORDER BY c.created_at DESC, c.id DESC LIMIT ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("selecting missing snapshots: %w", err)
	}
	return candidates, nil
}

// SelectRecent returns every eligible record published within the last
// daysBack days, newest first, with its prior snapshot if one exists.
func (db *DB) SelectRecent(ctx context.Context, daysBack int) ([]Candidate, error) {
	if daysBack <= 0 {
		return nil, fmt.Errorf("days back must be positive, got %d", daysBack)
	}

	cutoff := db.cutoff(daysBack)
	candidates, err := db.queryCandidates(ctx,
		db.candidateQuery("c.published >= ?", "ORDER BY c.published DESC, c.id DESC"), cutoff)
	if err != nil {
		return nil, fmt.Errorf("selecting recent content: %w", err)
	}
	return candidates, nil
}

func (db *DB) cutoff(daysBack int) time.Time {
	return timestamp(db.now().AddDate(0, 0, -daysBack)).Truncate(time.Second)
}

func (db *DB) queryCandidates(ctx context.Context, query string, args ...any) ([]Candidate, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCandidate(rows *sql.Rows) (Candidate, error) {
	var (
		c         Candidate
		clientID  sql.NullInt64
		client    sql.NullString
		title     sql.NullString
		url       sql.NullString
		published sql.NullTime
		createdAt sql.NullTime
		snapID    sql.NullInt64
		counters  [12]sql.NullInt64
		updatedAt sql.NullTime
	)

	err := rows.Scan(
		&c.ID, &clientID, &client, &title, &url, &published, &createdAt,
		&snapID,
		&counters[0], &counters[1], &counters[2], &counters[3],
		&counters[4], &counters[5], &counters[6],
		&counters[7], &counters[8], &counters[9],
		&counters[10], &counters[11], &updatedAt,
	)
	if err != nil {
		return c, fmt.Errorf("scanning candidate: %w", err)
	}

	c.ClientID = nullInt(clientID)
	c.Client = nullString(client)
	c.Title = nullString(title)
	c.URL = url.String
	c.Published = nullTime(published)
	c.CreatedAt = nullTime(createdAt)

	if snapID.Valid {
		c.Prior = &Snapshot{
			ContentID: snapID.Int64,
			Breakdown: Breakdown{
				XTweets:           counters[0].Int64,
				XBookmarks:        counters[1].Int64,
				XFavorites:        counters[2].Int64,
				XQuotes:           counters[3].Int64,
				XReplies:          counters[4].Int64,
				XRetweets:         counters[5].Int64,
				Reddit:            counters[6].Int64,
				FacebookShares:    counters[7].Int64,
				FacebookComments:  counters[8].Int64,
				FacebookReactions: counters[9].Int64,
				Pinterest:         counters[10].Int64,
			},
			Total:     counters[11].Int64,
			UpdatedAt: nullTime(updatedAt),
		}
	}
	return c, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
