package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// TopEngagement returns the limit records with the highest stored total.
func (db *DB) TopEngagement(ctx context.Context, limit int) ([]TopRow, error) {
	query := db.rebind(fmt.Sprintf(`
SELECT c.id, c.client, c.title, c.url, c.published, %s, s.updated_at
FROM %s c
JOIN %s s ON s.coverage_id = c.id
WHERE c.deleted = FALSE
ORDER BY s.total_social_engagement_count DESC, c.id
LIMIT ?`, prefixed("s.", snapshotColumns), db.content, db.snapshot))

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top engagement: %w", err)
	}
	defer rows.Close()

	var out []TopRow
	for rows.Next() {
		var (
			r                    TopRow
			client, title, url   sql.NullString
			published, updatedAt sql.NullTime
			b                    = &r.Breakdown
		)
		if err := rows.Scan(&r.ContentID, &client, &title, &url, &published,
			&b.XTweets, &b.XBookmarks, &b.XFavorites, &b.XQuotes,
			&b.XReplies, &b.XRetweets, &b.Reddit,
			&b.FacebookShares, &b.FacebookComments, &b.FacebookReactions,
			&b.Pinterest, &r.Total, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning top row: %w", err)
		}
		r.Client, r.Title, r.URL = client.String, title.String, url.String
		r.Published, r.UpdatedAt = nullTime(published), nullTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trending returns recently published records with non-zero engagement,
// ordered by increase. Only the latest snapshot is stored, so the increase
// of a record equals its current total.
func (db *DB) Trending(ctx context.Context, daysBack, limit int) ([]TrendingRow, error) {
	query := db.rebind(fmt.Sprintf(`
SELECT c.id, c.client, c.title, c.url, c.published,
       s.total_social_engagement_count, s.updated_at
FROM %s c
JOIN %s s ON s.coverage_id = c.id
WHERE c.published >= ? AND c.deleted = FALSE
  AND s.total_social_engagement_count > 0
ORDER BY s.total_social_engagement_count DESC, c.id
LIMIT ?`, db.content, db.snapshot))

	rows, err := db.conn.QueryContext(ctx, query, db.cutoff(daysBack), limit)
	if err != nil {
		return nil, fmt.Errorf("querying trending: %w", err)
	}
	defer rows.Close()

	var out []TrendingRow
	for rows.Next() {
		var (
			r                    TrendingRow
			client, title, url   sql.NullString
			published, updatedAt sql.NullTime
		)
		if err := rows.Scan(&r.ContentID, &client, &title, &url, &published, &r.Total, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning trending row: %w", err)
		}
		r.Client, r.Title, r.URL = client.String, title.String, url.String
		r.Published, r.UpdatedAt = nullTime(published), nullTime(updatedAt)
		r.Increase = r.Total
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats reports snapshot coverage across eligible content.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	query := db.rebind(fmt.Sprintf(`
SELECT COUNT(*),
       COUNT(s.coverage_id),
       COALESCE(SUM(s.total_social_engagement_count), 0)
FROM %s c
LEFT JOIN %s s ON s.coverage_id = c.id
WHERE %s`, db.content, db.snapshot, eligible))

	if err := db.conn.QueryRowContext(ctx, query).Scan(&st.Eligible, &st.WithSnapshot, &st.TotalEngagement); err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	st.MissingSnapshot = st.Eligible - st.WithSnapshot

	// ORDER BY instead of MAX keeps the column type so SQLite returns a time.
	var last sql.NullTime
	err := db.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT updated_at FROM %s ORDER BY updated_at DESC LIMIT 1", db.snapshot),
	).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying last update: %w", err)
	}
	st.LastUpdated = nullTime(last)
	return &st, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
