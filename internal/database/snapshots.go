package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const snapshotColumns = `x_tweet_count, x_bookmark_count, x_favorite_count, x_quote_count,
    x_reply_count, x_retweet_count, reddit_count,
    facebook_share_count, facebook_comment_count, facebook_reaction_count,
    pinterest_count, total_social_engagement_count`

func breakdownArgs(b Breakdown) []any {
	return []any{
		b.XTweets, b.XBookmarks, b.XFavorites, b.XQuotes,
		b.XReplies, b.XRetweets, b.Reddit,
		b.FacebookShares, b.FacebookComments, b.FacebookReactions,
		b.Pinterest,
	}
}

// InsertSnapshot creates the snapshot row for a content record.
func (db *DB) InsertSnapshot(ctx context.Context, contentID int64, b Breakdown, total int64) error {
	now := timestamp(db.now())
	query := db.rebind(fmt.Sprintf(`
INSERT INTO %s (coverage_id, %s, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, db.snapshot, snapshotColumns))

	args := append([]any{contentID}, breakdownArgs(b)...)
	args = append(args, total, now, now)

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting snapshot %d: %w", contentID, err)
		}
		return nil
	})
}

// UpdateSnapshot overwrites every counter and the total of an existing
// snapshot and refreshes updated_at. When expectedTotal is set the write only
// lands if the stored total still equals it; otherwise ErrStaleSnapshot is
// returned and nothing changes.
func (db *DB) UpdateSnapshot(ctx context.Context, contentID int64, b Breakdown, total int64, expectedTotal *int64) error {
	query := fmt.Sprintf(`
UPDATE %s SET
    x_tweet_count = ?, x_bookmark_count = ?, x_favorite_count = ?, x_quote_count = ?,
    x_reply_count = ?, x_retweet_count = ?, reddit_count = ?,
    facebook_share_count = ?, facebook_comment_count = ?, facebook_reaction_count = ?,
    pinterest_count = ?, total_social_engagement_count = ?, updated_at = ?
WHERE coverage_id = ?`, db.snapshot)

	args := append(breakdownArgs(b), total, timestamp(db.now()), contentID)
	if expectedTotal != nil {
		query += " AND total_social_engagement_count = ?"
		args = append(args, *expectedTotal)
	}
	query = db.rebind(query)

	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("updating snapshot %d: %w", contentID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("updating snapshot %d: %w", contentID, err)
		}
		if n == 0 {
			if expectedTotal != nil {
				return fmt.Errorf("updating snapshot %d: %w", contentID, ErrStaleSnapshot)
			}
			return fmt.Errorf("updating snapshot %d: %w", contentID, ErrSnapshotNotFound)
		}
		return nil
	})
}

// GetSnapshot returns the stored snapshot for a content record, or nil.
func (db *DB) GetSnapshot(ctx context.Context, contentID int64) (*Snapshot, error) {
	query := db.rebind(fmt.Sprintf(`
SELECT coverage_id, %s, created_at, updated_at
FROM %s WHERE coverage_id = ?`, snapshotColumns, db.snapshot))

	var (
		s                    Snapshot
		createdAt, updatedAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx, query, contentID).Scan(
		&s.ContentID,
		&s.Breakdown.XTweets, &s.Breakdown.XBookmarks, &s.Breakdown.XFavorites, &s.Breakdown.XQuotes,
		&s.Breakdown.XReplies, &s.Breakdown.XRetweets, &s.Breakdown.Reddit,
		&s.Breakdown.FacebookShares, &s.Breakdown.FacebookComments, &s.Breakdown.FacebookReactions,
		&s.Breakdown.Pinterest, &s.Total, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %d: %w", contentID, err)
	}
	s.CreatedAt = nullTime(createdAt)
	s.UpdatedAt = nullTime(updatedAt)
	return &s, nil
}
