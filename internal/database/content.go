package database

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertContent adds a content record with an explicit id. Production content
// is written by the owning application; this serves local stores and tests.
func (db *DB) InsertContent(ctx context.Context, rec ContentRecord, deleted bool) error {
	var url any
	if rec.URL != "" {
		url = rec.URL
	}
	var client, clientID, title, published, created any
	if rec.Client != nil {
		client = *rec.Client
	}
	if rec.ClientID != nil {
		clientID = *rec.ClientID
	}
	if rec.Title != nil {
		title = *rec.Title
	}
	if rec.Published != nil {
		published = timestamp(*rec.Published)
	}
	if rec.CreatedAt != nil {
		created = timestamp(*rec.CreatedAt)
	} else {
		created = timestamp(db.now())
	}

	query := db.rebind(fmt.Sprintf(`
INSERT INTO %s (id, client, client_id, title, url, published, created_at, deleted)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, db.content))

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			rec.ID, client, clientID, title, url, published, created, deleted,
		); err != nil {
			return fmt.Errorf("inserting content %d: %w", rec.ID, err)
		}
		return nil
	})
}
