package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx, s schema) error
}

// schema carries what DDL needs to know about the target store.
type schema struct {
	dialect  Dialect
	content  string
	snapshot string
	// ownsContent is set for local stores. An external content table is
	// read-only here and never receives DDL.
	ownsContent bool
}

// indexName builds an index name from the unqualified table name.
func (s schema) indexName(table, suffix string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	return "idx_" + table + "_" + suffix
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "content and engagement snapshot tables",
		Up: func(tx *sql.Tx, s schema) error {
			for _, stmt := range createTables(s) {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "report indexes",
		Up: func(tx *sql.Tx, s schema) error {
			stmts := []string{
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(total_social_engagement_count DESC)",
					s.indexName(s.snapshot, "total"), s.snapshot),
			}
			if s.ownsContent {
				stmts = append(stmts,
					fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(published)",
						s.indexName(s.content, "published"), s.content),
					fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(created_at)",
						s.indexName(s.content, "created_at"), s.content),
				)
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

func createTables(s schema) []string {
	if s.dialect == Postgres {
		// No foreign key: it would lock and require privileges on the
		// external content table.
		return []string{
			fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    coverage_id BIGINT PRIMARY KEY,
    x_tweet_count BIGINT NOT NULL DEFAULT 0,
    x_bookmark_count BIGINT NOT NULL DEFAULT 0,
    x_favorite_count BIGINT NOT NULL DEFAULT 0,
    x_quote_count BIGINT NOT NULL DEFAULT 0,
    x_reply_count BIGINT NOT NULL DEFAULT 0,
    x_retweet_count BIGINT NOT NULL DEFAULT 0,
    reddit_count BIGINT NOT NULL DEFAULT 0,
    facebook_share_count BIGINT NOT NULL DEFAULT 0,
    facebook_comment_count BIGINT NOT NULL DEFAULT 0,
    facebook_reaction_count BIGINT NOT NULL DEFAULT 0,
    pinterest_count BIGINT NOT NULL DEFAULT 0,
    total_social_engagement_count BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.snapshot),
		}
	}

	stmts := []string{}
	if s.ownsContent {
		stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    client TEXT,
    client_id INTEGER,
    title TEXT,
    url TEXT,
    published TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted BOOLEAN NOT NULL DEFAULT 0
)`, s.content))
	}
	return append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    coverage_id INTEGER PRIMARY KEY REFERENCES %s(id),
    x_tweet_count INTEGER NOT NULL DEFAULT 0,
    x_bookmark_count INTEGER NOT NULL DEFAULT 0,
    x_favorite_count INTEGER NOT NULL DEFAULT 0,
    x_quote_count INTEGER NOT NULL DEFAULT 0,
    x_reply_count INTEGER NOT NULL DEFAULT 0,
    x_retweet_count INTEGER NOT NULL DEFAULT 0,
    reddit_count INTEGER NOT NULL DEFAULT 0,
    facebook_share_count INTEGER NOT NULL DEFAULT 0,
    facebook_comment_count INTEGER NOT NULL DEFAULT 0,
    facebook_reaction_count INTEGER NOT NULL DEFAULT 0,
    pinterest_count INTEGER NOT NULL DEFAULT 0,
    total_social_engagement_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, s.snapshot, s.content))
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
