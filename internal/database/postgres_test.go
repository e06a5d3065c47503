package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := New(conn, Postgres, Options{Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return db, mock
}

func TestRebindPostgres(t *testing.T) {
	db, _ := newMockDB(t)
	assert.Equal(t, "a = $1 AND b IN ($2, $3)", db.rebind("a = ? AND b IN (?, ?)"))

	lite := &DB{dialect: SQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestPostgresSelectMissingPlaceholders(t *testing.T) {
	db, mock := newMockDB(t)
	client := int64(9)

	rows := sqlmock.NewRows([]string{
		"id", "client_id", "client", "title", "url", "published", "created_at",
		"coverage_id", "x_tweet_count", "x_bookmark_count", "x_favorite_count", "x_quote_count",
		"x_reply_count", "x_retweet_count", "reddit_count", "facebook_share_count",
		"facebook_comment_count", "facebook_reaction_count", "pinterest_count",
		"total_social_engagement_count", "updated_at",
	}).AddRow(
		int64(5), int64(9), "Acme", "Launch", "https://acme.example/launch", testNow, testNow,
		nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
	)

	mock.ExpectQuery(`LEFT JOIN coverage_social_shares s .* s\.coverage_id IS NULL AND c\.client_id = \$1\s+ORDER BY c\.created_at DESC, c\.id DESC LIMIT \$2`).
		WithArgs(client, 3).
		WillReturnRows(rows)

	got, err := db.SelectMissing(context.Background(), 3, &client)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].ID)
	assert.False(t, got[0].HasSnapshot())
	assert.Equal(t, "https://acme.example/launch", got[0].URL)
	require.NotNil(t, got[0].ClientID)
	assert.Equal(t, int64(9), *got[0].ClientID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSelectRecentQueryFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`c\.published >= \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	_, err := db.SelectRecent(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selecting recent content")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertSnapshotCommits(t *testing.T) {
	db, mock := newMockDB(t)
	b := Breakdown{XTweets: 1, Reddit: 12}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO coverage_social_shares \(coverage_id, .*\$15\)`).
		WithArgs(int64(3), b.XTweets, int64(0), int64(0), int64(0), int64(0), int64(0), b.Reddit,
			int64(0), int64(0), int64(0), int64(0), int64(13), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, db.InsertSnapshot(context.Background(), 3, b, 13))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertSnapshotRollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO coverage_social_shares`).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	err := db.InsertSnapshot(context.Background(), 3, Breakdown{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting snapshot 3")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGuardedUpdateStale(t *testing.T) {
	db, mock := newMockDB(t)
	expected := int64(20)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE coverage_social_shares SET .* WHERE coverage_id = \$14 AND total_social_engagement_count = \$15`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := db.UpdateSnapshot(context.Background(), 8, Breakdown{Reddit: 25}, 25, &expected)
	assert.True(t, errors.Is(err, ErrStaleSnapshot), "expected ErrStaleSnapshot, got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateCommits(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE coverage_social_shares SET .* WHERE coverage_id = \$14$`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, db.UpdateSnapshot(context.Background(), 8, Breakdown{Reddit: 25}, 25, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrationsTableCheck(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT to_regclass\(\$1\) IS NOT NULL`).
		WithArgs("coverage_social_shares").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := db.isLegacyDB(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectPostgresVersionCheck(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT MAX\(version\) FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(`SELECT to_regclass\(\$1\) IS NOT NULL`).
		WithArgs("coverage_social_shares").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
}

func TestPostgresMigrateLeavesContentTableAlone(t *testing.T) {
	db, mock := newMockDB(t)
	expectPostgresVersionCheck(mock)

	mock.ExpectQuery(`SELECT to_regclass\(\$1\) IS NOT NULL`).
		WithArgs("coverage_log").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	// Any statement not listed here, such as DDL on coverage_log, fails the test.
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS coverage_social_shares \( coverage_id BIGINT PRIMARY KEY, x_tweet_count`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations \(version, description\) VALUES \(\$1, \$2\)`).
		WithArgs(1, migrations[0].Description).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_coverage_social_shares_total ON coverage_social_shares`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs(2, migrations[1].Description).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, db.migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrateRequiresContentTable(t *testing.T) {
	db, mock := newMockDB(t)
	expectPostgresVersionCheck(mock)

	mock.ExpectQuery(`SELECT to_regclass\(\$1\) IS NOT NULL`).
		WithArgs("coverage_log").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := db.migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content table coverage_log not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDDLNeverNamesContentTable(t *testing.T) {
	s := schema{dialect: Postgres, content: "coverage_log", snapshot: "coverage_social_shares"}
	for _, stmt := range createTables(s) {
		assert.NotContains(t, stmt, "coverage_log")
	}
}
