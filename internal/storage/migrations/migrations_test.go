package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	stmts, err := SplitStatements(`
-- first
CREATE TABLE a (x String);

-- second
CREATE TABLE b (y String DEFAULT 'it''s');
`)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE TABLE a (x String)",
		"CREATE TABLE b (y String DEFAULT 'it''s')",
	}, stmts)
}

func TestSplitStatements_RejectsQuotedSemicolon(t *testing.T) {
	_, err := SplitStatements(`INSERT INTO t VALUES ('a;b');`)
	assert.Error(t, err)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/candles")
	require.NoError(t, err)
	assert.Equal(t, "candles", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestEmbeddedFilesLoad(t *testing.T) {
	pg, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	require.Len(t, pg, 2)
	assert.Equal(t, "001_pairs.sql", pg[0].name)

	ch, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.Len(t, ch, 1)

	stmts, err := SplitStatements(ch[0].sql)
	require.NoError(t, err)
	assert.Len(t, stmts, 1)
}
