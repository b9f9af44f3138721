package db

import (
	"strings"
	"testing"

	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteDB(t *testing.T) {
	database, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.Ping())
}

func TestRunMigrationsDB(t *testing.T) {
	database, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer database.Close()
	database.SetMaxOpenConns(1)

	migs := []Migration{
		{
			ID: "001_test.sql",
			SQL: `-- +migrate Down
DROP TABLE IF EXISTS widgets;

-- +migrate Up
CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
`,
		},
	}

	require.NoError(t, RunMigrationsDB(logger.NewNopLogger(), database, migs))

	_, err = database.Exec(`INSERT INTO widgets (name) VALUES ('a')`)
	require.NoError(t, err)

	// Re-running is a no-op, not an error.
	require.NoError(t, RunMigrationsDB(logger.NewNopLogger(), database, migs))
}

func TestRunMigrationsDB_MissingSeparator(t *testing.T) {
	database, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer database.Close()

	migs := []Migration{{ID: "001_bad.sql", SQL: `CREATE TABLE nope (id INTEGER);`}}

	err = RunMigrationsDB(logger.NewNopLogger(), database, migs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestAddressMeddler_PreWrite(t *testing.T) {
	m := AddressMeddler{}

	addr := common.HexToAddress("0xAbCd000000000000000000000000000000001234")

	v, err := m.PreWrite(addr)
	require.NoError(t, err)
	// Stored form is lower-case hex
	assert.Equal(t, strings.ToLower(addr.Hex()), v)

	v, err = m.PreWrite(&addr)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(addr.Hex()), v)

	v, err = m.PreWrite((*common.Address)(nil))
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = m.PreWrite("not an address")
	require.Error(t, err)
}

func TestHashMeddler_PreWrite(t *testing.T) {
	m := HashMeddler{}

	hash := common.HexToHash("0xAAAA000000000000000000000000000000000000000000000000000000000001")

	v, err := m.PreWrite(hash)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(hash.Hex()), v)

	_, err = m.PreWrite(42)
	require.Error(t, err)
}
