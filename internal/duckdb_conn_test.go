package internal

import (
	"context"
	"testing"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDuckDBConfig(t *testing.T) {
	assert.NoError(t, ValidateDuckDBConfig(strata.DuckDBConfig{Enabled: false, Threads: -1}))
	assert.Error(t, ValidateDuckDBConfig(strata.DuckDBConfig{Enabled: true, Threads: -1, QueryTimeout: time.Second}))
	assert.Error(t, ValidateDuckDBConfig(strata.DuckDBConfig{Enabled: true}))
	assert.NoError(t, ValidateDuckDBConfig(strata.DuckDBConfig{Enabled: true, QueryTimeout: time.Second}))
}

func TestNewDuckDBClient_Disabled(t *testing.T) {
	_, err := NewDuckDBClient(strata.DuckDBConfig{Enabled: false, DBPath: ":memory:"})
	assert.Error(t, err)
}

func TestDuckDBClientNilIsSafe(t *testing.T) {
	var c *DuckDBClient
	assert.NoError(t, c.Close())
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestDuckDBQuerySuppliers(t *testing.T) {
	c, err := NewDuckDBClient(strata.DuckDBConfig{Enabled: true, Threads: 1, QueryTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.HealthCheck(context.Background()))

	longs, err := c.LongsQuery("SELECT * FROM (VALUES (1), (NULL), (3)) t(v)")()
	require.NoError(t, err)
	assert.Equal(t, 3, longs.Len())
	assert.Equal(t, int64(3), longs.Get(2))
	assert.True(t, longs.(*ArrowLongs).IsNull(1))

	floats, err := c.FloatsQuery("SELECT CAST(? AS DOUBLE) * 1.5", 2)()
	require.NoError(t, err)
	assert.Equal(t, 1, floats.Len())
	assert.Equal(t, 3.0, floats.Get(0))

	_, err = c.LongsQuery("SELECT * FROM missing_table")()
	assert.True(t, strata.IsNotAvailable(err))
}
