package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"personalization-sync/internal/personalization"
	"personalization-sync/internal/storage/storagetest"
)

func TestAdapter(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL tests")
	}

	storagetest.RunStoreTests(t, func(t *testing.T) personalization.Store {
		ctx := context.Background()
		adapter, err := NewAdapterFromURL(ctx, url, 5)
		require.NoError(t, err)
		_, err = adapter.pool.Exec(ctx, `TRUNCATE course_personalization`)
		require.NoError(t, err)
		t.Cleanup(func() { adapter.Close() })
		return adapter
	})
}

func TestConfig(t *testing.T) {
	config := &Config{Host: "db", Database: "personalization", Username: "app", Password: "p@ss"}
	require.NoError(t, config.Validate())

	assert.Equal(t, 5432, config.Port)
	assert.Equal(t, "prefer", config.SSLMode)
	assert.Equal(t, "postgres://app:p%40ss@db:5432/personalization?sslmode=prefer", config.GetConnectionString())

	assert.Error(t, (&Config{Database: "x", Username: "u"}).Validate())
	assert.Error(t, (&Config{Host: "h", Username: "u"}).Validate())
	assert.Error(t, (&Config{Host: "h", Database: "x"}).Validate())
}
