package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/config"
	"personalization-sync/internal/storage/memory"
	"personalization-sync/internal/storage/sqlite"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, &config.Config{DatabaseType: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	store, err = New(ctx, &config.Config{DatabaseType: "sqlite", DatabasePath: filepath.Join(t.TempDir(), "f.db")})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Adapter{}, store)
	require.NoError(t, store.Close())

	_, err = New(ctx, &config.Config{DatabaseType: "mysql"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))

	_, err = New(ctx, &config.Config{DatabaseType: "postgres", PostgresPort: "abc"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))
}
