package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenerender/internal/config"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, &config.Config{StorageProvider: "localfs", StorageRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "localfs", p.Provider())

	_, err = NewProvider(ctx, &config.Config{StorageProvider: "localfs"})
	assert.ErrorContains(t, err, "STORAGE_LOCAL_ROOT")

	_, err = NewProvider(ctx, &config.Config{StorageProvider: "gdrive", GDriveClientID: "id"})
	assert.ErrorContains(t, err, "missing env: GDRIVE_")

	_, err = NewProvider(ctx, &config.Config{StorageProvider: "ftp"})
	assert.ErrorContains(t, err, "unknown storage provider")
}
