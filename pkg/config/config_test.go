package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andrej220/torito/pkg/config/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStoreType(t *testing.T) {
	tests := []struct {
		in      string
		want    StoreType
		wantErr bool
	}{
		{in: "", want: FileStore},
		{in: "file", want: FileStore},
		{in: "mongo", want: MongoStore},
		{in: "redis", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStoreType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStoreType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")
	require.NoError(t, os.WriteFile(path, []byte("Bridge x\n"), 0o644))

	store, err := NewStore(FileStore, &FileConfig{Path: path, BackupDir: "backup"})
	require.NoError(t, err)
	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, cfg.BridgeConfig.Bridges)

	_, err = NewStore(FileStore, &FileConfig{Path: filepath.Join(t.TempDir(), "missing"), BackupDir: "backup"})
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	_, err = NewStore(FileStore, &MongoConfig{})
	assert.Error(t, err)

	_, err = NewStore(MongoStore, &FileConfig{})
	assert.Error(t, err)

	_, err = NewStore(StoreType(42), nil)
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}
