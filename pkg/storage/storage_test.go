package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programshouse/medicaldash/pkg/storage"
)

func backends(t *testing.T) map[string]storage.Storage {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := storage.OpenSQLite(filepath.Join(dir, "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	file, err := storage.OpenFile(filepath.Join(dir, "nested", "session.cbor"))
	require.NoError(t, err)

	return map[string]storage.Storage{
		"memory": storage.NewMemory(),
		"sqlite": sqlite,
		"file":   file,
	}
}

func TestStorageSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, map[string]string{
				"access_token": "tok",
				"principal":    `{"id":1}`,
				"expiry_time":  "1700000000000",
			}))

			got, err := s.Load(ctx, "access_token", "principal", "expiry_time", "missing")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{
				"access_token": "tok",
				"principal":    `{"id":1}`,
				"expiry_time":  "1700000000000",
			}, got)

			require.NoError(t, s.Save(ctx, map[string]string{"access_token": "tok2"}))
			got, err = s.Load(ctx, "access_token")
			require.NoError(t, err)
			assert.Equal(t, "tok2", got["access_token"])

			require.NoError(t, s.Delete(ctx, "access_token", "principal", "expiry_time", "missing"))
			got, err = s.Load(ctx, "access_token", "principal", "expiry_time")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStorageLoadNoKeys(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	first, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, map[string]string{"access_token": "keep"}))
	require.NoError(t, first.Close())

	second, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()
	got, err := second.Load(ctx, "access_token")
	require.NoError(t, err)
	assert.Equal(t, "keep", got["access_token"])
}

func TestFileCorruptIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o600))

	f, err := storage.OpenFile(path)
	require.NoError(t, err)
	_, err = f.Load(context.Background(), "access_token")
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := storage.Open("redis", "x")
	assert.Error(t, err)

	s, err := storage.Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &storage.Memory{}, s)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, storage.NewMemory().Save(ctx, map[string]string{"a": "b"}), context.Canceled)
}
