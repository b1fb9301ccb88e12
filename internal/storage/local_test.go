package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "site-guardian/internal/errors"
)

func newTestLocalBackend(t *testing.T) *LocalBackend {
	t.Helper()
	backend, err := NewLocalBackend(&LocalConfig{BasePath: t.TempDir(), Permissions: 0755})
	require.NoError(t, err)
	return backend
}

func TestNewLocalBackend(t *testing.T) {
	tests := []struct {
		name    string
		config  *LocalConfig
		wantErr bool
	}{
		{"valid config", &LocalConfig{BasePath: t.TempDir(), Permissions: 0755}, false},
		{"nil config", nil, true},
		{"empty base path", &LocalConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := NewLocalBackend(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.DirExists(t, backend.BasePath())
		})
	}
}

func TestLocalBackend_PutGetExists(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	exists, err := backend.Exists(ctx, "blobs/ab/abc.gz")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, backend.Put(ctx, "blobs/ab/abc.gz", []byte("payload")))

	exists, err = backend.Exists(ctx, "blobs/ab/abc.gz")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := backend.Get(ctx, "blobs/ab/abc.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, backend.Put(ctx, "blobs/ab/abc.gz", []byte("replaced")))
	data, err = backend.Get(ctx, "blobs/ab/abc.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	entries, err := os.ReadDir(filepath.Join(backend.BasePath(), "blobs", "ab"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files should be left behind")
}

func TestLocalBackend_GetMissing(t *testing.T) {
	backend := newTestLocalBackend(t)

	_, err := backend.Get(context.Background(), "restore-points/missing.json.gz")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLocalBackend_Delete(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	require.NoError(t, backend.Put(ctx, "a/b.json", []byte("{}")))
	require.NoError(t, backend.Delete(ctx, "a/b.json"))
	require.NoError(t, backend.Delete(ctx, "a/b.json"))

	exists, err := backend.Exists(ctx, "a/b.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalBackend_List(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	for _, key := range []string{
		"db-pro/dumps/rp1/wp_posts/chunk-000002.sql.gz",
		"db-pro/dumps/rp1/schema.sql.gz",
		"db-pro/dumps/rp1/wp_options/chunk-000001.sql.gz",
		"db-pro/dumps/rp10/schema.sql.gz",
		"restore-points/x.json.gz",
	} {
		require.NoError(t, backend.Put(ctx, key, []byte(key)))
	}

	objects, err := backend.List(ctx, "db-pro/dumps/rp1/")
	require.NoError(t, err)

	var keys []string
	for _, obj := range objects {
		keys = append(keys, obj.Key)
		assert.Equal(t, int64(len(obj.Key)), obj.Size)
	}
	assert.Equal(t, []string{
		"db-pro/dumps/rp1/schema.sql.gz",
		"db-pro/dumps/rp1/wp_options/chunk-000001.sql.gz",
		"db-pro/dumps/rp1/wp_posts/chunk-000002.sql.gz",
	}, keys)

	objects, err = backend.List(ctx, "nothing-here/")
	require.NoError(t, err)
	assert.Empty(t, objects)

	all, err := backend.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("blobs/ab/abcd.gz"))
	assert.Error(t, ValidateKey(""))
	assert.Error(t, ValidateKey("/etc/passwd"))
	assert.Error(t, ValidateKey("blobs/../../etc"))
	assert.Error(t, ValidateKey(`blobs\ab`))

	backend := newTestLocalBackend(t)
	err := backend.Put(context.Background(), "../escape", []byte("x"))
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}
