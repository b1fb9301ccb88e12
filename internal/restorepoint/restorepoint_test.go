package restorepoint

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-guardian/internal/blobstore"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/storage"
)

type fixture struct {
	siteRoot  string
	backend   *storage.LocalBackend
	blobs     *blobstore.Store
	manifests *Store
	scanner   *Scanner
	restorer  *Restorer
}

func newFixture(t *testing.T, maxBlobBytes int64) *fixture {
	t.Helper()
	backend, err := storage.NewLocalBackend(&storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	codec, err := storage.NewCodec(storage.CompressionConfig{Algorithm: storage.CompressionGzip})
	require.NoError(t, err)
	objects := storage.NewObjectStore(backend, codec, nil)
	logger := logging.NewNopLogger()

	f := &fixture{siteRoot: t.TempDir(), backend: backend}
	f.blobs = blobstore.New(objects, logger)
	f.manifests = NewStore(objects, logger)
	f.scanner = NewScanner(f.blobs, maxBlobBytes, logger)
	f.restorer = NewRestorer(f.manifests, f.blobs, f.siteRoot, logger)
	return f
}

func (f *fixture) write(t *testing.T, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(f.siteRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, data, 0644))
}

func (f *fixture) snapshot(t *testing.T, id string, createdAt time.Time, scope Scope) *Manifest {
	t.Helper()
	scan, err := f.scanner.Scan(context.Background(), f.siteRoot, scope)
	require.NoError(t, err)
	m := NewManifest(id, "test", createdAt, scope, scan)
	require.NoError(t, f.manifests.Save(context.Background(), m))
	return m
}

func countBlobs(t *testing.T, backend *storage.LocalBackend) int {
	t.Helper()
	objects, err := backend.List(context.Background(), "blobs/")
	require.NoError(t, err)
	return len(objects)
}

func TestRestorePointRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1024*1024)

	ten := []byte("0123456789")
	f.write(t, "site/a.txt", ten)
	f.write(t, "site/b.txt", ten)
	f.write(t, "site/c.bin", bytes.Repeat([]byte{0xAB}, 5*1024*1024))

	m := f.snapshot(t, "20240101-000000-rp-aaaaaa", time.Now(), Scope{Paths: []string{"site"}})
	assert.Equal(t, Counts{Files: 3, BlobsNew: 1, SkippedLarge: 1}, m.Counts)
	assert.Equal(t, m.Files["site/a.txt"].Hash, m.Files["site/b.txt"].Hash)
	assert.True(t, m.Files["site/c.bin"].Skipped)
	assert.Empty(t, m.Files["site/c.bin"].Hash)
	assert.Equal(t, 1, countBlobs(t, f.backend))

	dest := t.TempDir()
	result, err := f.restorer.RestoreAll(ctx, m.ID, dest)
	require.NoError(t, err)
	assert.Equal(t, &RestoreResult{Restored: 2, Skipped: 1}, result)

	got, err := os.ReadFile(filepath.Join(dest, "site", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, ten, got)
	assert.NoFileExists(t, filepath.Join(dest, "site", "c.bin"))

	info, err := os.Stat(filepath.Join(dest, "site", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, m.Files["site/a.txt"].MTime, info.ModTime().Unix())
}

func TestDedupAcrossRestorePoints(t *testing.T) {
	f := newFixture(t, 0)
	f.write(t, "wp-content/plugins/hello/hello.php", []byte("<?php // hello"))

	scope := BuildScope(ScopeOptions{PluginsThemes: true})
	first := f.snapshot(t, "rp-1", time.Now(), scope)
	f.write(t, "wp-content/themes/twenty/style.css", []byte("<?php // hello"))
	second := f.snapshot(t, "rp-2", time.Now(), scope)

	assert.Equal(t, 1, first.Counts.BlobsNew)
	assert.Equal(t, 0, second.Counts.BlobsNew)
	assert.Equal(t, 2, second.Counts.Files)
	assert.Equal(t,
		first.Files["wp-content/plugins/hello/hello.php"].Hash,
		second.Files["wp-content/themes/twenty/style.css"].Hash)
	assert.Equal(t, 1, countBlobs(t, f.backend))
}

func TestScan_ExclusionsAndSymlinks(t *testing.T) {
	f := newFixture(t, 0)
	f.write(t, "wp-content/plugins/p/p.php", []byte("p"))
	f.write(t, "wp-content/cache/page.html", []byte("cached"))
	f.write(t, "wp-content/uploads/2024/img.jpg", []byte("img"))
	f.write(t, "wp-config.php", []byte("config"))
	require.NoError(t, os.Symlink(
		filepath.Join(f.siteRoot, "wp-config.php"),
		filepath.Join(f.siteRoot, "wp-content", "plugins", "link.php")))

	scope := Scope{
		Paths:   []string{"wp-content", "wp-config.php", "missing-dir"},
		Exclude: BuildScope(ScopeOptions{}).Exclude,
	}
	scan, err := f.scanner.Scan(context.Background(), f.siteRoot, scope)
	require.NoError(t, err)

	var paths []string
	for p := range scan.Files {
		paths = append(paths, p)
	}
	assert.ElementsMatch(t, []string{"wp-content/plugins/p/p.php", "wp-config.php"}, paths)
	assert.Equal(t, 2, scan.Counts.Files)
}

func TestScan_RejectsTraversalScope(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.scanner.Scan(context.Background(), f.siteRoot, Scope{Paths: []string{"../etc"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidPath(err))
}

func TestRestore_DirectoryWithDeleteFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.write(t, "wp-content/plugins/shop/shop.php", []byte("v1"))
	f.write(t, "wp-content/plugins/shop/lib/util.php", []byte("util"))
	f.write(t, "wp-content/plugins/other/other.php", []byte("other"))

	m := f.snapshot(t, "rp-dir", time.Now(), Scope{Paths: []string{"wp-content/plugins"}})

	f.write(t, "wp-content/plugins/shop/shop.php", []byte("v2"))
	f.write(t, "wp-content/plugins/shop/added-later.php", []byte("new"))

	result, err := f.restorer.Restore(ctx, m.ID, "wp-content/plugins/shop/", true)
	require.NoError(t, err)
	assert.Equal(t, &RestoreResult{Restored: 2}, result)

	got, err := os.ReadFile(filepath.Join(f.siteRoot, "wp-content", "plugins", "shop", "shop.php"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
	assert.NoFileExists(t, filepath.Join(f.siteRoot, "wp-content", "plugins", "shop", "added-later.php"))
	assert.FileExists(t, filepath.Join(f.siteRoot, "wp-content", "plugins", "other", "other.php"))
}

func TestRestoreScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1024*1024)
	f.write(t, "wp-content/plugins/akismet/akismet.php", []byte("<?php // 5.0"))
	f.write(t, "wp-config.php", []byte("<?php define('DB_NAME', 'wp');"))

	scope := Scope{Paths: []string{"wp-content/plugins", "wp-content/themes", "wp-config.php"}}
	f.snapshot(t, "20240101-000000-rp-scope1", time.Now(), scope)

	f.write(t, "wp-content/plugins/akismet/akismet.php", []byte("<?php // 6.0"))
	f.write(t, "wp-content/plugins/evil/evil.php", []byte("<?php // added"))
	f.write(t, "wp-config.php", []byte("<?php // broken"))

	result, err := f.restorer.RestoreScope(ctx, "20240101-000000-rp-scope1")
	require.NoError(t, err)
	assert.Equal(t, &RestoreResult{Restored: 2}, result)

	data, err := os.ReadFile(filepath.Join(f.siteRoot, "wp-content", "plugins", "akismet", "akismet.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php // 5.0", string(data))
	assert.NoDirExists(t, filepath.Join(f.siteRoot, "wp-content", "plugins", "evil"))

	data, err = os.ReadFile(filepath.Join(f.siteRoot, "wp-config.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php define('DB_NAME', 'wp');", string(data))

	_, err = f.restorer.RestoreScope(ctx, "20240101-000000-rp-none00")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRestore_SingleFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.write(t, "wp-config.php", []byte("original"))
	m := f.snapshot(t, "rp-file", time.Now(), Scope{Paths: []string{"wp-config.php"}})

	f.write(t, "wp-config.php", []byte("broken"))
	result, err := f.restorer.Restore(ctx, m.ID, `\wp-config.php`, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)

	got, err := os.ReadFile(filepath.Join(f.siteRoot, "wp-config.php"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	_, err = f.restorer.Restore(ctx, m.ID, "wp-config", false)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRestore_MissingBlobIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.write(t, "dir/keep.txt", []byte("keep"))
	f.write(t, "dir/lost.txt", []byte("lost"))
	m := f.snapshot(t, "rp-lost", time.Now(), Scope{Paths: []string{"dir"}})

	lost := m.Files["dir/lost.txt"].Hash
	require.NoError(t, f.backend.Delete(ctx, blobstore.Key(lost, ".gz")))

	result, err := f.restorer.RestoreAll(ctx, m.ID, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &RestoreResult{Restored: 1, Skipped: 1}, result)
}

func TestRestore_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	tests := []struct {
		name   string
		id     string
		target string
		check  func(error) bool
	}{
		{"parent traversal", "any", "wp-content/../../etc/passwd", apperrors.IsInvalidPath},
		{"leading traversal", "any", "../x", apperrors.IsInvalidPath},
		{"empty target", "any", "", apperrors.IsInvalidPath},
		{"only slashes", "any", "///", apperrors.IsInvalidPath},
		{"unknown restore point", "missing", "wp-config.php", apperrors.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.restorer.Restore(ctx, tt.id, tt.target, true)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestStore_ListAndPrune(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"rp-c", "rp-a", "rp-d", "rp-b"} {
		m := NewManifest(id, id, base.Add(time.Duration(i)*time.Hour), Scope{}, &ScanResult{Files: map[string]Entry{}})
		require.NoError(t, f.manifests.Save(ctx, m))
	}

	err := f.manifests.Save(ctx, NewManifest("rp-a", "dup", base, Scope{}, &ScanResult{}))
	assert.Error(t, err, "manifests are written once")

	list, err := f.manifests.List(ctx, 0)
	require.NoError(t, err)
	var ids []string
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"rp-b", "rp-d", "rp-a", "rp-c"}, ids)

	limited, err := f.manifests.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	deleted, err := f.manifests.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"rp-a", "rp-c"}, deleted)

	remaining, err := f.manifests.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rp-b", "rp-d"}, remaining)

	_, err = f.manifests.Load(ctx, "rp-c")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestBuildScope(t *testing.T) {
	scope := BuildScope(ScopeOptions{PluginsThemes: true, WPConfig: true, Core: true})
	assert.Equal(t, []string{
		"wp-content/plugins", "wp-content/themes", "wp-config.php",
		"wp-admin", "wp-includes", "index.php", "wp-load.php", "wp-settings.php",
	}, scope.Paths)
	assert.Equal(t, []string{"wp-content/cache/", "wp-content/upgrade/", "wp-content/uploads/"}, scope.Exclude)

	withUploads := BuildScope(ScopeOptions{Uploads: true})
	assert.Equal(t, []string{"wp-content/uploads"}, withUploads.Paths)
	assert.NotContains(t, withUploads.Exclude, "wp-content/uploads/")

	assert.True(t, scope.Excluded("wp-content/cache", true))
	assert.True(t, scope.Excluded("wp-content/cache/x.html", false))
	assert.False(t, scope.Excluded("wp-content/cachebuster.php", false))
}

func TestNewID(t *testing.T) {
	id := NewID(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Regexp(t, `^20240102-030405-rp-[0-9a-f]{6}$`, id)
}

func TestScanFile_VanishedFileIsMissing(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.write(t, "wp-content/plugins/shop/gone.php", []byte("<?php // removed mid-scan"))
	f.write(t, "wp-content/plugins/shop/kept.php", []byte("<?php // kept"))

	// both files were listed; one disappears before it is read
	gone := filepath.Join(f.siteRoot, "wp-content", "plugins", "shop", "gone.php")
	require.NoError(t, os.Remove(gone))

	result := &ScanResult{Files: make(map[string]Entry)}
	ctx := context.Background()
	require.NoError(t, f.scanner.scanFile(ctx, gone, "wp-content/plugins/shop/gone.php", result))
	require.NoError(t, f.scanner.scanFile(ctx, filepath.Join(f.siteRoot, "wp-content", "plugins", "shop", "kept.php"), "wp-content/plugins/shop/kept.php", result))

	assert.Equal(t, 1, result.Counts.Missing)
	assert.Equal(t, 1, result.Counts.Files)
	assert.NotContains(t, result.Files, "wp-content/plugins/shop/gone.php")
	assert.Contains(t, result.Files, "wp-content/plugins/shop/kept.php")

	m := NewManifest("rp-missing", "missing", time.Now(), Scope{Paths: []string{"wp-content/plugins"}}, result)
	assert.Equal(t, 1, m.Counts.Missing)
	assert.Len(t, m.Files, 1)
}
