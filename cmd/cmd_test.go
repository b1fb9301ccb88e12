package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/restorepoint"
)

type testSite struct {
	root   string
	config string
}

func newTestSite(t *testing.T, licensed bool) *testSite {
	t.Helper()
	dir := t.TempDir()
	site := &testSite{root: filepath.Join(dir, "site"), config: filepath.Join(dir, "guardian.yaml")}

	for rel, content := range map[string]string{
		"wp-config.php":                      "<?php define('DB_NAME', 'wp');",
		"wp-content/plugins/shop/shop.php":   "<?php // shop 1.0",
		"wp-content/themes/twenty/style.css": "body{}",
		"wp-content/cache/page.html":         "cached",
	} {
		full := filepath.Join(site.root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}

	yaml := fmt.Sprintf(`site_root: %s
storage:
  provider: LOCAL
  local:
    base_path: %s
restore_points:
  include_db: false
scheduler:
  state_path: %s
license:
  licensed: %t
logging:
  level: quiet
`, site.root, filepath.Join(dir, "store"), filepath.Join(dir, "state", "scheduler.db"), licensed)
	require.NoError(t, os.WriteFile(site.config, []byte(yaml), 0600))
	return site
}

func resetFlags() {
	cfgFile = ""
	verbose, quiet, noColor, autoApprove = false, false, true, false
	theme, outputFormat = "dark", "text"
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "2024-05-01", "abc123", "")
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "site-guardian version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestInitConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".site-guardian.yaml")
	out, err := executeCommand(t, "init-config", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to")
	assert.FileExists(t, path)

	_, err = executeCommand(t, "init-config", "--path", path)
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
}

func TestRestorePointCommands(t *testing.T) {
	site := newTestSite(t, true)

	out, err := executeCommand(t, "--config", site.config, "restore-point", "create", "--label", "nightly")
	require.NoError(t, err)
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "nightly")

	out, err = executeCommand(t, "--config", site.config, "--format", "json", "restore-point", "list")
	require.NoError(t, err)
	var list []*restorepoint.Manifest
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Counts.Files)
	id := list[0].ID

	plugin := filepath.Join(site.root, "wp-content", "plugins", "shop", "shop.php")
	require.NoError(t, os.WriteFile(plugin, []byte("<?php // broken"), 0644))

	_, err = executeCommand(t, "--config", site.config, "restore-point", "restore", id, "wp-content/plugins/shop/shop.php")
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err), "non-interactive restore needs --yes")

	out, err = executeCommand(t, "--config", site.config, "--yes", "restore-point", "restore", id, "wp-content/plugins/shop/shop.php")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 1 file(s)")
	data, err := os.ReadFile(plugin)
	require.NoError(t, err)
	assert.Equal(t, "<?php // shop 1.0", string(data))

	_, err = executeCommand(t, "--config", site.config, "restore-point", "show", "20200101-000000-rp-000000")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRestorePointCreate_Unlicensed(t *testing.T) {
	site := newTestSite(t, false)
	_, err := executeCommand(t, "--config", site.config, "restore-point", "create")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnlicensed(err))
	assert.Equal(t, 3, exitCode(err))
}

func TestOperationCommands(t *testing.T) {
	site := newTestSite(t, true)

	out, err := executeCommand(t, "--config", site.config, "operation", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No operation recorded")

	_, err = executeCommand(t, "--config", site.config, "operation", "begin", "plugin_upgrade")
	require.NoError(t, err)
	out, err = executeCommand(t, "--config", site.config, "operation", "arm")
	require.NoError(t, err)
	assert.Contains(t, out, "armed")

	plugin := filepath.Join(site.root, "wp-content", "plugins", "shop", "shop.php")
	require.NoError(t, os.WriteFile(plugin, []byte("<?php // fatal"), 0644))

	out, err = executeCommand(t, "--config", site.config, "--yes", "operation", "rollback")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 3 file(s)")
	data, err := os.ReadFile(plugin)
	require.NoError(t, err)
	assert.Equal(t, "<?php // shop 1.0", string(data))

	out, err = executeCommand(t, "--config", site.config, "--format", "json", "operation", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "rolled_back"`)
}

func TestDBJobsWithoutJobs(t *testing.T) {
	site := newTestSite(t, true)
	out, err := executeCommand(t, "--config", site.config, "db", "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs")

	_, err = executeCommand(t, "--config", site.config, "db", "job", "20240101-000000-dbpro-abcdef")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(apperrors.NewValidationError("bad", nil)))
	assert.Equal(t, 2, exitCode(apperrors.NewConfigurationError("bad", nil)))
	assert.Equal(t, 1, exitCode(apperrors.NewIOFailureError("disk", nil)))
	assert.Equal(t, 1, exitCode(fmt.Errorf("plain")))
}
