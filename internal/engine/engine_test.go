package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-guardian/internal/config"
	"site-guardian/internal/database"
	"site-guardian/internal/database/dbtest"
	"site-guardian/internal/dbjob"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/license"
	"site-guardian/internal/logging"
	"site-guardian/internal/operation"
	"site-guardian/internal/restorepoint"
	"site-guardian/internal/scheduler"
	"site-guardian/internal/storage"
)

type recordingScheduler struct {
	mu    sync.Mutex
	tasks []scheduler.Task
}

func (r *recordingScheduler) ScheduleOnce(ctx context.Context, task scheduler.Task, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

type testEnv struct {
	settings *config.Settings
	clock    *testclock.Clock
	db       *dbtest.DB
	sched    *recordingScheduler
	objects  *storage.ObjectStore
	gate     license.Gate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := config.Default()
	s.SiteRoot = t.TempDir()
	s.License.Licensed = true
	s.RestorePoints.IncludeDB = true
	s.RestorePoints.Scope = restorepoint.ScopeOptions{PluginsThemes: true, WPConfig: true}
	s.DB.TablesMode = database.TablesAllPrefix

	backend, err := storage.NewLocalBackend(&storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	codec, err := storage.NewCodec(storage.CompressionConfig{Algorithm: storage.CompressionGzip})
	require.NoError(t, err)

	env := &testEnv{
		settings: s,
		clock:    testclock.NewClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		db:       dbtest.New(),
		sched:    &recordingScheduler{},
		objects:  storage.NewObjectStore(backend, codec, nil),
	}
	env.db.AddTable("wp_options", 30)
	env.db.AddTable("wp_posts", 12)

	env.write(t, "wp-content/plugins/shop/shop.php", "<?php // shop 1.0")
	env.write(t, "wp-content/themes/twenty/style.css", "body{}")
	env.write(t, "wp-config.php", "<?php define('DB_NAME', 'wp');")
	return env
}

func (env *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(env.settings.SiteRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func (env *testEnv) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(env.settings.SiteRoot, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func (env *testEnv) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Options{
		Settings:  env.settings,
		Objects:   env.objects,
		DB:        env.db,
		Gate:      env.gate,
		Scheduler: env.sched,
		Clock:     env.clock,
		Logger:    logging.NewNopLogger(),
	})
	require.NoError(t, err)
	return e
}

func TestNew_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := New(Options{Objects: env.objects})
	assert.Error(t, err)
	_, err = New(Options{Settings: env.settings})
	assert.Error(t, err)

	env.settings.DB.Engine = "turbo"
	_, err = New(Options{Settings: env.settings, Objects: env.objects})
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
}

func TestUnlicensed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.settings.License.Licensed = false
	e := env.engine(t)

	_, err := e.CreateRestorePoint(ctx, CreateOptions{})
	assert.True(t, apperrors.IsUnlicensed(err))
	_, err = e.StartExport(ctx, "")
	assert.True(t, apperrors.IsUnlicensed(err))
	_, err = e.StartRestoreJob(ctx, dbjob.RestoreMeta{RestorePointID: "rp"})
	assert.True(t, apperrors.IsUnlicensed(err))
	_, err = e.RestoreAllChunks(ctx, dbjob.RestoreMeta{RestorePointID: "rp"})
	assert.True(t, apperrors.IsUnlicensed(err))

	env.gate = license.Func(func(context.Context) bool { return true })
	_, err = env.engine(t).CreateRestorePoint(ctx, CreateOptions{SkipDB: true})
	assert.NoError(t, err)
}

func TestCreateRestorePoint_Basic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.engine(t)

	m, err := e.CreateRestorePoint(ctx, CreateOptions{Label: "before upgrade"})
	require.NoError(t, err)
	assert.Equal(t, "before upgrade", m.Label)
	assert.Regexp(t, `^20240501-090000-rp-[0-9a-f]{6}$`, m.ID)
	assert.Equal(t, 3, m.Counts.Files)
	assert.Equal(t, 3, m.Counts.BlobsNew)

	require.NotNil(t, m.DB)
	assert.Equal(t, restorepoint.EngineBasic, m.DB.Engine)
	assert.True(t, m.DB.OK)
	assert.Equal(t, "db/"+m.ID+".sql.gz", m.DB.Key)
	assert.Equal(t, []string{"wp_options", "wp_posts"}, m.DB.Tables)
	assert.Equal(t, 42, m.DB.Rows)

	result, err := e.RestoreDatabase(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, restorepoint.EngineBasic, result.Engine)
	assert.True(t, result.OK)
	assert.Equal(t, 42, env.db.ExecutedMatching("INSERT INTO"))
	assert.Equal(t, 2, env.db.ExecutedMatching("DROP TABLE IF EXISTS"))

	loaded, err := e.GetRestorePoint(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Files, loaded.Files)
}

func TestCreateRestorePoint_SkipDBAndCustomPaths(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.engine(t)

	m, err := e.CreateRestorePoint(ctx, CreateOptions{Paths: []string{"wp-config.php"}, SkipDB: true})
	require.NoError(t, err)
	assert.Nil(t, m.DB)
	assert.Equal(t, 1, m.Counts.Files)
	assert.Equal(t, "Manual restore point", m.Label)

	_, err = e.RestoreDatabase(ctx, m.ID)
	assert.True(t, apperrors.IsMissingDump(err))

	env.settings.RestorePoints.Scope = restorepoint.ScopeOptions{}
	_, err = env.engine(t).CreateRestorePoint(ctx, CreateOptions{})
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}

func TestCreateRestorePoint_DatabaseFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.settings.DB.TablesMode = "bogus"
	e := env.engine(t)

	m, err := e.CreateRestorePoint(ctx, CreateOptions{})
	require.NoError(t, err)
	require.NotNil(t, m.DB)
	assert.False(t, m.DB.OK)
	assert.NotEmpty(t, m.DB.Error)
	assert.Equal(t, 3, m.Counts.Files)
}

func TestCreateRestorePoint_Prunes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.settings.RestorePoints.KeepLast = 2
	e := env.engine(t)

	var ids []string
	for i := 0; i < 3; i++ {
		m, err := e.CreateRestorePoint(ctx, CreateOptions{SkipDB: true})
		require.NoError(t, err)
		ids = append(ids, m.ID)
		env.clock.Advance(time.Minute)
	}

	list, err := e.ListRestorePoints(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	_, err = e.GetRestorePoint(ctx, ids[0])
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCreateRestorePoint_Pro(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.settings.DB.Engine = config.EnginePro
	env.settings.DB.ChunkRows = 10
	e := env.engine(t)

	m, err := e.CreateRestorePoint(ctx, CreateOptions{})
	require.NoError(t, err)
	require.NotNil(t, m.DB)
	assert.Equal(t, restorepoint.EnginePro, m.DB.Engine)
	assert.True(t, m.DB.OK)
	assert.Equal(t, string(dbjob.StatusDone), m.DB.Status)
	assert.Equal(t, 100, m.DB.Progress)
	assert.Equal(t, 42, m.DB.Rows)
	assert.Equal(t, 3+2, m.DB.Chunks)
	assert.Equal(t, "db-pro/dumps/"+m.ID+"/", m.DB.DumpRoot)

	jobs, err := e.ListExportJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, m.DB.JobID, jobs[0].ID)

	result, err := e.RestoreDatabase(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, restorepoint.EnginePro, result.Engine)
	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, string(dbjob.StatusDone), result.Status)
	assert.Equal(t, 42, env.db.ExecutedMatching("INSERT INTO"))

	restores, err := e.ListRestoreJobs(ctx)
	require.NoError(t, err)
	require.Len(t, restores, 1)
	assert.Equal(t, result.JobID, restores[0].ID)
	assert.Empty(t, env.sched.tasks)
}

func TestProExport_ContinuedByScheduler(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.settings.DB.Engine = config.EnginePro
	env.settings.DB.ChunkRows = 10
	env.settings.DB.MaxSeconds = 10
	env.db.OnQuery = func(string) { env.clock.Advance(6 * time.Second) }
	e := env.engine(t)

	job, err := e.StartExport(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, dbjob.StatusPending, job.Status)

	for i := 0; i < 10 && job.Status == dbjob.StatusPending; i++ {
		require.NotEmpty(t, env.sched.tasks)
		task := env.sched.tasks[len(env.sched.tasks)-1]
		assert.Equal(t, scheduler.KindExport, task.Kind)
		require.NoError(t, e.Run(ctx, task))
		job, err = e.GetExportJob(ctx, job.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, dbjob.StatusDone, job.Status)
	assert.Equal(t, 42, job.Counts.Rows)

	env.db.OnQuery = nil
	restore, err := e.RestoreAllChunks(ctx, dbjob.RestoreMeta{ExportJobID: job.ID})
	require.NoError(t, err)
	assert.Equal(t, dbjob.StatusDone, restore.Status)
	assert.Equal(t, 5, restore.Counts.Chunks)

	got, err := e.GetRestoreJob(ctx, restore.ID)
	require.NoError(t, err)
	assert.Equal(t, restore.Counts, got.Counts)
}

func TestRun_DropsUnknownTasks(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t).engine(t)

	assert.NoError(t, e.Run(ctx, scheduler.Task{JobID: "20240101-000000-dbpro-000000", Kind: scheduler.KindExport}))
	assert.NoError(t, e.Run(ctx, scheduler.Task{JobID: "20240101-000000-dbpro-restore-000000", Kind: scheduler.KindRestore}))
	assert.NoError(t, e.Run(ctx, scheduler.Task{JobID: "x", Kind: "vacuum"}))
}

func TestRequiresDatabase(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e, err := New(Options{Settings: env.settings, Objects: env.objects, Clock: env.clock, Logger: logging.NewNopLogger()})
	require.NoError(t, err)

	_, err = e.StartExport(ctx, "")
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
	_, err = e.ContinueRestore(ctx, "job")
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))

	m, err := e.CreateRestorePoint(ctx, CreateOptions{})
	require.NoError(t, err)
	require.NotNil(t, m.DB)
	assert.False(t, m.DB.OK)
}

func TestOperationRollback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.settings.RestorePoints.IncludeDB = false
	e := env.engine(t)

	rec, err := e.BeginOperation(ctx, "plugin_upgrade")
	require.NoError(t, err)
	assert.Equal(t, operation.StatusPending, rec.Status)
	require.NotEmpty(t, rec.RestorePointBefore)

	env.write(t, "wp-content/plugins/shop/shop.php", "<?php // shop 2.0 fatal")
	env.write(t, "wp-content/plugins/shop/new.php", "<?php // new in 2.0")

	_, err = e.ArmOperation(ctx)
	require.NoError(t, err)

	armed, err := e.CheckOnStartup(ctx)
	require.NoError(t, err)
	require.NotNil(t, armed)
	assert.Equal(t, rec.ID, armed.ID)

	result, err := e.RollbackLastOperation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Restored)
	assert.Equal(t, "<?php // shop 1.0", env.read(t, "wp-content/plugins/shop/shop.php"))
	assert.NoFileExists(t, filepath.Join(env.settings.SiteRoot, "wp-content", "plugins", "shop", "new.php"))

	last, err := e.LastOperation(ctx)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusRolledBack, last.Status)
}

func TestOperationWindowExpires(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.settings.RestorePoints.IncludeDB = false
	env.settings.Operation.Window = time.Minute
	e := env.engine(t)

	_, err := e.BeginOperation(ctx, "theme_install")
	require.NoError(t, err)
	_, err = e.ArmOperation(ctx)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Minute)
	rec, err := e.CheckOnStartup(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	last, err := e.LastOperation(ctx)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusCompleted, last.Status)

	_, err = e.FailOperation(ctx, assert.AnError)
	require.NoError(t, err)
	done, err := e.CompleteOperation(ctx)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusCompleted, done.Status)
}
