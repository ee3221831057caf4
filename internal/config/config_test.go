package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/castplan/internal/model"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestDefault_Constants(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8, cfg.Schedule.ProductionBufferDays)
	assert.Equal(t, 10, cfg.Schedule.DesignToProductionBufferDays)
	assert.Equal(t, 1, cfg.Schedule.InterDesignBufferDays)
	assert.Equal(t, 10, cfg.Schedule.CustomerResponseBufferDays)
	assert.InDelta(t, 0.65, cfg.Schedule.EfficiencyFactor, 1e-9)
	assert.Equal(t, 50, cfg.Reconcile.BatchSize)

	wd, ok := cfg.Schedule.ExtraWeekday()
	assert.True(t, ok)
	assert.Equal(t, time.Friday, wd)
}

func TestDecode_OverridesAndRejectsUnknown(t *testing.T) {
	cfg := Default()
	err := Decode([]byte(`
schedule:
  production_buffer_days: 5
lock:
  backend: none
  wait: 250ms
`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Schedule.ProductionBufferDays)
	assert.Equal(t, 10, cfg.Schedule.CustomerResponseBufferDays)
	assert.Equal(t, "none", cfg.Lock.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Lock.Wait)

	err = Decode([]byte("schedule:\n  buffer: 3\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, env(map[string]string{
		"CASTPLAN_DB_DRIVER":    "mysql",
		"CASTPLAN_DB_DSN":       "user:pw@tcp(db:3306)/plan",
		"CASTPLAN_LOCK_BACKEND": "redis",
		"CASTPLAN_REDIS_ADDR":   "redis:6379",
		"CASTPLAN_BATCH_SIZE":   "10",
		"CASTPLAN_LOG_LEVEL":    " debug ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, "user:pw@tcp(db:3306)/plan", cfg.Store.DSN)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, 10, cfg.Reconcile.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, Validate(cfg))
}

func TestApplyEnv_BadBatchSize(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, env(map[string]string{"CASTPLAN_BATCH_SIZE": "lots"}))
	assert.ErrorContains(t, err, "CASTPLAN_BATCH_SIZE")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Reconcile.BatchSize = 200
	cfg.Schedule.EfficiencyFactor = 0
	cfg.Roster.Weld.Department = "Las-hoek"
	cfg.Lock.Backend = "redis"

	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "reconcile.batch_size (lte)")
	assert.Contains(t, msg, "schedule.efficiency_factor (gt)")
	assert.Contains(t, msg, "roster.weld.department (excludes)")
	assert.Contains(t, msg, "lock.redis_addr (required_if)")
}

func TestRoster(t *testing.T) {
	r := Default().Roster
	assert.Equal(t, Binding{Department: "Beton", Activity: "Beton"}, r.For(model.PhaseCast))
	assert.Equal(t, []string{"Bekisting", "Beton", "Lashoek", "Ontwerp", "Rest"}, r.Departments())
	assert.Equal(t, []string{"Beton", "Create", "Las", "Ontwerp 1", "Ontwerp 2", "Rest", "Reuse"}, r.Activities())
	assert.Equal(t, Binding{}, r.For(model.Phase("Paint")))
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "castplan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  dsn: "+filepath.Join(dir, "plan.db")+"\n"), 0o644))

	chdir(t, dir)
	t.Setenv("CASTPLAN_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "plan.db"), cfg.Store.DSN)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CASTPLAN_BATCH_SIZE=25\n"), 0o644))
	chdir(t, dir)
	t.Setenv("CASTPLAN_BATCH_SIZE", "")
	os.Unsetenv("CASTPLAN_BATCH_SIZE")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Reconcile.BatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
