package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.InDelta(t, 100, cfg.Spoofing.SpeedThresholdMPS, 0.001)
	assert.InDelta(t, 1000, cfg.Spoofing.AccuracyThresholdMeters, 0.001)
	assert.Equal(t, 10*time.Second, cfg.Spoofing.JumpWindow)
	assert.InDelta(t, 6.944, cfg.Trajectory.TransitSpeedMPS, 0.001)
	assert.Equal(t, 10, cfg.Trajectory.Window)
	assert.Equal(t, 2*time.Hour, cfg.Trajectory.IdleTimeout)
	assert.InDelta(t, 100, cfg.Discovery.CorridorWidthMeters, 0.001)
	assert.ElementsMatch(t, []string{"infrastructure_area", "valley", "mountain_range", "coastal_area"},
		cfg.Discovery.LargeScaleCategories)
	assert.InDelta(t, 200, cfg.HomeWork.RadiusMeters, 0.001)
	assert.Equal(t, 5, cfg.HomeWork.MinVisits)
	assert.Equal(t, 720*time.Hour, cfg.HomeWork.Window)
	assert.Equal(t, 2*time.Hour, cfg.Visits.IdleTimeout)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
server:
  port: 9090
spoofing:
  speed_threshold_mps: 80
  jump_window: 15s
discovery:
  corridor_width_meters: 50
home_work:
  time_zone: Europe/Moscow
  min_visits: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "geotrust.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 80, cfg.Spoofing.SpeedThresholdMPS, 0.001)
	assert.Equal(t, 15*time.Second, cfg.Spoofing.JumpWindow)
	assert.InDelta(t, 50, cfg.Discovery.CorridorWidthMeters, 0.001)
	assert.Equal(t, 8, cfg.HomeWork.MinVisits)
	assert.Equal(t, "Europe/Moscow", cfg.HomeWork.Location().String())
	// untouched keys keep defaults
	assert.InDelta(t, 1000, cfg.Spoofing.AccuracyThresholdMeters, 0.001)
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GEOTRUST_REDIS_ADDR", "localhost:6379")
	t.Setenv("GEOTRUST_HOME_WORK_RADIUS_METERS", "350")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.InDelta(t, 350, cfg.HomeWork.RadiusMeters, 0.001)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Discovery.ExploredPercent = 80
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.HomeWork.TimeZone = "Mars/Olympus"
	assert.Error(t, bad.Validate())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}
