package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Regions    RegionsConfig    `yaml:"regions" mapstructure:"regions"`
	Spoofing   SpoofingConfig   `yaml:"spoofing" mapstructure:"spoofing"`
	Trajectory TrajectoryConfig `yaml:"trajectory" mapstructure:"trajectory"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Visits     VisitsConfig     `yaml:"visits" mapstructure:"visits"`
	HomeWork   HomeWorkConfig   `yaml:"home_work" mapstructure:"home_work"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Port int    `yaml:"port" mapstructure:"port"`
	Mode string `yaml:"mode" mapstructure:"mode"` // gin mode: debug, release, test
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RedisConfig configures the optional last-reading cache. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// RegionsConfig points at the region catalog.
type RegionsConfig struct {
	// GeoJSON FeatureCollection imported on startup when set.
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// SpoofingConfig holds the plausibility scoring thresholds.
type SpoofingConfig struct {
	SpeedThresholdMPS       float64       `yaml:"speed_threshold_mps" mapstructure:"speed_threshold_mps"`
	AccuracyThresholdMeters float64       `yaml:"accuracy_threshold_meters" mapstructure:"accuracy_threshold_meters"`
	JumpWindow              time.Duration `yaml:"jump_window" mapstructure:"jump_window"`
	JumpSlackMeters         float64       `yaml:"jump_slack_meters" mapstructure:"jump_slack_meters"`
	Threshold               float64       `yaml:"threshold" mapstructure:"threshold"`
}

// TrajectoryConfig configures session buffers and movement mode.
type TrajectoryConfig struct {
	TransitSpeedMPS float64       `yaml:"transit_speed_mps" mapstructure:"transit_speed_mps"`
	Window          int           `yaml:"window" mapstructure:"window"`
	MaxPoints       int           `yaml:"max_points" mapstructure:"max_points"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"` // session buffer idle eviction
}

// DiscoveryConfig configures area discovery progress.
type DiscoveryConfig struct {
	CorridorWidthMeters   float64  `yaml:"corridor_width_meters" mapstructure:"corridor_width_meters"`
	LargeAreaSquareMeters float64  `yaml:"large_area_square_meters" mapstructure:"large_area_square_meters"`
	LargeScaleCategories  []string `yaml:"large_scale_categories" mapstructure:"large_scale_categories"`
	MinTimeInZoneSeconds  int64    `yaml:"min_time_in_zone_seconds" mapstructure:"min_time_in_zone_seconds"`
	MinProgressPercent    float64  `yaml:"min_progress_percent" mapstructure:"min_progress_percent"`
	FallbackStepSeconds   float64  `yaml:"fallback_step_seconds" mapstructure:"fallback_step_seconds"`
	FallbackStepPercent   float64  `yaml:"fallback_step_percent" mapstructure:"fallback_step_percent"`
	ExploredPercent       float64  `yaml:"explored_percent" mapstructure:"explored_percent"`
	CompletedPercent      float64  `yaml:"completed_percent" mapstructure:"completed_percent"`
}

// VisitsConfig configures visit timeouts.
type VisitsConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// HomeWorkConfig configures home/work inference.
type HomeWorkConfig struct {
	RadiusMeters        float64       `yaml:"radius_meters" mapstructure:"radius_meters"`
	MinVisits           int           `yaml:"min_visits" mapstructure:"min_visits"`
	MinMinutes          float64       `yaml:"min_minutes" mapstructure:"min_minutes"`
	Window              time.Duration `yaml:"window" mapstructure:"window"`
	MinConfidence       float64       `yaml:"min_confidence" mapstructure:"min_confidence"`
	MinPatternRatio     float64       `yaml:"min_pattern_ratio" mapstructure:"min_pattern_ratio"`
	MaxWorkWeekendRatio float64       `yaml:"max_work_weekend_ratio" mapstructure:"max_work_weekend_ratio"`
	TimeZone            string        `yaml:"time_zone" mapstructure:"time_zone"`
	Concurrency         int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// Location resolves TimeZone, falling back to UTC.
func (c HomeWorkConfig) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RateLimitConfig configures per-user ingest throttling.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: 8080, Mode: "release"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Path: "./data/geotrust.db"},
		Redis:    RedisConfig{TTL: 24 * time.Hour},
		Spoofing: SpoofingConfig{
			SpeedThresholdMPS:       100,
			AccuracyThresholdMeters: 1000,
			JumpWindow:              10 * time.Second,
			JumpSlackMeters:         100,
			Threshold:               0.5,
		},
		Trajectory: TrajectoryConfig{
			TransitSpeedMPS: 25 / 3.6,
			Window:          10,
			MaxPoints:       500,
			IdleTimeout:     2 * time.Hour,
		},
		Discovery: DiscoveryConfig{
			CorridorWidthMeters:   100,
			LargeAreaSquareMeters: 5_000_000,
			LargeScaleCategories:  []string{"infrastructure_area", "valley", "mountain_range", "coastal_area"},
			MinTimeInZoneSeconds:  30,
			MinProgressPercent:    10,
			FallbackStepSeconds:   300,
			FallbackStepPercent:   10,
			ExploredPercent:       30,
			CompletedPercent:      70,
		},
		Visits: VisitsConfig{IdleTimeout: 2 * time.Hour},
		HomeWork: HomeWorkConfig{
			RadiusMeters:        200,
			MinVisits:           5,
			MinMinutes:          30,
			Window:              30 * 24 * time.Hour,
			MinConfidence:       0.5,
			MinPatternRatio:     0.5,
			MaxWorkWeekendRatio: 0.2,
			TimeZone:            "UTC",
			Concurrency:         4,
		},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)
	v.SetDefault("regions.catalog_path", d.Regions.CatalogPath)
	v.SetDefault("spoofing.speed_threshold_mps", d.Spoofing.SpeedThresholdMPS)
	v.SetDefault("spoofing.accuracy_threshold_meters", d.Spoofing.AccuracyThresholdMeters)
	v.SetDefault("spoofing.jump_window", d.Spoofing.JumpWindow)
	v.SetDefault("spoofing.jump_slack_meters", d.Spoofing.JumpSlackMeters)
	v.SetDefault("spoofing.threshold", d.Spoofing.Threshold)
	v.SetDefault("trajectory.transit_speed_mps", d.Trajectory.TransitSpeedMPS)
	v.SetDefault("trajectory.window", d.Trajectory.Window)
	v.SetDefault("trajectory.max_points", d.Trajectory.MaxPoints)
	v.SetDefault("trajectory.idle_timeout", d.Trajectory.IdleTimeout)
	v.SetDefault("discovery.corridor_width_meters", d.Discovery.CorridorWidthMeters)
	v.SetDefault("discovery.large_area_square_meters", d.Discovery.LargeAreaSquareMeters)
	v.SetDefault("discovery.large_scale_categories", d.Discovery.LargeScaleCategories)
	v.SetDefault("discovery.min_time_in_zone_seconds", d.Discovery.MinTimeInZoneSeconds)
	v.SetDefault("discovery.min_progress_percent", d.Discovery.MinProgressPercent)
	v.SetDefault("discovery.fallback_step_seconds", d.Discovery.FallbackStepSeconds)
	v.SetDefault("discovery.fallback_step_percent", d.Discovery.FallbackStepPercent)
	v.SetDefault("discovery.explored_percent", d.Discovery.ExploredPercent)
	v.SetDefault("discovery.completed_percent", d.Discovery.CompletedPercent)
	v.SetDefault("visits.idle_timeout", d.Visits.IdleTimeout)
	v.SetDefault("home_work.radius_meters", d.HomeWork.RadiusMeters)
	v.SetDefault("home_work.min_visits", d.HomeWork.MinVisits)
	v.SetDefault("home_work.min_minutes", d.HomeWork.MinMinutes)
	v.SetDefault("home_work.window", d.HomeWork.Window)
	v.SetDefault("home_work.min_confidence", d.HomeWork.MinConfidence)
	v.SetDefault("home_work.min_pattern_ratio", d.HomeWork.MinPatternRatio)
	v.SetDefault("home_work.max_work_weekend_ratio", d.HomeWork.MaxWorkWeekendRatio)
	v.SetDefault("home_work.time_zone", d.HomeWork.TimeZone)
	v.SetDefault("home_work.concurrency", d.HomeWork.Concurrency)
	v.SetDefault("rate_limit.rps", d.RateLimit.RPS)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
}

// Load reads configuration from geotrust.yaml (optional) and GEOTRUST_*
// environment variables on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("geotrust")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/geotrust")

	v.SetEnvPrefix("GEOTRUST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects thresholds that would make the engine misbehave.
func (c Config) Validate() error {
	switch {
	case c.Spoofing.SpeedThresholdMPS <= 0:
		return eris.New("config: spoofing.speed_threshold_mps must be positive")
	case c.Spoofing.AccuracyThresholdMeters <= 0:
		return eris.New("config: spoofing.accuracy_threshold_meters must be positive")
	case c.Trajectory.Window < 1:
		return eris.New("config: trajectory.window must be at least 1")
	case c.Discovery.CorridorWidthMeters <= 0:
		return eris.New("config: discovery.corridor_width_meters must be positive")
	case c.Discovery.FallbackStepSeconds <= 0:
		return eris.New("config: discovery.fallback_step_seconds must be positive")
	case c.Discovery.ExploredPercent > c.Discovery.CompletedPercent:
		return eris.New("config: discovery.explored_percent exceeds completed_percent")
	case c.HomeWork.RadiusMeters <= 0:
		return eris.New("config: home_work.radius_meters must be positive")
	case c.HomeWork.MinMinutes <= 0:
		return eris.New("config: home_work.min_minutes must be positive")
	}
	if _, err := time.LoadLocation(c.HomeWork.TimeZone); err != nil {
		return eris.Wrapf(err, "config: home_work.time_zone %q", c.HomeWork.TimeZone)
	}
	return nil
}
