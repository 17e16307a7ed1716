package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig configures connection token verification.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// TrackingConfig tunes the position store and the gateway.
type TrackingConfig struct {
	StalenessWindow   time.Duration `mapstructure:"staleness_window"`
	Retention         time.Duration `mapstructure:"retention"`
	RouteRingSize     int           `mapstructure:"route_ring_size"`
	MinMovementMeters float64       `mapstructure:"min_movement_meters"`
	AuthGracePeriod   time.Duration `mapstructure:"auth_grace_period"`
	MaxMalformed      int           `mapstructure:"max_malformed"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	OutboundBuffer    int           `mapstructure:"outbound_buffer"`
	FanoutWorkers     int           `mapstructure:"fanout_workers"`
	FanoutQueue       int           `mapstructure:"fanout_queue"`
	PushRetryInterval time.Duration `mapstructure:"push_retry_interval"`
}

// DispatchConfig tunes proximity signalling.
type DispatchConfig struct {
	ApproachRadiusMeters float64 `mapstructure:"approach_radius_m"`
	ArrivalRadiusMeters  float64 `mapstructure:"arrival_radius_m"`
	ZonesFile            string  `mapstructure:"zones_file"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	return load(service, ".", "./configs")
}

func load(service string, paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Environment variables: LIVETRACK_TRACKING_RETENTION → tracking.retention
	v.SetEnvPrefix("LIVETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "livetrack")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "livetrack")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "livetrack")

	v.SetDefault("tracking.staleness_window", "10m")
	v.SetDefault("tracking.retention", "24h")
	v.SetDefault("tracking.route_ring_size", 100)
	v.SetDefault("tracking.min_movement_meters", 5.0)
	v.SetDefault("tracking.auth_grace_period", "10s")
	v.SetDefault("tracking.max_malformed", 5)
	v.SetDefault("tracking.sweep_interval", "1m")
	v.SetDefault("tracking.outbound_buffer", 64)
	v.SetDefault("tracking.fanout_workers", 8)
	v.SetDefault("tracking.fanout_queue", 1024)
	v.SetDefault("tracking.push_retry_interval", "1s")

	v.SetDefault("dispatch.approach_radius_m", 500.0)
	v.SetDefault("dispatch.arrival_radius_m", 50.0)
	v.SetDefault("dispatch.zones_file", "configs/zones.yaml")

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "livetrack-arrivals")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}

	t := c.Tracking
	if t.StalenessWindow <= 0 {
		errs = append(errs, "tracking.staleness_window must be positive")
	}
	if t.Retention < t.StalenessWindow {
		errs = append(errs, "tracking.retention must not be shorter than tracking.staleness_window")
	}
	if t.RouteRingSize <= 0 {
		errs = append(errs, "tracking.route_ring_size must be positive")
	}
	if t.MinMovementMeters < 0 {
		errs = append(errs, "tracking.min_movement_meters must not be negative")
	}
	if t.AuthGracePeriod <= 0 {
		errs = append(errs, "tracking.auth_grace_period must be positive")
	}
	if t.MaxMalformed <= 0 {
		errs = append(errs, "tracking.max_malformed must be positive")
	}
	if t.SweepInterval <= 0 {
		errs = append(errs, "tracking.sweep_interval must be positive")
	}
	if t.FanoutWorkers <= 0 || t.FanoutQueue < t.FanoutWorkers {
		errs = append(errs, "tracking.fanout_queue must be at least tracking.fanout_workers, both positive")
	}
	if t.PushRetryInterval <= 0 {
		errs = append(errs, "tracking.push_retry_interval must be positive")
	}

	d := c.Dispatch
	if d.ArrivalRadiusMeters <= 0 || d.ApproachRadiusMeters <= d.ArrivalRadiusMeters {
		errs = append(errs, "dispatch radii must satisfy 0 < arrival_radius_m < approach_radius_m")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
