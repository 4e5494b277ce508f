package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Log        LogConfig
	Schedule   ScheduleConfig
	Travel     TravelConfig
	Routing    RoutingConfig
	Simulation SimulationConfig
	Jobs       JobsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host          string `mapstructure:"REDIS_HOST"`
	Port          int    `mapstructure:"REDIS_PORT"`
	Password      string `mapstructure:"REDIS_PASSWORD"`
	DB            int    `mapstructure:"REDIS_DB"`
	PoolSize      int    `mapstructure:"REDIS_POOL_SIZE"`
	NotifyChannel string `mapstructure:"REDIS_NOTIFY_CHANNEL"`
}

// LogConfig holds zap logger settings. An empty File logs to stdout.
type LogConfig struct {
	Level      string `mapstructure:"LOG_LEVEL"`
	File       string `mapstructure:"LOG_FILE"`
	MaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`
}

// ScheduleConfig holds the capacity and slot-model knobs.
type ScheduleConfig struct {
	Timezone              string  `mapstructure:"SCHED_TIMEZONE"`
	MaxPremiumSubscribers int     `mapstructure:"MAX_PREMIUM_SUBSCRIBERS"`
	MaxRidersPerRide      int     `mapstructure:"MAX_RIDERS_PER_RIDE"`
	MaxRidesPerHour       int     `mapstructure:"MAX_RIDES_PER_HOUR"`
	MaxRidesPerDay        int     `mapstructure:"MAX_RIDES_PER_DAY"`
	PeakMorningStart      string  `mapstructure:"PEAK_MORNING_START"`
	PeakMorningEnd        string  `mapstructure:"PEAK_MORNING_END"`
	PeakEveningStart      string  `mapstructure:"PEAK_EVENING_START"`
	PeakEveningEnd        string  `mapstructure:"PEAK_EVENING_END"`
	ServiceDayStart       string  `mapstructure:"SERVICE_DAY_START"`
	ServiceDayEnd         string  `mapstructure:"SERVICE_DAY_END"`
	SlotWindowMinutes     int     `mapstructure:"SLOT_WINDOW_MINUTES"`
	SlotMaxPremium        int     `mapstructure:"SLOT_MAX_PREMIUM"`
	SlotMaxNonPremium     int     `mapstructure:"SLOT_MAX_NON_PREMIUM"`
	SlotDirections        string  `mapstructure:"SLOT_DIRECTIONS"`
	ArriveEarlyMinutes    int     `mapstructure:"ARRIVE_EARLY_MINUTES"`
	HoldExpiryMinutes     int     `mapstructure:"HOLD_EXPIRY_MINUTES"`
	DesiredWindowMinutes  int     `mapstructure:"DESIRED_WINDOW_MINUTES"`
	ConflictBufferMinutes int     `mapstructure:"CONFLICT_BUFFER_MINUTES"`
	MaxResults            int     `mapstructure:"AVAILABILITY_MAX_RESULTS"`
	PremiumOnTimeTarget   float64 `mapstructure:"PREMIUM_ON_TIME_TARGET"`
	NonPremiumTarget      float64 `mapstructure:"NON_PREMIUM_ON_TIME_TARGET"`
	DriverBaseLat         float64 `mapstructure:"DRIVER_BASE_LAT"`
	DriverBaseLng         float64 `mapstructure:"DRIVER_BASE_LNG"`
	CampusLat             float64 `mapstructure:"CAMPUS_LAT"`
	CampusLng             float64 `mapstructure:"CAMPUS_LNG"`
	CampusRadiusKm        float64 `mapstructure:"CAMPUS_RADIUS_KM"`
}

// TravelConfig holds travel-time estimation knobs.
type TravelConfig struct {
	BaseSpeedKmph     float64 `mapstructure:"TRAVEL_BASE_SPEED_KMPH"`
	RoadFactor        float64 `mapstructure:"TRAVEL_ROAD_FACTOR"`
	SafetyMultiplier  float64 `mapstructure:"TRAVEL_SAFETY_MULTIPLIER"`
	DefaultRiderDelay float64 `mapstructure:"DEFAULT_RIDER_DELAY_MINUTES"`
}

// RoutingConfig holds routing-provider and detour knobs.
type RoutingConfig struct {
	ProviderTimeout            time.Duration `mapstructure:"ROUTING_PROVIDER_TIMEOUT"`
	CacheTTL                   time.Duration `mapstructure:"ROUTING_CACHE_TTL"`
	RateLimitPerSec            float64       `mapstructure:"ROUTING_RATE_LIMIT_PER_SEC"`
	RateLimitBurst             int           `mapstructure:"ROUTING_RATE_LIMIT_BURST"`
	FallbackSpeedKmph          float64       `mapstructure:"ROUTING_FALLBACK_SPEED_KMPH"`
	MaxDetourSeconds           int           `mapstructure:"MAX_DETOUR_SECONDS"`
	TargetLateToleranceMinutes int           `mapstructure:"TARGET_LATE_TOLERANCE_MINUTES"`
}

// SimulationConfig holds Monte Carlo settings.
type SimulationConfig struct {
	DefaultRuns       int     `mapstructure:"MONTE_CARLO_DEFAULT_RUNS"`
	Workers           int     `mapstructure:"MONTE_CARLO_WORKERS"`
	Seed              int64   `mapstructure:"MONTE_CARLO_SEED"`
	NoShowWaitMinutes float64 `mapstructure:"MONTE_CARLO_NO_SHOW_WAIT_MINUTES"`
}

// JobsConfig holds cron schedules for background maintenance.
type JobsConfig struct {
	HoldSweepSpec     string `mapstructure:"JOB_HOLD_SWEEP_SPEC"`
	SlotInitSpec      string `mapstructure:"JOB_SLOT_INIT_SPEC"`
	SlotInitDaysAhead int    `mapstructure:"JOB_SLOT_INIT_DAYS_AHEAD"`
	AutoBalanceSpec   string `mapstructure:"JOB_AUTO_BALANCE_SPEC"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Location resolves the configured scheduling timezone.
func (s *ScheduleConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// Directions returns the directions slots are generated for.
func (s *ScheduleConfig) Directions() []string {
	parts := strings.Split(s.SlotDirections, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "campusride")
	viper.SetDefault("POSTGRES_PASSWORD", "campusride_secret")
	viper.SetDefault("POSTGRES_DB", "campusride_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 50)
	viper.SetDefault("POSTGRES_MIN_CONNS", 10)

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 100)
	viper.SetDefault("REDIS_NOTIFY_CHANNEL", "campusride:events")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FILE", "")
	viper.SetDefault("LOG_MAX_SIZE_MB", 100)
	viper.SetDefault("LOG_MAX_BACKUPS", 3)
	viper.SetDefault("LOG_MAX_AGE_DAYS", 28)

	viper.SetDefault("SCHED_TIMEZONE", "America/Winnipeg")
	viper.SetDefault("MAX_PREMIUM_SUBSCRIBERS", 20)
	viper.SetDefault("MAX_RIDERS_PER_RIDE", 2)
	viper.SetDefault("MAX_RIDES_PER_HOUR", 3)
	viper.SetDefault("MAX_RIDES_PER_DAY", 40)
	viper.SetDefault("PEAK_MORNING_START", "07:00")
	viper.SetDefault("PEAK_MORNING_END", "10:00")
	viper.SetDefault("PEAK_EVENING_START", "15:00")
	viper.SetDefault("PEAK_EVENING_END", "18:00")
	viper.SetDefault("SERVICE_DAY_START", "06:00")
	viper.SetDefault("SERVICE_DAY_END", "22:00")
	viper.SetDefault("SLOT_WINDOW_MINUTES", 5)
	viper.SetDefault("SLOT_MAX_PREMIUM", 2)
	viper.SetDefault("SLOT_MAX_NON_PREMIUM", 2)
	viper.SetDefault("SLOT_DIRECTIONS", "home_to_campus,campus_to_home")
	viper.SetDefault("ARRIVE_EARLY_MINUTES", 5)
	viper.SetDefault("HOLD_EXPIRY_MINUTES", 5)
	viper.SetDefault("DESIRED_WINDOW_MINUTES", 90)
	viper.SetDefault("CONFLICT_BUFFER_MINUTES", 30)
	viper.SetDefault("AVAILABILITY_MAX_RESULTS", 10)
	viper.SetDefault("PREMIUM_ON_TIME_TARGET", 0.99)
	viper.SetDefault("NON_PREMIUM_ON_TIME_TARGET", 0.95)
	viper.SetDefault("DRIVER_BASE_LAT", 49.8844)
	viper.SetDefault("DRIVER_BASE_LNG", -97.1470)
	viper.SetDefault("CAMPUS_LAT", 49.8075)
	viper.SetDefault("CAMPUS_LNG", -97.1325)
	viper.SetDefault("CAMPUS_RADIUS_KM", 2.0)

	viper.SetDefault("TRAVEL_BASE_SPEED_KMPH", 28.0)
	viper.SetDefault("TRAVEL_ROAD_FACTOR", 1.3)
	viper.SetDefault("TRAVEL_SAFETY_MULTIPLIER", 1.3)
	viper.SetDefault("DEFAULT_RIDER_DELAY_MINUTES", 2.0)

	viper.SetDefault("ROUTING_PROVIDER_TIMEOUT", "2s")
	viper.SetDefault("ROUTING_CACHE_TTL", "5m")
	viper.SetDefault("ROUTING_RATE_LIMIT_PER_SEC", 25.0)
	viper.SetDefault("ROUTING_RATE_LIMIT_BURST", 50)
	viper.SetDefault("ROUTING_FALLBACK_SPEED_KMPH", 25.0)
	viper.SetDefault("MAX_DETOUR_SECONDS", 120)
	viper.SetDefault("TARGET_LATE_TOLERANCE_MINUTES", 2)

	viper.SetDefault("MONTE_CARLO_DEFAULT_RUNS", 1000)
	viper.SetDefault("MONTE_CARLO_WORKERS", 8)
	viper.SetDefault("MONTE_CARLO_SEED", 0)
	viper.SetDefault("MONTE_CARLO_NO_SHOW_WAIT_MINUTES", 2.0)

	viper.SetDefault("JOB_HOLD_SWEEP_SPEC", "@every 1m")
	viper.SetDefault("JOB_SLOT_INIT_SPEC", "5 0 * * *")
	viper.SetDefault("JOB_SLOT_INIT_DAYS_AHEAD", 3)
	viper.SetDefault("JOB_AUTO_BALANCE_SPEC", "30 2 * * *")

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:          viper.GetString("REDIS_HOST"),
		Port:          viper.GetInt("REDIS_PORT"),
		Password:      viper.GetString("REDIS_PASSWORD"),
		DB:            viper.GetInt("REDIS_DB"),
		PoolSize:      viper.GetInt("REDIS_POOL_SIZE"),
		NotifyChannel: viper.GetString("REDIS_NOTIFY_CHANNEL"),
	}

	// ── Logging ─────────────────────────────────────────
	cfg.Log = LogConfig{
		Level:      viper.GetString("LOG_LEVEL"),
		File:       viper.GetString("LOG_FILE"),
		MaxSizeMB:  viper.GetInt("LOG_MAX_SIZE_MB"),
		MaxBackups: viper.GetInt("LOG_MAX_BACKUPS"),
		MaxAgeDays: viper.GetInt("LOG_MAX_AGE_DAYS"),
	}

	// ── Scheduling ──────────────────────────────────────
	cfg.Schedule = ScheduleConfig{
		Timezone:              viper.GetString("SCHED_TIMEZONE"),
		MaxPremiumSubscribers: viper.GetInt("MAX_PREMIUM_SUBSCRIBERS"),
		MaxRidersPerRide:      viper.GetInt("MAX_RIDERS_PER_RIDE"),
		MaxRidesPerHour:       viper.GetInt("MAX_RIDES_PER_HOUR"),
		MaxRidesPerDay:        viper.GetInt("MAX_RIDES_PER_DAY"),
		PeakMorningStart:      viper.GetString("PEAK_MORNING_START"),
		PeakMorningEnd:        viper.GetString("PEAK_MORNING_END"),
		PeakEveningStart:      viper.GetString("PEAK_EVENING_START"),
		PeakEveningEnd:        viper.GetString("PEAK_EVENING_END"),
		ServiceDayStart:       viper.GetString("SERVICE_DAY_START"),
		ServiceDayEnd:         viper.GetString("SERVICE_DAY_END"),
		SlotWindowMinutes:     viper.GetInt("SLOT_WINDOW_MINUTES"),
		SlotMaxPremium:        viper.GetInt("SLOT_MAX_PREMIUM"),
		SlotMaxNonPremium:     viper.GetInt("SLOT_MAX_NON_PREMIUM"),
		SlotDirections:        viper.GetString("SLOT_DIRECTIONS"),
		ArriveEarlyMinutes:    viper.GetInt("ARRIVE_EARLY_MINUTES"),
		HoldExpiryMinutes:     viper.GetInt("HOLD_EXPIRY_MINUTES"),
		DesiredWindowMinutes:  viper.GetInt("DESIRED_WINDOW_MINUTES"),
		ConflictBufferMinutes: viper.GetInt("CONFLICT_BUFFER_MINUTES"),
		MaxResults:            viper.GetInt("AVAILABILITY_MAX_RESULTS"),
		PremiumOnTimeTarget:   viper.GetFloat64("PREMIUM_ON_TIME_TARGET"),
		NonPremiumTarget:      viper.GetFloat64("NON_PREMIUM_ON_TIME_TARGET"),
		DriverBaseLat:         viper.GetFloat64("DRIVER_BASE_LAT"),
		DriverBaseLng:         viper.GetFloat64("DRIVER_BASE_LNG"),
		CampusLat:             viper.GetFloat64("CAMPUS_LAT"),
		CampusLng:             viper.GetFloat64("CAMPUS_LNG"),
		CampusRadiusKm:        viper.GetFloat64("CAMPUS_RADIUS_KM"),
	}

	// ── Travel model ────────────────────────────────────
	cfg.Travel = TravelConfig{
		BaseSpeedKmph:     viper.GetFloat64("TRAVEL_BASE_SPEED_KMPH"),
		RoadFactor:        viper.GetFloat64("TRAVEL_ROAD_FACTOR"),
		SafetyMultiplier:  viper.GetFloat64("TRAVEL_SAFETY_MULTIPLIER"),
		DefaultRiderDelay: viper.GetFloat64("DEFAULT_RIDER_DELAY_MINUTES"),
	}

	// ── Routing ─────────────────────────────────────────
	cfg.Routing = RoutingConfig{
		ProviderTimeout:            viper.GetDuration("ROUTING_PROVIDER_TIMEOUT"),
		CacheTTL:                   viper.GetDuration("ROUTING_CACHE_TTL"),
		RateLimitPerSec:            viper.GetFloat64("ROUTING_RATE_LIMIT_PER_SEC"),
		RateLimitBurst:             viper.GetInt("ROUTING_RATE_LIMIT_BURST"),
		FallbackSpeedKmph:          viper.GetFloat64("ROUTING_FALLBACK_SPEED_KMPH"),
		MaxDetourSeconds:           viper.GetInt("MAX_DETOUR_SECONDS"),
		TargetLateToleranceMinutes: viper.GetInt("TARGET_LATE_TOLERANCE_MINUTES"),
	}

	// ── Simulation ──────────────────────────────────────
	cfg.Simulation = SimulationConfig{
		DefaultRuns:       viper.GetInt("MONTE_CARLO_DEFAULT_RUNS"),
		Workers:           viper.GetInt("MONTE_CARLO_WORKERS"),
		Seed:              viper.GetInt64("MONTE_CARLO_SEED"),
		NoShowWaitMinutes: viper.GetFloat64("MONTE_CARLO_NO_SHOW_WAIT_MINUTES"),
	}

	// ── Background jobs ─────────────────────────────────
	cfg.Jobs = JobsConfig{
		HoldSweepSpec:     viper.GetString("JOB_HOLD_SWEEP_SPEC"),
		SlotInitSpec:      viper.GetString("JOB_SLOT_INIT_SPEC"),
		SlotInitDaysAhead: viper.GetInt("JOB_SLOT_INIT_DAYS_AHEAD"),
		AutoBalanceSpec:   viper.GetString("JOB_AUTO_BALANCE_SPEC"),
	}

	return cfg, nil
}
