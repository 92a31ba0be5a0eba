// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Story sweep modes.
const (
	SweepModeInline = "inline"
	SweepModeCron   = "cron"
	SweepModeBoth   = "both"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	JWTRefreshSecret string        `mapstructure:"JWT_REFRESH_SECRET"`
	JWTAccessTTL     time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL    time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	OTPTTL           time.Duration `mapstructure:"OTP_TTL"`

	DBHost                        string `mapstructure:"DB_HOST"`
	DBPort                        string `mapstructure:"DB_PORT"`
	DBUser                        string `mapstructure:"DB_USER"`
	DBPassword                    string `mapstructure:"DB_PASSWORD"`
	DBName                        string `mapstructure:"DB_NAME"`
	DBSSLMode                     string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns                int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns                int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes      int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	DBSchemaMode                  string `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool   `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	DevBootstrapAdmin bool   `mapstructure:"DEV_BOOTSTRAP_ADMIN"`
	DevAdminEmail     string `mapstructure:"DEV_ADMIN_EMAIL"`
	DevAdminPassword  string `mapstructure:"DEV_ADMIN_PASSWORD"`

	FeatureFlags     string `mapstructure:"FEATURE_FLAGS"`
	FeatureFlagsFile string `mapstructure:"FEATURE_FLAGS_FILE"`

	UploadDir         string `mapstructure:"UPLOAD_DIR"`
	MediaMaxUploadMB  int    `mapstructure:"MEDIA_MAX_UPLOAD_MB"`
	MediaThumbnailPx  int    `mapstructure:"MEDIA_THUMBNAIL_PX"`
	MediaMaxPixels    int64  `mapstructure:"MEDIA_MAX_PIXELS"`
	MediaPublicPrefix string `mapstructure:"MEDIA_PUBLIC_PREFIX"`

	StoryTTL             time.Duration `mapstructure:"STORY_TTL"`
	StoryImageDurationMs int           `mapstructure:"STORY_IMAGE_DURATION_MS"`
	StoryVideoDurationMs int           `mapstructure:"STORY_VIDEO_DURATION_MS"`
	StorySweepMode       string        `mapstructure:"STORY_SWEEP_MODE"`
	StorySweepSchedule   string        `mapstructure:"STORY_SWEEP_SCHEDULE"`

	NotifyFanoutWorkers int `mapstructure:"NOTIFY_FANOUT_WORKERS"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The base file is optional.
	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))
	config.StorySweepMode = strings.ToLower(strings.TrimSpace(config.StorySweepMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "5000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")

	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("OTP_TTL", "10m")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "sokoni")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	v.SetDefault("DB_SCHEMA_MODE", "hybrid")
	v.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)

	v.SetDefault("REDIS_URL", "localhost:6379")

	v.SetDefault("DEV_BOOTSTRAP_ADMIN", false)
	v.SetDefault("DEV_ADMIN_EMAIL", "admin@sokoni.local")
	v.SetDefault("DEV_ADMIN_PASSWORD", "")

	v.SetDefault("FEATURE_FLAGS", "story_like_notifications=on,story_fanout=on")
	v.SetDefault("FEATURE_FLAGS_FILE", "")

	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("MEDIA_MAX_UPLOAD_MB", 50)
	v.SetDefault("MEDIA_THUMBNAIL_PX", 320)
	v.SetDefault("MEDIA_MAX_PIXELS", 40_000_000)
	v.SetDefault("MEDIA_PUBLIC_PREFIX", "/uploads")

	v.SetDefault("STORY_TTL", "24h")
	v.SetDefault("STORY_IMAGE_DURATION_MS", 5000)
	v.SetDefault("STORY_VIDEO_DURATION_MS", 15000)
	v.SetDefault("STORY_SWEEP_MODE", SweepModeInline)
	v.SetDefault("STORY_SWEEP_SCHEDULE", "@every 5m")

	v.SetDefault("NOTIFY_FANOUT_WORKERS", 8)

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// SweepInline reports whether feed reads should sweep expired stories first.
func (c *Config) SweepInline() bool {
	mode := strings.ToLower(c.StorySweepMode)
	return mode == "" || mode == SweepModeInline || mode == SweepModeBoth
}

// SweepScheduled reports whether the cron sweeper should run.
func (c *Config) SweepScheduled() bool {
	mode := strings.ToLower(c.StorySweepMode)
	return mode == SweepModeCron || mode == SweepModeBoth
}

// RefreshSecret returns the refresh-token signing secret, falling back to a
// derived value outside production.
func (c *Config) RefreshSecret() string {
	if c.JWTRefreshSecret != "" {
		return c.JWTRefreshSecret
	}
	return c.JWTSecret + ":refresh"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	if c.JWTRefreshTTL < c.JWTAccessTTL {
		return errors.New("JWT_REFRESH_TTL must not be shorter than JWT_ACCESS_TTL")
	}
	if c.OTPTTL <= 0 {
		return errors.New("OTP_TTL must be positive")
	}
	if c.StoryTTL <= 0 {
		return errors.New("STORY_TTL must be positive")
	}
	if c.StoryImageDurationMs <= 0 || c.StoryVideoDurationMs <= 0 {
		return errors.New("story display durations must be positive")
	}

	switch strings.ToLower(c.StorySweepMode) {
	case "", SweepModeInline, SweepModeCron, SweepModeBoth:
	default:
		return fmt.Errorf("unsupported STORY_SWEEP_MODE %q", c.StorySweepMode)
	}
	if c.SweepScheduled() && strings.TrimSpace(c.StorySweepSchedule) == "" {
		return errors.New("STORY_SWEEP_SCHEDULE is required when the cron sweeper is enabled")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.JWTRefreshSecret == "" || c.JWTRefreshSecret == c.JWTSecret {
			return errors.New("JWT_REFRESH_SECRET must be set and differ from JWT_SECRET in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
