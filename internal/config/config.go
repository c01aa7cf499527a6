package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full application configuration. It is loaded once in main
// and passed down by value.
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Auth           AuthConfig
	Log            LogConfig
	Reconciliation ReconciliationConfig
}

type AppConfig struct {
	Addr        string   `mapstructure:"addr"`
	GinMode     string   `mapstructure:"gin_mode"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type AuthConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	ReviewerRoles []string `mapstructure:"reviewer_roles"`
	AdminRole     string   `mapstructure:"admin_role"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ReconciliationConfig tunes the job runner, candidate lookup and scorer.
type ReconciliationConfig struct {
	Workers                 int           `mapstructure:"workers"`
	QueueSize               int           `mapstructure:"queue_size"`
	CandidateCeiling        int           `mapstructure:"candidate_ceiling"`
	DateToleranceDays       int           `mapstructure:"date_tolerance_days"`
	NameSimilarityThreshold float64       `mapstructure:"name_similarity_threshold"`
	ProgressInterval        int           `mapstructure:"progress_interval"`
	MaxUploadBytes          int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout         time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.gin_mode", "")
	v.SetDefault("app.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "travel_admin")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.reviewer_roles", []string{"admin", "supervisor", "finance"})
	v.SetDefault("auth.admin_role", "admin")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("reconciliation.workers", 4)
	v.SetDefault("reconciliation.queue_size", 64)
	v.SetDefault("reconciliation.candidate_ceiling", 50)
	v.SetDefault("reconciliation.date_tolerance_days", 1)
	v.SetDefault("reconciliation.name_similarity_threshold", 0.85)
	v.SetDefault("reconciliation.progress_interval", 100)
	v.SetDefault("reconciliation.max_upload_bytes", 20<<20)
	v.SetDefault("reconciliation.shutdown_timeout", 30*time.Second)
}

// Load reads .env (if present), an optional config file named by
// TRAVELADMIN_CONFIG, and environment variables such as DATABASE_HOST or
// RECONCILIATION_WORKERS.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("TRAVELADMIN_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns the configuration with every default applied and no
// environment overrides.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

func (c Config) Validate() error {
	r := c.Reconciliation
	switch {
	case r.Workers < 1:
		return fmt.Errorf("reconciliation.workers must be >= 1, got %d", r.Workers)
	case r.QueueSize < 1:
		return fmt.Errorf("reconciliation.queue_size must be >= 1, got %d", r.QueueSize)
	case r.CandidateCeiling < 1:
		return fmt.Errorf("reconciliation.candidate_ceiling must be >= 1, got %d", r.CandidateCeiling)
	case r.DateToleranceDays < 0:
		return fmt.Errorf("reconciliation.date_tolerance_days must be >= 0, got %d", r.DateToleranceDays)
	case r.NameSimilarityThreshold <= 0 || r.NameSimilarityThreshold > 1:
		return fmt.Errorf("reconciliation.name_similarity_threshold must be in (0,1], got %v", r.NameSimilarityThreshold)
	case r.ProgressInterval < 1:
		return fmt.Errorf("reconciliation.progress_interval must be >= 1, got %d", r.ProgressInterval)
	case r.MaxUploadBytes < 1:
		return fmt.Errorf("reconciliation.max_upload_bytes must be >= 1, got %d", r.MaxUploadBytes)
	}
	if c.Auth.AdminRole == "" {
		return fmt.Errorf("auth.admin_role must not be empty")
	}
	return nil
}

// PostgresDSN returns database.dsn or builds one from the discrete fields.
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}
