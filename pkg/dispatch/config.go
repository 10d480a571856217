package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dispatcher, mirroring the keys
// enumerated under http_server, manager, worker, logging, and metrics.
type Config struct {
	HTTPServer HTTPServerConfig `mapstructure:"http_server"`
	Manager    ManagerConfig    `mapstructure:"manager"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// HTTPServerConfig configures the front-end's bind address.
type HTTPServerConfig struct {
	Port int `mapstructure:"port"`
}

// ManagerConfig configures pool sizing and dispatch policy.
type ManagerConfig struct {
	NumInitWorkers int           `mapstructure:"num_init_workers"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	WorkerTimeout  time.Duration `mapstructure:"worker_timeout"`
	Logging        string        `mapstructure:"logging"`
	FastWorkers    bool          `mapstructure:"fast_workers"`
	AutoScale      bool          `mapstructure:"auto_scale"`
	SpotWorkers    bool          `mapstructure:"spot_workers"`
}

// WorkerConfig configures the worker binary the Manager spawns.
type WorkerConfig struct {
	Binary         string `mapstructure:"binary"`
	LibtorchPath   string `mapstructure:"libtorch_path"`
	AuthSecretFile string `mapstructure:"auth_secret_file"`
	BodyCodec      string `mapstructure:"body_codec"`
}

// LoggingConfig defines the ambient slog configuration, see
// pkg/dispatch/logger.go.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// MetricsConfig controls Prometheus exposition of DispatchMetrics.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// LoadConfig loads configuration from configPath (or the default search
// path when empty) layered with INFERD_-prefixed environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/inferd")
	}

	v.SetEnvPrefix("INFERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Manager.WorkerTimeout *= time.Millisecond
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_server.port", 8080)

	v.SetDefault("manager.num_init_workers", 1)
	v.SetDefault("manager.max_workers", 4)
	v.SetDefault("manager.worker_timeout", 2000)
	v.SetDefault("manager.logging", "info")
	v.SetDefault("manager.fast_workers", false)
	v.SetDefault("manager.auto_scale", false)
	v.SetDefault("manager.spot_workers", false)

	v.SetDefault("worker.binary", "./worker")
	v.SetDefault("worker.libtorch_path", "")
	v.SetDefault("worker.auth_secret_file", "")
	v.SetDefault("worker.body_codec", "json")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}
