package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/data-aggregator/internal/provider"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type HealthMonitorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	DegradedLatency time.Duration `mapstructure:"degraded_latency"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

type FetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

type ConsensusConfig struct {
	Operations       []string `mapstructure:"operations"`
	Fanout           int      `mapstructure:"fanout"`
	TolerancePercent float64  `mapstructure:"tolerance_percent"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Backend       string                   `mapstructure:"backend"`
	SweepInterval time.Duration            `mapstructure:"sweep_interval"`
	Redis         RedisConfig              `mapstructure:"redis"`
	TTL           map[string]time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type ProviderConfig struct {
	ID         string            `mapstructure:"id"`
	Name       string            `mapstructure:"name"`
	Category   string            `mapstructure:"category"`
	Priority   int               `mapstructure:"priority"`
	BaseURL    string            `mapstructure:"base_url"`
	ProbePath  string            `mapstructure:"probe_path"`
	PriceField string            `mapstructure:"price_field"`
	AuthEnv    string            `mapstructure:"auth_env"`
	RateLimit  *RateLimitConfig  `mapstructure:"rate_limit"`
	Endpoints  map[string]string `mapstructure:"endpoints"`
}

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	HealthMonitor HealthMonitorConfig `mapstructure:"health_monitor"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Consensus     ConsensusConfig     `mapstructure:"consensus"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Providers     []ProviderConfig    `mapstructure:"providers"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("health_monitor.interval", "60s")
	viper.SetDefault("health_monitor.degraded_latency", "2s")
	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.recovery_timeout", "60s")
	viper.SetDefault("fetch.timeout", "8s")
	viper.SetDefault("fetch.max_retries", 3)
	viper.SetDefault("fetch.base_delay", "1s")
	viper.SetDefault("fetch.max_delay", "16s")
	viper.SetDefault("consensus.operations", []string{"price"})
	viper.SetDefault("consensus.fanout", 2)
	viper.SetDefault("consensus.tolerance_percent", 5.0)
	viper.SetDefault("cache.backend", CacheBackendMemory)
	viper.SetDefault("cache.sweep_interval", "5m")
	viper.SetDefault("cache.ttl.price", "45s")
	viper.SetDefault("cache.ttl.market", "5m")
	viper.SetDefault("cache.ttl.onchain", "2m")
	viper.SetDefault("cache.ttl.sentiment", "10m")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.HealthMonitor,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthMonitorConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthMonitorConfig")
				}
				if hc.Interval <= 0 {
					return validation.NewError("validation_invalid_interval", "interval must be positive")
				}
				if hc.DegradedLatency <= 0 {
					return validation.NewError("validation_invalid_latency", "degraded_latency must be positive")
				}
				return nil
			}),
		),
		validation.Field(&c.Breaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
				}
				if bc.FailureThreshold < 1 {
					return validation.NewError("validation_invalid_threshold", "failure_threshold must be at least 1")
				}
				if bc.RecoveryTimeout <= 0 {
					return validation.NewError("validation_invalid_timeout", "recovery_timeout must be positive")
				}
				return nil
			}),
		),
		validation.Field(&c.Fetch,
			validation.Required,
			validation.By(func(value interface{}) error {
				fc, ok := value.(FetchConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a FetchConfig")
				}
				if fc.Timeout <= 0 {
					return validation.NewError("validation_invalid_timeout", "timeout must be positive")
				}
				if fc.MaxRetries < 0 {
					return validation.NewError("validation_invalid_retries", "max_retries cannot be negative")
				}
				if fc.BaseDelay <= 0 || fc.MaxDelay < fc.BaseDelay {
					return validation.NewError("validation_invalid_delay", "base_delay must be positive and max_delay at least base_delay")
				}
				return nil
			}),
		),
		validation.Field(&c.Consensus,
			validation.By(func(value interface{}) error {
				cc, ok := value.(ConsensusConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ConsensusConfig")
				}
				if cc.Fanout < 2 {
					return validation.NewError("validation_invalid_fanout", "fanout must be at least 2")
				}
				if cc.TolerancePercent <= 0 {
					return validation.NewError("validation_invalid_tolerance", "tolerance_percent must be positive")
				}
				for _, op := range cc.Operations {
					if _, ok := provider.ParseOperation(op); !ok {
						return validation.NewError("validation_invalid_operation", "unknown consensus operation")
					}
				}
				return nil
			}),
		),
		validation.Field(&c.Cache,
			validation.Required,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CacheConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CacheConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.Backend,
						validation.Required,
						validation.In(CacheBackendMemory, CacheBackendRedis),
					),
					validation.Field(&cc.TTL,
						validation.By(validateTTLMap),
					),
				)
			}),
		),
		validation.Field(&c.Providers,
			validation.Required,
			validation.Length(1, 0),
			validation.By(validateUniqueProviderIDs),
			validation.Each(validation.By(validateProviderConfig)),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateTTLMap(value interface{}) error {
	ttls, ok := value.(map[string]time.Duration)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a duration map")
	}

	for op, ttl := range ttls {
		if _, ok := provider.ParseOperation(op); !ok {
			return validation.NewError("validation_invalid_ttl_operation", "unknown TTL operation")
		}
		if ttl <= 0 {
			return validation.NewError("validation_invalid_ttl", "TTL must be positive")
		}
	}

	return nil
}

func validateUniqueProviderIDs(value interface{}) error {
	providers, ok := value.([]ProviderConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a provider list")
	}

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.ID] {
			return validation.NewError("validation_duplicate_provider", "provider ids must be unique")
		}
		seen[p.ID] = true
	}

	return nil
}

func validateProviderConfig(value interface{}) error {
	pc, ok := value.(ProviderConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ProviderConfig")
	}

	if pc.ID == "" {
		return validation.NewError("validation_empty_id", "provider id cannot be empty")
	}

	if _, ok := provider.ParseCategory(pc.Category); !ok {
		return validation.NewError("validation_invalid_category", "category must be exchange, aggregator, onchain or sentiment")
	}

	if pc.Priority < 0 {
		return validation.NewError("validation_invalid_priority", "priority cannot be negative")
	}

	if err := validateProviderURL(pc.BaseURL); err != nil {
		return err
	}

	if pc.RateLimit != nil {
		if pc.RateLimit.Requests < 1 {
			return validation.NewError("validation_invalid_rate_limit", "rate_limit requests must be at least 1")
		}
		if pc.RateLimit.Window <= 0 {
			return validation.NewError("validation_invalid_rate_window", "rate_limit window must be positive")
		}
	}

	if len(pc.Endpoints) == 0 {
		return validation.NewError("validation_missing_endpoints", "provider must declare at least one endpoint")
	}

	for op := range pc.Endpoints {
		if _, ok := provider.ParseOperation(op); !ok {
			return validation.NewError("validation_invalid_endpoint_operation", "unknown endpoint operation")
		}
	}

	return nil
}

func validateProviderURL(rawURL string) error {
	if rawURL == "" {
		return validation.NewError("validation_empty_url", "provider base_url cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
