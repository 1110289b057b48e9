package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/lbench/internal/strategy"
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

var ErrInvalidConfig = errors.New("invalid configuration")

type ServerConfig struct {
	Address       string `mapstructure:"address"`
	Environment   string `mapstructure:"environment"`
	ShutdownGrace string `mapstructure:"shutdown_grace"`
}

type HealthCheckConfig struct {
	Interval           string `mapstructure:"interval"`
	Timeout            string `mapstructure:"timeout"`
	Path               string `mapstructure:"path"`
	SuspectThreshold   int    `mapstructure:"suspect_threshold"`
	UnhealthyThreshold int    `mapstructure:"unhealthy_threshold"`
	HealthyThreshold   int    `mapstructure:"healthy_threshold"`
}

type StrategyConfig struct {
	Type         string `mapstructure:"type"`
	VirtualNodes int    `mapstructure:"virtual_nodes"`
}

// BackendConfig is one upstream server. Address accepts host:port or an
// http(s) URL; a zero weight is replaced by a random one at startup.
type BackendConfig struct {
	Address string `mapstructure:"address"`
	Weight  int    `mapstructure:"weight"`
}

type RouterConfig struct {
	ConcurrencyLimit int    `mapstructure:"concurrency_limit"`
	QueueDepth       int    `mapstructure:"queue_depth"`
	AttemptTimeout   string `mapstructure:"attempt_timeout"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	MaxBodyBytes     int64  `mapstructure:"max_body_bytes"`
}

type MetricsConfig struct {
	ReportInterval string `mapstructure:"report_interval"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Backends    []BackendConfig   `mapstructure:"backends"`
	Router      RouterConfig      `mapstructure:"router"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// RegisterFlags adds the command-line overrides understood by Load.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file")
	flags.Int("port", 0, "listening port, overrides server.address")
	flags.StringSlice("backends", nil, "backend addresses as host:port[=weight], overrides backends")
	flags.String("algorithm", "", "routing algorithm: "+strings.Join(strategy.Names, ", "))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.shutdown_grace", "10s")
	v.SetDefault("health_check.interval", "2s")
	v.SetDefault("health_check.timeout", "1s")
	v.SetDefault("health_check.path", "/health")
	v.SetDefault("health_check.suspect_threshold", 1)
	v.SetDefault("health_check.unhealthy_threshold", 2)
	v.SetDefault("health_check.healthy_threshold", 1)
	v.SetDefault("strategy.type", strategy.RoundRobin)
	v.SetDefault("strategy.virtual_nodes", 0)
	v.SetDefault("router.concurrency_limit", 500)
	v.SetDefault("router.queue_depth", 1000)
	v.SetDefault("router.attempt_timeout", "5s")
	v.SetDefault("router.max_attempts", 2)
	v.SetDefault("router.max_body_bytes", 10<<20)
	v.SetDefault("metrics.report_interval", "5s")
	v.SetDefault("logging.level", LogLevelInfo)
}

// Load reads config.yaml from ./config or the working directory (or the file
// named by --config), applies environment variables and any flags that were
// set, and validates the result. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if file := flagString(flags, "config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		if f := flags.Lookup("algorithm"); f != nil {
			if err := v.BindPFlag("strategy.type", f); err != nil {
				return nil, err
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.applyFlags(flags); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

func (c *Config) applyFlags(flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	if flags.Changed("port") {
		port, err := flags.GetInt("port")
		if err != nil {
			return fmt.Errorf("%w: port: %w", ErrInvalidConfig, err)
		}
		host, _, _ := net.SplitHostPort(c.Server.Address)
		c.Server.Address = net.JoinHostPort(host, strconv.Itoa(port))
	}

	if flags.Changed("backends") {
		entries, err := flags.GetStringSlice("backends")
		if err != nil {
			return fmt.Errorf("%w: backends: %w", ErrInvalidConfig, err)
		}

		c.Backends = make([]BackendConfig, 0, len(entries))
		for _, entry := range entries {
			bc, err := parseBackendFlag(entry)
			if err != nil {
				return err
			}
			c.Backends = append(c.Backends, bc)
		}
	}

	return nil
}

func parseBackendFlag(entry string) (BackendConfig, error) {
	addr, weight, found := strings.Cut(strings.TrimSpace(entry), "=")
	bc := BackendConfig{Address: addr}

	if found {
		w, err := strconv.Atoi(weight)
		if err != nil {
			return bc, fmt.Errorf("%w: backend %q: weight must be an integer", ErrInvalidConfig, entry)
		}
		bc.Weight = w
	}

	return bc, nil
}

func flagString(flags *pflag.FlagSet, name string) string {
	if flags == nil || flags.Lookup(name) == nil {
		return ""
	}
	value, _ := flags.GetString(name)
	return value
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
					validation.Field(&sc.ShutdownGrace,
						validation.Required,
						validation.By(validateDuration),
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
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&hc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&hc.Path,
						validation.Required,
						validation.By(validatePath),
					),
					validation.Field(&hc.SuspectThreshold, validation.Required, validation.Min(1)),
					validation.Field(&hc.UnhealthyThreshold, validation.Required, validation.Min(hc.SuspectThreshold)),
					validation.Field(&hc.HealthyThreshold, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
		),
		validation.Field(&c.Strategy,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Type,
						validation.Required,
						validation.In(stringsToAny(strategy.Names)...),
					),
					validation.Field(&sc.VirtualNodes,
						validation.Min(0),
					),
				)
			}),
		),
		validation.Field(&c.Router,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RouterConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RouterConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.ConcurrencyLimit, validation.Required, validation.Min(1)),
					validation.Field(&rc.QueueDepth, validation.Min(0)),
					validation.Field(&rc.AttemptTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.MaxAttempts, validation.Required, validation.Min(1)),
					validation.Field(&rc.MaxBodyBytes, validation.Required, validation.Min(int64(1))),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.ReportInterval, validation.By(validateDuration)),
				)
			}),
		),
	)
}

func stringsToAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
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

	if err := is.Port.Validate(port); err != nil || port == "" {
		return validation.NewError("validation_invalid_port", "must be a valid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if durationStr == "" {
		return nil
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validatePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if _, err := backend.URL(); err != nil {
		return validation.NewError("validation_invalid_backend", err.Error())
	}

	if backend.Weight < 0 {
		return validation.NewError("validation_invalid_weight", "weight cannot be negative")
	}

	return nil
}

// URL normalises the backend address to an http(s) URL.
func (b BackendConfig) URL() (*url.URL, error) {
	raw := strings.TrimSpace(b.Address)
	if raw == "" {
		return nil, errors.New("backend address cannot be empty")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("backend address %q is not a valid URL", b.Address)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend address %q must use http or https", b.Address)
	}

	if err := validateHostPort(u.Host); err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("backend address %q must be host:port", b.Address)
	}

	return u, nil
}

func (s ServerConfig) ShutdownGraceDuration() time.Duration {
	return mustDuration(s.ShutdownGrace)
}

func (h HealthCheckConfig) IntervalDuration() time.Duration {
	return mustDuration(h.Interval)
}

func (h HealthCheckConfig) TimeoutDuration() time.Duration {
	return mustDuration(h.Timeout)
}

func (r RouterConfig) AttemptTimeoutDuration() time.Duration {
	return mustDuration(r.AttemptTimeout)
}

func (m MetricsConfig) ReportIntervalDuration() time.Duration {
	return mustDuration(m.ReportInterval)
}

// mustDuration parses a value that Validate has already accepted.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
