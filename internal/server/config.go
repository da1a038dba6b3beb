package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigName is the config file looked up when no path is given.
const DefaultConfigName = "jobrunner"

// Config holds the job runner configuration.
type Config struct {
	Port     string `mapstructure:"port"`
	GRPCPort string `mapstructure:"grpc_port"`

	NATS      NATSConfig      `mapstructure:"nats"`
	DB        DBConfig        `mapstructure:"db"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`

	// Script is the JavaScript job file; empty runs only config bindings.
	Script string `mapstructure:"script"`
	// Watch reloads the script when it changes on disk.
	Watch bool `mapstructure:"watch"`
	// Trace logs every outbound request made by handlers.
	Trace bool `mapstructure:"trace"`

	Subscriptions []Binding `mapstructure:"subscriptions"`
	Crons         []Binding `mapstructure:"crons"`
}

// NATSConfig selects the NATS server and the subjects jobs use.
type NATSConfig struct {
	Name  string `mapstructure:"name"`
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	Cred  string `mapstructure:"cred"`
	Cert  string `mapstructure:"cert"`
	Key   string `mapstructure:"key"`
	// Subscribe is the global prefix for "+" subscriptions and cron subjects.
	Subscribe  string `mapstructure:"subscribe"`
	MsgLimit   int    `mapstructure:"msg_limit"`
	BytesLimit int    `mapstructure:"bytes_limit"`
	// KVBucket persists job status; empty disables it.
	KVBucket string `mapstructure:"kv_bucket"`
}

// DBConfig selects the output sink.
type DBConfig struct {
	// Type is sqlite3, mysql, pgx or dryrun.
	Type            string        `mapstructure:"type"`
	Conn            string        `mapstructure:"conn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig tunes the dispatcher.
type SchedulerConfig struct {
	PoolSize        int           `mapstructure:"pool_size"`
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DisableAfter    int           `mapstructure:"disable_after"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxBatch        int           `mapstructure:"max_batch"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	SerializeSink   bool          `mapstructure:"serialize_sink"`
	InvokeEmpty     bool          `mapstructure:"invoke_empty"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Binding attaches a built-in Go handler to a job.
type Binding struct {
	Name    string        `mapstructure:"name"`
	Spec    string        `mapstructure:"spec"`
	Handler string        `mapstructure:"handler"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DryRun reports whether statements are only logged.
func (c DBConfig) DryRun() bool {
	return c.Type == "" || c.Type == "dryrun"
}

// NewViper returns a viper instance with defaults and OJS_ environment
// overrides, e.g. OJS_NATS_URL or OJS_SCHEDULER_POOL_SIZE.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("OJS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("nats.url", "OJS_NATS_URL", "NATS_URL")

	v.SetDefault("port", "8080")
	v.SetDefault("grpc_port", "9090")

	v.SetDefault("nats.name", "ojs-jobrunner")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.cred", "")
	v.SetDefault("nats.cert", "")
	v.SetDefault("nats.key", "")
	v.SetDefault("nats.subscribe", "")
	v.SetDefault("nats.msg_limit", 0)
	v.SetDefault("nats.bytes_limit", 0)
	v.SetDefault("nats.kv_bucket", "")

	v.SetDefault("db.type", "dryrun")
	v.SetDefault("db.conn", "")
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("db.max_idle_conns", 0)
	v.SetDefault("db.conn_max_lifetime", 0)

	v.SetDefault("scheduler.pool_size", 8)
	v.SetDefault("scheduler.handler_timeout", "30s")
	v.SetDefault("scheduler.shutdown_timeout", "10s")
	v.SetDefault("scheduler.disable_after", 3)
	v.SetDefault("scheduler.retry_delay", "1m")
	v.SetDefault("scheduler.max_batch", 500)
	v.SetDefault("scheduler.flush_interval", 0)
	v.SetDefault("scheduler.serialize_sink", false)
	v.SetDefault("scheduler.invoke_empty", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("script", "")
	v.SetDefault("watch", false)
	v.SetDefault("trace", false)
	return v
}

// LoadConfig reads path, or jobrunner.yaml from the usual places when path
// is empty. A missing default file is not an error.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigWith(NewViper(), path)
}

// LoadConfigWith is LoadConfig on a caller-provided viper, typically one
// with command-line flags bound.
func LoadConfigWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ojs-jobrunner")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.DB.Type {
	case "", "dryrun", "sqlite3", "sqlite", "mysql", "pgx", "postgres", "postgresql":
	default:
		return fmt.Errorf("db.type %q is not supported", c.DB.Type)
	}
	if !c.DB.DryRun() && c.DB.Conn == "" {
		return fmt.Errorf("db.conn is required for db.type %q", c.DB.Type)
	}
	if c.Scheduler.PoolSize < 1 {
		return fmt.Errorf("scheduler.pool_size must be positive, got %d", c.Scheduler.PoolSize)
	}
	if c.Scheduler.MaxBatch < 0 {
		return fmt.Errorf("scheduler.max_batch must not be negative, got %d", c.Scheduler.MaxBatch)
	}
	if c.Watch && c.Script == "" {
		return errors.New("watch requires script")
	}
	for i, b := range c.Subscriptions {
		if b.Name == "" || b.Handler == "" {
			return fmt.Errorf("subscriptions[%d]: name and handler are required", i)
		}
	}
	for i, b := range c.Crons {
		if b.Name == "" || b.Handler == "" || b.Spec == "" {
			return fmt.Errorf("crons[%d]: name, spec and handler are required", i)
		}
	}
	return nil
}
