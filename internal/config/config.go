// Package config resolves settings from defaults, an optional YAML file, a
// .env file and LIBRIS_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"libris/internal/logging"
	"libris/internal/notify"
	"libris/internal/storage"
	"libris/internal/telemetry"
)

const EnvPrefix = "LIBRIS"

type Config struct {
	HTTP HTTP `mapstructure:"http"`
	DB   DB   `mapstructure:"db"`
	Auth Auth `mapstructure:"auth"`
	Log  Log  `mapstructure:"log"`
	AMQP AMQP `mapstructure:"amqp"`
	OTel OTel `mapstructure:"otel"`
	Seed Seed `mapstructure:"seed"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// DB selects the store of record. The sqlite driver is for development and
// demos: it uses one connection, so all storage calls are serialized. Per-book
// concurrency needs postgres or pgx.
type DB struct {
	Driver         string        `mapstructure:"driver"`
	DSN            string        `mapstructure:"dsn"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
}

type Auth struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

type AMQP struct {
	URL       string `mapstructure:"url"`
	Exchange  string `mapstructure:"exchange"`
	QueueSize int    `mapstructure:"queue_size"`
}

type OTel struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Insecure       bool          `mapstructure:"insecure"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
}

type Seed struct {
	File string `mapstructure:"file"`
}

// Load reads the configuration. path may be empty; LIBRIS_CONFIG is used then,
// and a missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.rate_burst", 40)

	v.SetDefault("db.driver", storage.DriverSQLite)
	v.SetDefault("db.dsn", "file:libris.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	v.SetDefault("db.timeout", 5*time.Second)
	v.SetDefault("db.connect_timeout", 30*time.Second)
	v.SetDefault("db.max_open_conns", 25)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "libris.borrows")
	v.SetDefault("amqp.queue_size", 256)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 1.0)
	v.SetDefault("otel.metric_interval", 30*time.Second)

	v.SetDefault("seed.file", "")
}

func (c *Config) Storage() storage.Config {
	return storage.Config{
		Driver:         c.DB.Driver,
		DSN:            c.DB.DSN,
		Timeout:        c.DB.Timeout,
		ConnectTimeout: c.DB.ConnectTimeout,
		MaxOpenConns:   c.DB.MaxOpenConns,
	}
}

func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Pretty: c.Log.Pretty, File: c.Log.File}
}

func (c *Config) Notify() notify.Config {
	return notify.Config{URL: c.AMQP.URL, Exchange: c.AMQP.Exchange, QueueSize: c.AMQP.QueueSize}
}

func (c *Config) Telemetry() telemetry.Config {
	return telemetry.Config{
		Endpoint:       c.OTel.Endpoint,
		Insecure:       c.OTel.Insecure,
		ServiceName:    "libris",
		SampleRatio:    c.OTel.SampleRatio,
		MetricInterval: c.OTel.MetricInterval,
	}
}
