// Package config provides configuration management for the miner.
// Values are layered: defaults, then an optional TOML file, then environment
// variables, then command-line flags applied by the caller.
package config

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/bardlex/gompminer/pkg/errors"
)

// Config holds the miner configuration
type Config struct {
	// Service identification
	ServiceName string `toml:"service_name"`
	Version     string `toml:"-"`

	// Pool connection
	PoolURL           string        `toml:"url"`
	PoolHost          string        `toml:"-"`
	PoolPort          int           `toml:"-"`
	Username          string        `toml:"user"`
	Password          string        `toml:"password"`
	UserAgent         string        `toml:"user_agent"`
	DialTimeout       time.Duration `toml:"dial_timeout"`
	DialAttempts      int           `toml:"dial_attempts"`
	KeepaliveInterval time.Duration `toml:"keepalive_interval"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	MaxLineSize       int           `toml:"max_line_size"`

	// Mining
	Threads       int     `toml:"threads"`
	BatchSize     int     `toml:"batch_size"`
	UseSIMD       bool    `toml:"use_simd"`
	QueueCapacity int     `toml:"queue_capacity"`
	SubmitRate    float64 `toml:"submit_rate"`
	SubmitBurst   int     `toml:"submit_burst"`
	// MaxTimeSkew discards found shares whose ntime is further ahead of the
	// local clock. Zero disables the check.
	MaxTimeSkew time.Duration `toml:"max_time_skew"`

	// Reporting
	StatsInterval time.Duration `toml:"stats_interval"`
	StatusAddr    string        `toml:"status_addr"`

	// Optional sinks; empty disables them
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	PostgresURL  string   `toml:"postgres_url"`
	RedisURL     string   `toml:"redis_url"`
	InfluxURL    string   `toml:"influx_url"`
	InfluxToken  string   `toml:"influx_token"`
	InfluxOrg    string   `toml:"influx_org"`
	InfluxBucket string   `toml:"influx_bucket"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ServiceName: "gompminer",
		Version:     "dev",

		UserAgent:         "gompminer/1.0",
		DialTimeout:       10 * time.Second,
		DialAttempts:      3,
		KeepaliveInterval: 45 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxLineSize:       16 * 1024,

		Threads:       runtime.NumCPU(),
		BatchSize:     4096,
		QueueCapacity: 16,
		SubmitRate:    10,
		SubmitBurst:   20,
		MaxTimeSkew:   2 * time.Hour,

		StatsInterval: 60 * time.Second,

		KafkaTopic:   "miner.shares",
		InfluxOrg:    "gompminer",
		InfluxBucket: "mining",

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds a configuration from defaults, the TOML file at path (if not
// empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the values present in a TOML file. The file may use a
// [pool] table or top-level keys.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "load_config", "cannot read config file").
			WithContext("path", path)
	}

	tree, err := toml.LoadBytes(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "load_config", "invalid TOML").
			WithContext("path", path)
	}

	if err := overlay(tree, c); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "load_config", "invalid config value").
			WithContext("path", path)
	}
	for _, table := range []string{"pool", "miner", "reporting", "log"} {
		sub, ok := tree.Get(table).(*toml.Tree)
		if !ok {
			continue
		}
		if err := overlay(sub, c); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "load_config", "invalid config value").
				WithContext("path", path).WithContext("table", table)
		}
	}
	return nil
}

// overlay unmarshals tree onto c, touching only keys present in the tree.
func overlay(tree *toml.Tree, c *Config) error {
	var f fileConfig
	if err := tree.Unmarshal(&f); err != nil {
		return err
	}
	f.apply(c)
	return nil
}

// fileConfig mirrors Config with pointers so absent keys keep their values.
type fileConfig struct {
	ServiceName       *string  `toml:"service_name"`
	PoolURL           *string  `toml:"url"`
	Username          *string  `toml:"user"`
	Password          *string  `toml:"password"`
	UserAgent         *string  `toml:"user_agent"`
	DialTimeout       *string  `toml:"dial_timeout"`
	DialAttempts      *int64   `toml:"dial_attempts"`
	KeepaliveInterval *string  `toml:"keepalive_interval"`
	ReadTimeout       *string  `toml:"read_timeout"`
	WriteTimeout      *string  `toml:"write_timeout"`
	MaxLineSize       *int64   `toml:"max_line_size"`
	Threads           *int64   `toml:"threads"`
	BatchSize         *int64   `toml:"batch_size"`
	UseSIMD           *bool    `toml:"use_simd"`
	QueueCapacity     *int64   `toml:"queue_capacity"`
	SubmitRate        *float64 `toml:"submit_rate"`
	SubmitBurst       *int64   `toml:"submit_burst"`
	MaxTimeSkew       *string  `toml:"max_time_skew"`
	StatsInterval     *string  `toml:"stats_interval"`
	StatusAddr        *string  `toml:"status_addr"`
	KafkaBrokers      []string `toml:"kafka_brokers"`
	KafkaTopic        *string  `toml:"kafka_topic"`
	PostgresURL       *string  `toml:"postgres_url"`
	RedisURL          *string  `toml:"redis_url"`
	InfluxURL         *string  `toml:"influx_url"`
	InfluxToken       *string  `toml:"influx_token"`
	InfluxOrg         *string  `toml:"influx_org"`
	InfluxBucket      *string  `toml:"influx_bucket"`
	LogLevel          *string  `toml:"log_level"`
	LogFormat         *string  `toml:"log_format"`
}

func (f *fileConfig) apply(c *Config) {
	setString(&c.ServiceName, f.ServiceName)
	setString(&c.PoolURL, f.PoolURL)
	setString(&c.Username, f.Username)
	setString(&c.Password, f.Password)
	setString(&c.UserAgent, f.UserAgent)
	setDuration(&c.DialTimeout, f.DialTimeout)
	setInt(&c.DialAttempts, f.DialAttempts)
	setDuration(&c.KeepaliveInterval, f.KeepaliveInterval)
	setDuration(&c.ReadTimeout, f.ReadTimeout)
	setDuration(&c.WriteTimeout, f.WriteTimeout)
	setInt(&c.MaxLineSize, f.MaxLineSize)
	setInt(&c.Threads, f.Threads)
	setInt(&c.BatchSize, f.BatchSize)
	if f.UseSIMD != nil {
		c.UseSIMD = *f.UseSIMD
	}
	setInt(&c.QueueCapacity, f.QueueCapacity)
	if f.SubmitRate != nil {
		c.SubmitRate = *f.SubmitRate
	}
	setInt(&c.SubmitBurst, f.SubmitBurst)
	setDuration(&c.MaxTimeSkew, f.MaxTimeSkew)
	setDuration(&c.StatsInterval, f.StatsInterval)
	setString(&c.StatusAddr, f.StatusAddr)
	if len(f.KafkaBrokers) > 0 {
		c.KafkaBrokers = f.KafkaBrokers
	}
	setString(&c.KafkaTopic, f.KafkaTopic)
	setString(&c.PostgresURL, f.PostgresURL)
	setString(&c.RedisURL, f.RedisURL)
	setString(&c.InfluxURL, f.InfluxURL)
	setString(&c.InfluxToken, f.InfluxToken)
	setString(&c.InfluxOrg, f.InfluxOrg)
	setString(&c.InfluxBucket, f.InfluxBucket)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int64) {
	if v != nil {
		*dst = int(*v)
	}
}

// setDuration ignores unparsable values; Validate catches the result.
func setDuration(dst *time.Duration, v *string) {
	if v == nil {
		return
	}
	if d, err := time.ParseDuration(*v); err == nil {
		*dst = d
	}
}

// ApplyEnv overlays environment variables.
func (c *Config) ApplyEnv() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.Version = getEnv("VERSION", c.Version)

	c.PoolURL = getEnv("STRATUM_URL", c.PoolURL)
	c.Username = getEnv("STRATUM_USER", c.Username)
	c.Password = getEnv("STRATUM_PASSWORD", c.Password)
	c.UserAgent = getEnv("STRATUM_USER_AGENT", c.UserAgent)
	c.DialTimeout = getEnvDuration("STRATUM_DIAL_TIMEOUT", c.DialTimeout)
	c.DialAttempts = getEnvInt("STRATUM_DIAL_ATTEMPTS", c.DialAttempts)
	c.KeepaliveInterval = getEnvDuration("STRATUM_KEEPALIVE_INTERVAL", c.KeepaliveInterval)
	c.ReadTimeout = getEnvDuration("STRATUM_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("STRATUM_WRITE_TIMEOUT", c.WriteTimeout)
	c.MaxLineSize = getEnvInt("STRATUM_MAX_LINE_SIZE", c.MaxLineSize)

	c.Threads = getEnvInt("MINER_THREADS", c.Threads)
	c.BatchSize = getEnvInt("MINER_BATCH_SIZE", c.BatchSize)
	c.UseSIMD = getEnvBool("MINER_USE_SIMD", c.UseSIMD)
	c.QueueCapacity = getEnvInt("MINER_QUEUE_CAPACITY", c.QueueCapacity)
	c.SubmitRate = getEnvFloat("MINER_SUBMIT_RATE", c.SubmitRate)
	c.SubmitBurst = getEnvInt("MINER_SUBMIT_BURST", c.SubmitBurst)
	c.MaxTimeSkew = getEnvDuration("MINER_MAX_TIME_SKEW", c.MaxTimeSkew)

	c.StatsInterval = getEnvDuration("STATS_INTERVAL", c.StatsInterval)
	c.StatusAddr = getEnv("STATUS_ADDR", c.StatusAddr)

	c.KafkaBrokers = getEnvSlice("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.PostgresURL = getEnv("POSTGRES_URL", c.PostgresURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.InfluxURL = getEnv("INFLUX_URL", c.InfluxURL)
	c.InfluxToken = getEnv("INFLUX_TOKEN", c.InfluxToken)
	c.InfluxOrg = getEnv("INFLUX_ORG", c.InfluxOrg)
	c.InfluxBucket = getEnv("INFLUX_BUCKET", c.InfluxBucket)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Finalize resolves the pool URL into host and port and validates the result.
func (c *Config) Finalize() error {
	if c.PoolURL == "" {
		return errors.New(errors.ErrorTypeValidation, "config", "pool URL is required")
	}
	host, port, err := ParsePoolURL(c.PoolURL)
	if err != nil {
		return err
	}
	c.PoolHost, c.PoolPort = host, port
	return c.validate()
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	fail := func(msg string) error {
		return errors.New(errors.ErrorTypeValidation, "config", msg)
	}

	switch {
	case c.PoolHost == "":
		return fail("pool host is required")
	case c.PoolPort <= 0 || c.PoolPort > 65535:
		return fail("pool port must be between 1 and 65535")
	case c.Username == "":
		return fail("username is required")
	case c.Password == "":
		return fail("password is required")
	case c.Threads < 1:
		return fail("threads must be at least 1")
	case c.BatchSize < 1:
		return fail("batch size must be at least 1")
	case c.KeepaliveInterval <= 0:
		return fail("keepalive interval must be positive")
	case c.DialTimeout <= 0:
		return fail("dial timeout must be positive")
	case c.MaxLineSize < 256:
		return fail("max line size must be at least 256 bytes")
	case c.SubmitRate <= 0 || c.SubmitBurst < 1:
		return fail("submit rate and burst must be positive")
	case c.MaxTimeSkew < 0:
		return fail("max time skew must not be negative")
	case c.StatsInterval <= 0:
		return fail("stats interval must be positive")
	}
	return nil
}

// PoolAddr returns host:port.
func (c *Config) PoolAddr() string {
	return net.JoinHostPort(c.PoolHost, strconv.Itoa(c.PoolPort))
}

// ParsePoolURL accepts host:port with an optional stratum+tcp://, tcp:// or
// http:// prefix.
func ParsePoolURL(raw string) (string, int, error) {
	addr := strings.TrimSpace(raw)
	for _, prefix := range []string{"stratum+tcp://", "tcp://", "http://"} {
		if strings.HasPrefix(strings.ToLower(addr), prefix) {
			addr = addr[len(prefix):]
			break
		}
	}
	addr = strings.TrimSuffix(addr, "/")

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, errors.Wrap(err, errors.ErrorTypeValidation, "parse_url", "pool URL must be host:port").
			WithContext("url", raw)
	}
	if host == "" {
		return "", 0, errors.New(errors.ErrorTypeValidation, "parse_url", "pool URL has no host").
			WithContext("url", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, errors.New(errors.ErrorTypeValidation, "parse_url", fmt.Sprintf("invalid port %q", portStr)).
			WithContext("url", raw)
	}
	return host, port, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
