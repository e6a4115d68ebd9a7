// Package config loads process settings from defaults, the environment and
// an optional JSON file.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "ROOMCAST_"

// Config is the complete process configuration.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Hub       *HubConfig       `json:"hub"`
	Journal   *JournalConfig   `json:"journal"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	Path            string        `json:"path"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// HubConfig sizes the run loop's signal queue.
type HubConfig struct {
	QueueSize int `json:"queue_size"`
}

// JournalConfig controls the lifecycle journal. A disabled journal records
// nothing.
type JournalConfig struct {
	Enabled    bool          `json:"enabled"`
	Path       string        `json:"path"`
	BufferSize int           `json:"buffer_size"`
	Timeout    time.Duration `json:"timeout"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			Path:            "/ws",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 1 << 20,
		},
		Hub: &HubConfig{
			QueueSize: 1024,
		},
		Journal: &JournalConfig{
			Enabled:    true,
			Path:       "./data/roomcast.db",
			BufferSize: 256,
			Timeout:    time.Hour,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"json": true, "console": true}
)

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if !strings.HasPrefix(c.HTTP.Path, "/") {
		return errors.New("HTTP path must start with /")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Hub == nil {
		return errors.New("hub configuration is required")
	}
	if c.Hub.QueueSize <= 0 {
		return errors.New("hub queue size must be positive")
	}

	if c.Journal == nil {
		return errors.New("journal configuration is required")
	}
	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			return errors.New("journal path cannot be empty")
		}
		if c.Journal.BufferSize <= 0 {
			return errors.New("journal buffer size must be positive")
		}
		if c.Journal.Timeout <= 0 {
			return errors.New("journal timeout must be positive")
		}
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	if !validLevels[c.Log.Level] {
		return errors.Errorf("log level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if !validFormats[c.Log.Format] {
		return errors.Errorf("log format %q is not one of json, console", c.Log.Format)
	}
	return nil
}

// LoadFromEnv applies ROOMCAST_* variables over the defaults. Unparseable
// values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envInt("HTTP_PORT", &c.HTTP.Port)
	envString("HTTP_HOST", &c.HTTP.Host)
	envString("HTTP_PATH", &c.HTTP.Path)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	if v := os.Getenv(EnvPrefix + "WEBSOCKET_MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.WebSocket.MaxMessageSize = n
		}
	}

	envInt("HUB_QUEUE_SIZE", &c.Hub.QueueSize)

	envBool("JOURNAL_ENABLED", &c.Journal.Enabled)
	envString("JOURNAL_PATH", &c.Journal.Path)
	envInt("JOURNAL_BUFFER_SIZE", &c.Journal.BufferSize)
	envDuration("JOURNAL_TIMEOUT", &c.Journal.Timeout)

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile is the JSON shape of a config file; durations are strings such
// as "30s".
type ConfigFile struct {
	HTTP *struct {
		Port            int    `json:"port"`
		Host            string `json:"host"`
		Path            string `json:"path"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string `json:"ping_interval"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
		BufferSize     int    `json:"buffer_size"`
		MaxMessageSize int64  `json:"max_message_size"`
	} `json:"websocket"`
	Hub *struct {
		QueueSize int `json:"queue_size"`
	} `json:"hub"`
	Journal *struct {
		Enabled    *bool  `json:"enabled"`
		Path       string `json:"path"`
		BufferSize int    `json:"buffer_size"`
		Timeout    string `json:"timeout"`
	} `json:"journal"`
	Log *struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// LoadFromFile reads a JSON config file over the defaults and validates the
// result.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration in %s", path)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}

	var durations []durationField
	if f := file.HTTP; f != nil {
		setInt(&c.HTTP.Port, f.Port)
		setString(&c.HTTP.Host, f.Host)
		setString(&c.HTTP.Path, f.Path)
		durations = append(durations,
			durationField{"http.read_timeout", f.ReadTimeout, &c.HTTP.ReadTimeout},
			durationField{"http.write_timeout", f.WriteTimeout, &c.HTTP.WriteTimeout},
			durationField{"http.shutdown_timeout", f.ShutdownTimeout, &c.HTTP.ShutdownTimeout},
		)
	}
	if f := file.WebSocket; f != nil {
		setInt(&c.WebSocket.BufferSize, f.BufferSize)
		if f.MaxMessageSize > 0 {
			c.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		durations = append(durations,
			durationField{"websocket.ping_interval", f.PingInterval, &c.WebSocket.PingInterval},
			durationField{"websocket.read_timeout", f.ReadTimeout, &c.WebSocket.ReadTimeout},
			durationField{"websocket.write_timeout", f.WriteTimeout, &c.WebSocket.WriteTimeout},
		)
	}
	if f := file.Hub; f != nil {
		setInt(&c.Hub.QueueSize, f.QueueSize)
	}
	if f := file.Journal; f != nil {
		if f.Enabled != nil {
			c.Journal.Enabled = *f.Enabled
		}
		setString(&c.Journal.Path, f.Path)
		setInt(&c.Journal.BufferSize, f.BufferSize)
		durations = append(durations, durationField{"journal.timeout", f.Timeout, &c.Journal.Timeout})
	}
	if f := file.Log; f != nil {
		setString(&c.Log.Level, f.Level)
		setString(&c.Log.Format, f.Format)
	}

	for _, d := range durations {
		if err := d.apply(); err != nil {
			return errors.Wrapf(err, "config file %s", path)
		}
	}
	return nil
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

func (d durationField) apply() error {
	if d.raw == "" {
		return nil
	}
	v, err := time.ParseDuration(d.raw)
	if err != nil {
		return errors.Wrapf(err, "field %s", d.name)
	}
	*d.dst = v
	return nil
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadConfigWithPrecedence layers file > environment > defaults. An empty
// path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return config, nil
}
