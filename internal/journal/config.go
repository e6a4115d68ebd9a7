package journal

import (
	"time"

	"github.com/pkg/errors"
)

// Config holds journal storage settings.
type Config struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	BufferSize      int           `json:"buffer_size"`
}

// DefaultConfig suits a single-node deployment.
func DefaultConfig() Config {
	return Config{
		Path:            "./data/roomcast.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		BufferSize:      256,
	}
}

func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("journal path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.BufferSize <= 0 {
		return errors.New("buffer size must be greater than 0")
	}
	return nil
}
