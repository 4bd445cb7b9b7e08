package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Config contains server configuration
type Config struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxRequestSize  int64         `json:"max_request_size" mapstructure:"max_request_size"`
	// RequestTimeout bounds one rollout request
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	EnableCORS     bool          `json:"enable_cors" mapstructure:"enable_cors"`
}

// NewDefaultConfig returns the default server configuration
func NewDefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultPort,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		MaxRequestSize:  constants.MaxRequestSize,
		RequestTimeout:  constants.DefaultRequestTimeout,
	}
}

// Validate checks the server configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, fmt.Sprintf("invalid port %d", c.Port))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 || c.ShutdownTimeout < 0 || c.RequestTimeout < 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "timeouts must not be negative")
	}
	if c.MaxRequestSize <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "max request size must be positive")
	}
	return nil
}

// GetAddress returns host:port
func (c *Config) GetAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
