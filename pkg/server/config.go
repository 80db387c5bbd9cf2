package server

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sugawarayuuta/sonnet"
)

// Identity derivation algorithms accepted by Config.ConnectionIDAlgo.
const (
	AlgoBlake2b = "blake2b"
	AlgoSHA256  = "sha256"
)

// defaultIDSecret keys identity derivation when a deployment does not set
// its own. Deployments must override it: connection ids are only as
// unguessable as this secret.
const defaultIDSecret = "wsockd-dev-only-secret"

// Config holds the per-connection options recognized by this package.
//
// Use NewConfig for defaults, then adjust fields and call Validate, or decode
// a deployment's JSON with ParseConfig.
type Config struct {
	// TimeoutSocketSeconds bounds each blocking read/write syscall.
	//
	// Defaults to 5.
	TimeoutSocketSeconds int `json:"timeout_socket" validate:"gte=1"`
	// TimeoutConnectSeconds bounds outbound connection establishment. Only
	// client-role sockets use it.
	//
	// Defaults to 2.
	TimeoutConnectSeconds int `json:"timeout_connect" validate:"gte=1"`
	// ReadBufferSize is the initial receive chunk size in bytes.
	//
	// Defaults to 1400.
	ReadBufferSize int `json:"read_buffer_size" validate:"gte=1"`
	// ConnectionIDSecret keys the one-way hash behind connection ids. Keep
	// it confidential and stable per deployment.
	ConnectionIDSecret string `json:"connection_id_secret" validate:"required,min=8"`
	// ConnectionIDAlgo selects the keyed hash: blake2b or sha256 (HMAC).
	//
	// Defaults to blake2b.
	ConnectionIDAlgo string `json:"connection_id_algo" validate:"oneof=blake2b sha256"`
}

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		TimeoutSocketSeconds:  5,
		TimeoutConnectSeconds: 2,
		ReadBufferSize:        1400,
		ConnectionIDSecret:    defaultIDSecret,
		ConnectionIDAlgo:      AlgoBlake2b,
	}
}

// ParseConfig decodes JSON over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := sonnet.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. Assert the returned error to
// validator.ValidationErrors for field-level detail.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("server: invalid config: %w", err)
	}
	return nil
}

// SocketTimeout returns TimeoutSocketSeconds as a duration.
func (c *Config) SocketTimeout() time.Duration {
	return time.Duration(c.TimeoutSocketSeconds) * time.Second
}

// ConnectTimeout returns TimeoutConnectSeconds as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.TimeoutConnectSeconds) * time.Second
}
