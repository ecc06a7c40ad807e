package peer

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config controls a peer. Times are in seconds to match the transport's
// clock representation.
type Config struct {
	BindHost string `yaml:"bind_host"`
	Port     int    `yaml:"port"`

	// ConnectionTimeout is how long a connection survives without a
	// ping or pong from the remote peer before it is dropped.
	ConnectionTimeout float64 `yaml:"connection_timeout"`
	// PingInterval is the keep-alive period.
	PingInterval float64 `yaml:"ping_interval"`
	// MaxHandshakeAttempts bounds connect-request retransmissions.
	MaxHandshakeAttempts int `yaml:"max_handshake_attempts"`

	ReceiveBufferSize   datasize.ByteSize `yaml:"receive_buffer_size"`
	IncomingQueueLength int               `yaml:"incoming_queue_length"`

	// MetricsEndpoint, when set, is the host:port the demo binary
	// serves Prometheus metrics on.
	MetricsEndpoint string `yaml:"metrics_endpoint"`

	enabledKinds IncomingKind
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		BindHost:             "0.0.0.0",
		Port:                 14242,
		ConnectionTimeout:    25,
		PingInterval:         4,
		MaxHandshakeAttempts: 5,
		ReceiveBufferSize:    128 * datasize.KB,
		IncomingQueueLength:  512,
	}
	cfg.EnableMessageKind(KindData | KindStatusChanged | KindUnconnectedData |
		KindWarningMessage | KindErrorMessage)
	return cfg
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// EnableMessageKind marks kinds for delivery to the host.
func (c *Config) EnableMessageKind(kind IncomingKind) {
	c.enabledKinds |= kind
}

// DisableMessageKind stops kinds from reaching the host; the transport
// recycles them instead.
func (c *Config) DisableMessageKind(kind IncomingKind) {
	c.enabledKinds &^= kind
}

// IsKindEnabled reports whether the host wants messages of this kind.
func (c *Config) IsKindEnabled(kind IncomingKind) bool {
	return c.enabledKinds&kind != 0
}
