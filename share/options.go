package rtshare

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options holds the tunables shared by every proxy in the process
type Options struct {
	// SocketTimeout bounds connect and each read on relayed sockets
	SocketTimeout time.Duration `yaml:"socket_timeout"`

	// AcceptTimeout is how often the accept loop wakes up to check for stop requests
	AcceptTimeout time.Duration `yaml:"accept_timeout"`

	// ServerJoinTimeout is how long a graceful server stop waits for the accept loop
	ServerJoinTimeout time.Duration `yaml:"server_join_timeout"`

	// PumpJoinTimeout is how long a graceful pump stop waits for its relay loop
	PumpJoinTimeout time.Duration `yaml:"pump_join_timeout"`

	// ListenHost is the address proxies bind to
	ListenHost string `yaml:"listen_host"`

	LogLevel LogLevel `yaml:"log_level"`

	// UIDTable is an optional yaml file of known serialVersionUIDs
	UIDTable string `yaml:"uid_table"`
}

// DefaultOptions returns the built-in configuration
func DefaultOptions() *Options {
	return &Options{
		SocketTimeout:     5 * time.Second,
		AcceptTimeout:     100 * time.Millisecond,
		ServerJoinTimeout: 300 * time.Millisecond,
		PumpJoinTimeout:   5300 * time.Millisecond,
		ListenHost:        "127.0.0.1",
		LogLevel:          LogLevelInfo,
	}
}

// ParseOptions overlays yaml-encoded settings on top of DefaultOptions
func ParseOptions(data []byte) (*Options, error) {
	opts := DefaultOptions()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(opts); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// LoadOptions reads a yaml options file. An empty path yields DefaultOptions.
func LoadOptions(path string) (*Options, error) {
	if path == "" {
		return DefaultOptions(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read options file: %w", err)
	}
	return ParseOptions(data)
}

// Validate rejects settings that would make proxies spin or hang
func (o *Options) Validate() error {
	if o.SocketTimeout <= 0 {
		return fmt.Errorf("socket_timeout must be positive, got %s", o.SocketTimeout)
	}
	if o.AcceptTimeout <= 0 {
		return fmt.Errorf("accept_timeout must be positive, got %s", o.AcceptTimeout)
	}
	if o.ServerJoinTimeout < 0 || o.PumpJoinTimeout < 0 {
		return fmt.Errorf("join timeouts must not be negative")
	}
	if o.ListenHost == "" {
		return fmt.Errorf("listen_host must not be empty")
	}
	return nil
}
