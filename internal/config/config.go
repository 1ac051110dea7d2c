// Package config loads the daemon configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"SimFed/internal/channel"
	"SimFed/internal/forwarder"
)

// Config is the root of the configuration file.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // LogLevel is one of debug, info, warn, error
	RTI       RTIConfig       `yaml:"rti"`
	Channel   ChannelConfig   `yaml:"channel"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
}

// RTIConfig holds the settings of the rti command.
type RTIConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`   // ListenAddr is the QUIC hub address
	HTTPAddr     string        `yaml:"http_addr"`     // HTTPAddr serves health, status and metrics; empty disables it
	DataPath     string        `yaml:"data_path"`     // DataPath is the checkpoint database directory
	KeyPath      string        `yaml:"key_path"`      // KeyPath is the node identity key file
	SaveSettle   time.Duration `yaml:"save_settle"`   // SaveSettle is the restore request settle window
	TombstoneTTL time.Duration `yaml:"tombstone_ttl"` // TombstoneTTL is how long deleted handles are remembered
}

// ChannelConfig holds the protocol stack and worker settings shared by every channel.
type ChannelConfig struct {
	IncomingQueue     int           `yaml:"incoming_queue"`
	OutgoingQueue     int           `yaml:"outgoing_queue"`
	IncomingWorkers   int           `yaml:"incoming_workers"`
	OutgoingWorkers   int           `yaml:"outgoing_workers"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Filters           []string      `yaml:"filters"`            // Filters lists the protocol stack, outermost first
	PluginPaths       []string      `yaml:"plugin_paths"`       // PluginPaths lists wasm filter modules
	PluginGasLimit    uint64        `yaml:"plugin_gas_limit"`   // PluginGasLimit bounds each wasm filter call
	CompressThreshold int           `yaml:"compress_threshold"` // CompressThreshold is the smallest payload compressed
	DedupTTL          time.Duration `yaml:"dedup_ttl"`
}

// ForwarderConfig holds the settings of the forward command.
type ForwarderConfig struct {
	UpstreamAddr   string          `yaml:"upstream_addr"`   // UpstreamAddr is the hub to dial
	DownstreamAddr string          `yaml:"downstream_addr"` // DownstreamAddr is where local federates connect
	KeyPath        string          `yaml:"key_path"`
	QueueSize      int             `yaml:"queue_size"`
	Rules          forwarder.Rules `yaml:"rules"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		RTI: RTIConfig{
			ListenAddr:   "0.0.0.0:4700",
			HTTPAddr:     "127.0.0.1:4780",
			DataPath:     "./data",
			KeyPath:      "./rti.key",
			SaveSettle:   100 * time.Millisecond,
			TombstoneTTL: 30 * time.Second,
		},
		Channel: ChannelConfig{
			IncomingQueue:     1024,
			OutgoingQueue:     1024,
			IncomingWorkers:   1,
			OutgoingWorkers:   1,
			RequestTimeout:    5 * time.Second,
			Filters:           []string{"metrics"},
			PluginGasLimit:    1_000_000,
			CompressThreshold: 1024,
			DedupTTL:          5 * time.Second,
		},
		Forwarder: ForwarderConfig{
			DownstreamAddr: "0.0.0.0:4701",
			KeyPath:        "./forwarder.key",
			QueueSize:      1024,
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config:\n%w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s:\n%w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s:\n%w", path, err)
	}

	return cfg, nil
}

// Validate checks values a daemon cannot start with.
func (c Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	ch := c.Channel

	if ch.IncomingQueue <= 0 || ch.OutgoingQueue <= 0 {
		return errors.New("queue sizes must be positive")
	}

	if ch.IncomingWorkers <= 0 || ch.OutgoingWorkers <= 0 {
		return errors.New("worker counts must be positive")
	}

	if ch.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}

	wasm := false
	for _, name := range ch.Filters {
		if !channel.Known(name) {
			return fmt.Errorf("unknown filter %q", name)
		}

		wasm = wasm || name == "wasm"
	}

	if wasm && len(ch.PluginPaths) == 0 {
		return errors.New("wasm filter needs plugin_paths")
	}

	if c.RTI.SaveSettle < 0 {
		return errors.New("save settle window must not be negative")
	}

	return nil
}

// ChannelOptions converts the channel section for a named channel.
func (c Config) ChannelOptions(name string) channel.Options {
	ch := c.Channel

	return channel.Options{
		Name:              name,
		IncomingQueue:     ch.IncomingQueue,
		OutgoingQueue:     ch.OutgoingQueue,
		IncomingWorkers:   ch.IncomingWorkers,
		OutgoingWorkers:   ch.OutgoingWorkers,
		RequestTimeout:    ch.RequestTimeout,
		Filters:           append([]string(nil), ch.Filters...),
		PluginPaths:       append([]string(nil), ch.PluginPaths...),
		PluginGasLimit:    ch.PluginGasLimit,
		CompressThreshold: ch.CompressThreshold,
		DedupTTL:          ch.DedupTTL,
	}
}
