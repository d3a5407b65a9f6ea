// Package config loads YAML configuration for the chatstream tools.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Connection ConnectionConfig `yaml:"connection"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServiceConfig identifies the remote chat-completion service.
type ServiceConfig struct {
	BaseURL       string `yaml:"base_url"`       // e.g. https://api.example.com
	Credential    string `yaml:"credential"`     // bearer credential; supports ${VAR} expansion
	IntegrationID string `yaml:"integration_id"` // integration identifier header value
}

// ConnectionConfig holds per-connection transport settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	EventBufferSize  int           `yaml:"event_buffer_size"`
}

// TranscriptConfig holds the optional event transcript recorder settings.
type TranscriptConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
