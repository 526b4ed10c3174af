package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig carries the default bounds for capture sessions.
type CaptureConfig struct {
	Interface     string `yaml:"interface"`
	PacketCount   int    `yaml:"packet_count"` // 0 = unbounded
	DisplayFilter string `yaml:"display_filter"`
	TimeoutSec    int    `yaml:"timeout"` // seconds
	SnapshotLen   int32  `yaml:"snapshot_len"`
	Promiscuous   bool   `yaml:"promiscuous"`
}

// Timeout returns the session timeout as a duration.
func (c CaptureConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// APIConfig holds the settings for the REST control server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ProbeConfig holds the NATS streaming settings.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds the connection settings for record persistence.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StorageConfig enables and configures the record sink.
type StorageConfig struct {
	Enabled    bool             `yaml:"enabled"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	API     APIConfig     `yaml:"api"`
	Probe   ProbeConfig   `yaml:"probe"`
	Storage StorageConfig `yaml:"storage"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			PacketCount: 0,
			TimeoutSec:  300,
			SnapshotLen: 65536,
			Promiscuous: true,
		},
		API:   APIConfig{ListenAddr: "127.0.0.1:8000"},
		Probe: ProbeConfig{NATSURL: "nats://127.0.0.1:4222", Subject: "packetlens.records"},
		Storage: StorageConfig{
			ClickHouse: ClickHouseConfig{Host: "127.0.0.1", Port: 9000, Database: "default"},
		},
	}
}
