package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"thpool/internal/logger"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Pool   PoolConfig   `yaml:"pool" json:"pool"`
	Demo   DemoConfig   `yaml:"demo" json:"demo"`
	Log    LogConfig    `yaml:"log" json:"log"`
	Server ServerConfig `yaml:"server" json:"server"`
}

// PoolConfig はワーカープール設定
type PoolConfig struct {
	Workers        *int `yaml:"workers" json:"workers"` // 0 も有効なので未指定と区別する
	LatencySamples int  `yaml:"latency_samples" json:"latency_samples"`
	EventBuffer    int  `yaml:"event_buffer" json:"event_buffer"`
}

// DemoConfig はデモ負荷の設定
type DemoConfig struct {
	Jobs        int    `yaml:"jobs" json:"jobs"`
	Producers   int    `yaml:"producers" json:"producers"`
	JobDuration string `yaml:"job_duration" json:"job_duration"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// ServerConfig は診断サーバー設定
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// Settings は解決済みの実行設定
type Settings struct {
	Workers        int
	LatencySamples int
	EventBuffer    int

	Jobs        int
	Producers   int
	JobDuration time.Duration

	LogLevel logger.Level

	ServerEnabled bool
	ServerAddr    string
}

// DefaultSettings はデフォルト設定を返す
func DefaultSettings() Settings {
	return Settings{
		Workers:        4,
		LatencySamples: 1000,
		EventBuffer:    100,
		Jobs:           40,
		Producers:      1,
		JobDuration:    10 * time.Millisecond,
		LogLevel:       logger.LevelInfo,
		ServerEnabled:  false,
		ServerAddr:     ":8080",
	}
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToSettings は FileConfig を Settings に変換する。
// 未指定の項目はデフォルト値のまま
func (f *FileConfig) ToSettings() (Settings, error) {
	settings := DefaultSettings()

	// Pool設定
	if f.Pool.Workers != nil {
		settings.Workers = *f.Pool.Workers
	}
	if f.Pool.LatencySamples > 0 {
		settings.LatencySamples = f.Pool.LatencySamples
	}
	if f.Pool.EventBuffer > 0 {
		settings.EventBuffer = f.Pool.EventBuffer
	}

	// Demo設定
	if f.Demo.Jobs > 0 {
		settings.Jobs = f.Demo.Jobs
	}
	if f.Demo.Producers > 0 {
		settings.Producers = f.Demo.Producers
	}
	if f.Demo.JobDuration != "" {
		d, err := time.ParseDuration(f.Demo.JobDuration)
		if err != nil {
			return settings, fmt.Errorf("invalid job duration: %w", err)
		}
		settings.JobDuration = d
	}

	// Log設定
	if f.Log.Level != "" {
		level, err := logger.ParseLevel(f.Log.Level)
		if err != nil {
			return settings, err
		}
		settings.LogLevel = level
	}

	// Server設定
	settings.ServerEnabled = f.Server.Enabled
	if f.Server.Addr != "" {
		settings.ServerAddr = f.Server.Addr
	}

	return settings, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.Workers != nil && *f.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be non-negative")
	}

	if f.Pool.LatencySamples < 0 {
		return fmt.Errorf("pool.latency_samples must be non-negative")
	}

	if f.Pool.EventBuffer < 0 {
		return fmt.Errorf("pool.event_buffer must be non-negative")
	}

	if f.Demo.Jobs < 0 {
		return fmt.Errorf("demo.jobs must be non-negative")
	}

	if f.Demo.Producers < 0 {
		return fmt.Errorf("demo.producers must be non-negative")
	}

	return nil
}
