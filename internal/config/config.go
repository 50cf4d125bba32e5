package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds pfnetmond's ambient CLI/daemon knobs, loaded from an
// optional JSON file and overlaid with built-in defaults — adapted
// from the teacher's internal/config.Config, with its route-switching
// fields replaced by NetMonitor's own tunables (spec.md §4).
type Config struct {
	LogLevel   string `json:"log_level"`
	SilentMode bool   `json:"silent_mode"`
	DaemonMode bool   `json:"daemon_mode"`

	// PoolSize is a goroutine-pool capacity setting. It is validated
	// and saved, but the daemon does not pass it to the NetMonitor core,
	// which creates its own pool of capacity 4 for the event
	// dispatcher's reader task and the roam scheduler.
	PoolSize int `json:"pool_size"`

	// QueryTimeout is a route-get (get_source_addr / get_nexthop) wait
	// setting. It is validated and saved, but the NetMonitor core does
	// not read it and uses its own fixed 5 s bound.
	QueryTimeout time.Duration `json:"query_timeout"`

	// VIPWaitTimeout is an add_ip/del_ip wait setting. It is validated
	// and saved, but the NetMonitor core does not read it and uses its
	// own fixed 5 s bound.
	VIPWaitTimeout time.Duration `json:"vip_wait_timeout"`

	PIDFile string `json:"pid_file"`
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:       "info",
		SilentMode:     false,
		DaemonMode:     false,
		PoolSize:       4,
		QueryTimeout:   5 * time.Second,
		VIPWaitTimeout: 5 * time.Second,
		PIDFile:        "/var/run/pfnetmond.pid",
	}
}

func LoadConfig(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}

	if c.QueryTimeout < time.Second {
		return fmt.Errorf("query_timeout must be at least 1 second")
	}

	if c.VIPWaitTimeout < time.Second {
		return fmt.Errorf("vip_wait_timeout must be at least 1 second")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	return nil
}

func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
