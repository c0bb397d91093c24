package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.fylachat/config.toml.
type Config struct {
	// HubURL is the websocket endpoint of the chat hub.
	HubURL string `toml:"hub_url"`
	// APIURL is the base URL of the REST API.
	APIURL string `toml:"api_url"`
	// ReconnectDelayMS is the fixed delay between connect retries.
	ReconnectDelayMS int `toml:"reconnect_delay_ms"`
	// TypingIdleMS is the idle window before a stop-typing signal is sent.
	TypingIdleMS int `toml:"typing_idle_ms"`
	// EchoWindowMS is the timestamp window for matching a server echo
	// against an optimistic local message.
	EchoWindowMS int `toml:"echo_window_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HubURL:           "wss://api.fyla.app/hubs/chat",
		APIURL:           "https://api.fyla.app",
		ReconnectDelayMS: 5000,
		TypingIdleMS:     2000,
		EchoWindowMS:     5000,
	}
}

// ReconnectDelay returns the retry delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// TypingIdle returns the typing idle window as a duration.
func (c *Config) TypingIdle() time.Duration {
	return time.Duration(c.TypingIdleMS) * time.Millisecond
}

// Load reads config from the given path, filling unset tunables with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelayMS <= 0 {
		cfg.ReconnectDelayMS = Default().ReconnectDelayMS
	}
	if cfg.TypingIdleMS <= 0 {
		cfg.TypingIdleMS = Default().TypingIdleMS
	}
	if cfg.EchoWindowMS <= 0 {
		cfg.EchoWindowMS = Default().EchoWindowMS
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
