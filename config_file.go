package mqttclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values read by LoadConfig.
const (
	EnvHost     = "MQTTCLIENT_HOST"
	EnvClientID = "MQTTCLIENT_CLIENT_ID"
	EnvUsername = "MQTTCLIENT_USERNAME"
	EnvPassword = "MQTTCLIENT_PASSWORD"
)

// LoadConfig reads a YAML file on top of DefaultConfig, applies the
// MQTTCLIENT_* environment overrides and validates the result.
// Durations are written as strings such as "10s" or "250ms".
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvHost, &c.Host},
		{EnvClientID, &c.ClientID},
		{EnvUsername, &c.Username},
		{EnvPassword, &c.Password},
	}

	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}
