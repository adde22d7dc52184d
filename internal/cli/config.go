package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unsearch/syncd/internal/engine"
	"github.com/unsearch/syncd/internal/ws"
)

// Config is the serve command's file-based configuration. Every field
// has a flag override; the secret additionally reads from the
// SYNCD_JWT_SECRET environment variable so it can stay out of files.
type Config struct {
	Addr              string   `yaml:"addr"`
	Database          string   `yaml:"db"`
	JWTSecret         string   `yaml:"jwt_secret"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// Duration decodes YAML strings like "30s" or "2m" into a
// time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8090",
		Database:          "syncd.db",
		HandshakeTimeout:  Duration(ws.DefaultHandshakeTimeout),
		HeartbeatInterval: Duration(engine.DefaultHeartbeatInterval),
	}
}

// LoadConfig reads a YAML config file over the defaults and applies the
// environment override for the secret. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if secret := os.Getenv("SYNCD_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	return cfg, nil
}
