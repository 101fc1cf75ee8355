// Package config loads the YAML configuration file the reliudpd binary
// starts from. Grounded on the teacher pack's site-config loading
// (tinyrange-cc cmd/ccapp/site_config.go): a plain struct tagged for
// gopkg.in/yaml.v3, read from disk with sane zero-value defaults rather than
// a framework like viper, which does not appear anywhere in the retrieved
// corpus.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kdoroshev/reliudp/pkg/session"
	"github.com/kdoroshev/reliudp/pkg/wire"
)

// Config is the on-disk shape of reliudpd's configuration file.
type Config struct {
	Role        string `yaml:"role"`   // "sender" | "receiver" | "symmetric"
	Variant     string `yaml:"variant"` // "baseline" | "extended"
	Window      int    `yaml:"window"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	MSS         int    `yaml:"mss"`
	Listen      string `yaml:"listen"`
	Peer        string `yaml:"peer"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Defaults matches spec.md §6's suggested defaults, applied for any field
// absent from the YAML file.
func Defaults() Config {
	return Config{
		Role:        "symmetric",
		Variant:     "baseline",
		Window:      16,
		TimeoutMS:   500,
		MSS:         1000,
		Listen:      ":9090",
		MetricsAddr: "",
		LogLevel:    "info",
	}
}

// Load reads and parses the YAML file at path on top of Defaults(), so a
// field absent from the file keeps its default; a field set explicitly in
// the file, even to its zero value, keeps the file's value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseRole parses the configured role name.
func (c Config) ParseRole() (session.Role, error) {
	switch c.Role {
	case "sender":
		return session.RoleSender, nil
	case "receiver":
		return session.RoleReceiver, nil
	case "symmetric", "":
		return session.RoleSymmetric, nil
	default:
		return 0, fmt.Errorf("config: unknown role %q", c.Role)
	}
}

// ParseVariant parses the configured wire variant.
func (c Config) ParseVariant() (wire.Variant, error) {
	switch c.Variant {
	case "baseline", "":
		return wire.VariantBaseline, nil
	case "extended":
		return wire.VariantExtended, nil
	default:
		return 0, fmt.Errorf("config: unknown variant %q", c.Variant)
	}
}

// SessionConfig converts the parsed file into a session.Config, the shape
// pkg/session actually consumes.
func (c Config) SessionConfig() (session.Config, error) {
	role, err := c.ParseRole()
	if err != nil {
		return session.Config{}, err
	}
	variant, err := c.ParseVariant()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Role:    role,
		Variant: variant,
		Window:  c.Window,
		Timeout: time.Duration(c.TimeoutMS) * time.Millisecond,
		MSS:     c.MSS,
	}, nil
}
