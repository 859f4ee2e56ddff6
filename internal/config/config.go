package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models stringer.yml.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string   `yaml:"jwt_secret"`
		DevLogin  DevLogin `yaml:"dev_login"`
	} `yaml:"auth"`
	Data struct {
		Dir string `yaml:"dir"`
	} `yaml:"data"`
	Platform struct {
		Newsroom Seed `yaml:"newsroom"`
	} `yaml:"platform"`
}

// DevLogin gates the developer login endpoint. Never enable it in a
// deployment reachable from outside.
type DevLogin struct {
	Enabled bool   `yaml:"enabled"`
	Email   string `yaml:"email"`
	Role    string `yaml:"role"`
}

// Seed names the newsroom created on first boot.
type Seed struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Load reads and validates config from the working directory.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sgr config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(dir string) (*Config, error) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("config.auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.DevLogin.Enabled {
		if c.Auth.DevLogin.Email == "" {
			return fmt.Errorf("config.auth.dev_login.email is required when dev_login is enabled")
		}
		switch c.Auth.DevLogin.Role {
		case "", "editor", "journalist", "admin":
		default:
			return fmt.Errorf("config.auth.dev_login.role must be editor, journalist or admin")
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "."
	}
	return nil
}

// Path returns the config file path for a directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "stringer.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a newsroom.
func Default(newsroomName string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(newsroomName)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(newsroomName string) string {
	if newsroomName == "" {
		newsroomName = "Default Newsroom"
	}
	return fmt.Sprintf(defaultTemplate, newsroomName)
}

const defaultTemplate = `server:
  addr: ":8080"

auth:
  # Change before any shared deployment.
  jwt_secret: "change-me-please-32-bytes-min"
  dev_login:
    enabled: true
    email: dev@example.com
    role: editor

data:
  dir: .

platform:
  newsroom:
    id: default-newsroom
    name: %s
`
