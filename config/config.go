package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendZooKeeper = "zookeeper"
	BackendEtcd      = "etcd"
	BackendConsul    = "consul"
)

// DefaultServers is dialled when CATMAN_SERVERS is unset.
var DefaultServers = map[string][]string{
	BackendZooKeeper: {"localhost:2181"},
	BackendEtcd:      {"localhost:2379"},
	BackendConsul:    {"localhost:8500"},
}

// Config is the process configuration, read from CATMAN_* variables.
type Config struct {
	Backend         string        `env:"CATMAN_BACKEND" envDefault:"zookeeper"`
	Servers         []string      `env:"CATMAN_SERVERS" envSeparator:","`
	Namespace       string        `env:"CATMAN_NAMESPACE" envDefault:"/election"`
	CandidatePrefix string        `env:"CATMAN_CANDIDATE_PREFIX" envDefault:"c_"`
	SessionTimeout  time.Duration `env:"CATMAN_SESSION_TIMEOUT" envDefault:"3s"`
	StatusAddr      string        `env:"CATMAN_STATUS_ADDR"`
	NodeName        string        `env:"CATMAN_NODE_NAME"`
	LogLevel        string        `env:"CATMAN_LOG_LEVEL" envDefault:"info"`
	LogEncoding     string        `env:"CATMAN_LOG_ENCODING" envDefault:"console"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads and validates Config.
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = append([]string(nil), DefaultServers[cfg.Backend]...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendZooKeeper, BackendEtcd, BackendConsul:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("no coordination servers configured")
	}
	if len(c.Namespace) < 2 || c.Namespace[0] != '/' {
		return fmt.Errorf("namespace %q must be an absolute path", c.Namespace)
	}
	if c.CandidatePrefix == "" {
		return fmt.Errorf("candidate prefix must not be empty")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %s", c.SessionTimeout)
	}
	return nil
}
