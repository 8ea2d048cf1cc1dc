package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/workorders/pkg/notify"
	"github.com/openfroyo/workorders/pkg/policy"
	"github.com/openfroyo/workorders/pkg/provisioner"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
	"github.com/openfroyo/workorders/pkg/transports/ssh"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Database    DatabaseConfig     `yaml:"database"`
	Provisioner provisioner.Config `yaml:"provisioner"`
	BuildHost   ssh.Config         `yaml:"build_host" validate:"-"`
	Inventory   InventoryConfig    `yaml:"inventory"`
	Policy      PolicyConfig       `yaml:"policy"`
	NATS        NATSConfig         `yaml:"nats"`
	Telemetry   telemetry.Config   `yaml:"telemetry" validate:"-"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddress string   `yaml:"listen_address" validate:"required"`
	CORSOrigins   []string `yaml:"cors_origins" validate:"dive,required"`

	// RequestTimeout bounds the server's write timeout. It has to outlast a
	// synchronous execute call, so it must exceed the provisioner timeout.
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the record store backend.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" validate:"required,oneof=sqlite postgres"`
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// InventoryConfig points at the placement catalog. An empty path serves an
// empty catalog.
type InventoryConfig struct {
	Path string `yaml:"path"`
}

// PolicyConfig configures advisory review.
type PolicyConfig struct {
	Paths  []string      `yaml:"paths" validate:"dive,required"`
	Watch  bool          `yaml:"watch"`
	Limits policy.Limits `yaml:"limits"`
}

// NATSConfig configures event forwarding. Forwarding is off without a URL.
type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ClientName    string `yaml:"client_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8000",
			RequestTimeout:  15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "./data/workorders.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Provisioner: provisioner.Config{
			Binary:  "terraform",
			WorkDir: "./terraform",
			Timeout: provisioner.DefaultTimeout,
			Credentials: provisioner.Credentials{
				Port: 443,
			},
		},
		Policy: PolicyConfig{
			Limits: policy.DefaultLimits(),
		},
		NATS: NATSConfig{
			SubjectPrefix: notify.DefaultSubjectPrefix,
			ClientName:    "workorderd",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load resolves the configuration from defaults, the file at path (if not
// empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("VCENTER_URL", &c.Provisioner.Credentials.Server)
	set("VCENTER_USER", &c.Provisioner.Credentials.User)
	set("VCENTER_PASSWORD", &c.Provisioner.Credentials.Password)
	set("LOG_LEVEL", &c.Telemetry.Logging.Level)
	set("WORKORDERS_LISTEN", &c.Server.ListenAddress)
	set("NATS_URL", &c.NATS.URL)

	if v, ok := lookup("VCENTER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VCENTER_PORT %q: %w", v, err)
		}
		c.Provisioner.Credentials.Port = port
	}

	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.Driver, c.Database.DSN = ParseDatabaseURL(v)
	}
	return nil
}

// ParseDatabaseURL maps a DATABASE_URL value onto a driver and DSN.
// postgres:// and postgresql:// URLs select postgres and are passed through.
// sqlite:/// URLs and bare paths select sqlite.
func ParseDatabaseURL(raw string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw
	case strings.HasPrefix(raw, "sqlite:///"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite:///")
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite://")
	default:
		return "sqlite", raw
	}
}

// Validate checks struct tags and the cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Provisioner.Timeout <= 0 {
		return fmt.Errorf("invalid configuration: provisioner.timeout must be positive")
	}
	if c.Server.RequestTimeout <= c.Provisioner.Timeout {
		return fmt.Errorf("invalid configuration: server.request_timeout (%s) must exceed provisioner.timeout (%s)",
			c.Server.RequestTimeout, c.Provisioner.Timeout)
	}
	if c.BuildHost.Enabled() {
		if err := c.BuildHost.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: build_host: %w", err)
		}
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: telemetry: %w", err)
	}
	return nil
}

// StoreConfig returns the record store settings.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// Write stores cfg as YAML at path, creating parent directories. Passwords
// are never written.
func Write(path string, cfg *Config) error {
	out := *cfg
	out.Provisioner.Credentials.Password = ""
	out.BuildHost.Password = ""
	out.BuildHost.PrivateKeyPassphrase = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
