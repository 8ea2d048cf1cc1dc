package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/workorders/pkg/transports/ssh"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workorders.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ListenAddress != ":8000" {
		t.Errorf("unexpected listen address %q", cfg.Server.ListenAddress)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "./data/workorders.db" {
		t.Errorf("unexpected database %+v", cfg.Database)
	}
	if cfg.Provisioner.Binary != "terraform" || cfg.Provisioner.Timeout != 10*time.Minute {
		t.Errorf("unexpected provisioner %+v", cfg.Provisioner)
	}
	if cfg.NATS.SubjectPrefix != "workorders" || cfg.NATS.URL != "" {
		t.Errorf("unexpected nats %+v", cfg.NATS)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
server:
  listen_address: "127.0.0.1:9000"
  cors_origins: ["https://portal.example.com"]
database:
  driver: postgres
  dsn: postgres://workorders@db/workorders
provisioner:
  workdir: /srv/terraform
  timeout: 5m
policy:
  paths: [/etc/workorders/policies]
  watch: true
nats:
  url: nats://nats:4222
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:9000" || len(cfg.Server.CORSOrigins) != 1 {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 15*time.Minute {
		t.Errorf("unset keys should keep defaults, got %s", cfg.Server.RequestTimeout)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("unexpected driver %q", cfg.Database.Driver)
	}
	if cfg.Provisioner.WorkDir != "/srv/terraform" || cfg.Provisioner.Timeout != 5*time.Minute {
		t.Errorf("unexpected provisioner %+v", cfg.Provisioner)
	}
	if cfg.Provisioner.Binary != "terraform" {
		t.Errorf("expected default binary, got %q", cfg.Provisioner.Binary)
	}
	if !cfg.Policy.Watch || cfg.Policy.Limits.MaxCPU != 64 {
		t.Errorf("unexpected policy %+v", cfg.Policy)
	}

	sc := cfg.StoreConfig()
	if sc.Driver != "postgres" || sc.DSN != "postgres://workorders@db/workorders" {
		t.Errorf("unexpected store config %+v", sc)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VCENTER_URL", "vcenter.lab.local")
	t.Setenv("VCENTER_USER", "svc-provision")
	t.Setenv("VCENTER_PASSWORD", "s3cret")
	t.Setenv("VCENTER_PORT", "8443")
	t.Setenv("DATABASE_URL", "postgresql://u@db:5432/wo")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WORKORDERS_LISTEN", ":9090")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	creds := cfg.Provisioner.Credentials
	if creds.Server != "vcenter.lab.local" || creds.User != "svc-provision" || creds.Password != "s3cret" || creds.Port != 8443 {
		t.Errorf("unexpected credentials %+v", creds)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgresql://u@db:5432/wo" {
		t.Errorf("unexpected database %+v", cfg.Database)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("unexpected log level %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Server.ListenAddress != ":9090" || cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("unexpected overrides %+v %+v", cfg.Server, cfg.NATS)
	}
}

func TestInvalidPortEnv(t *testing.T) {
	t.Setenv("VCENTER_PORT", "https")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "VCENTER_PORT") {
		t.Errorf("expected VCENTER_PORT error, got %v", err)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		raw, driver, dsn string
	}{
		{"postgres://u@h/db", "postgres", "postgres://u@h/db"},
		{"postgresql://u@h/db", "postgres", "postgresql://u@h/db"},
		{"sqlite:///./workorders.db", "sqlite", "./workorders.db"},
		{"sqlite:////var/lib/wo.db", "sqlite", "/var/lib/wo.db"},
		{"/tmp/wo.db", "sqlite", "/tmp/wo.db"},
	}
	for _, tt := range tests {
		driver, dsn := ParseDatabaseURL(tt.raw)
		if driver != tt.driver || dsn != tt.dsn {
			t.Errorf("%s: expected %s %s, got %s %s", tt.raw, tt.driver, tt.dsn, driver, dsn)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "Driver"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "DSN"},
		{"empty listen", func(c *Config) { c.Server.ListenAddress = "" }, "ListenAddress"},
		{"bad port", func(c *Config) { c.Provisioner.Credentials.Port = 70000 }, "Port"},
		{"bad nats url", func(c *Config) { c.NATS.URL = "not a url" }, "URL"},
		{"zero provision timeout", func(c *Config) { c.Provisioner.Timeout = 0 }, "provisioner.timeout"},
		{"request timeout too short", func(c *Config) { c.Server.RequestTimeout = time.Minute }, "request_timeout"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "loud" }, "telemetry"},
		{"build host without user", func(c *Config) { c.BuildHost = ssh.Config{Host: "build01", Password: "pw"} }, "build_host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "server: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestWriteAndReload(t *testing.T) {
	cfg := Default()
	cfg.Provisioner.Credentials.Password = "s3cret"
	cfg.BuildHost = ssh.Config{Host: "build01", User: "deploy", PrivateKeyPath: "/etc/workorders/id_ed25519", PrivateKeyPassphrase: "s3cret"}
	cfg.Inventory.Path = "/etc/workorders/inventory.yaml"

	path := filepath.Join(t.TempDir(), "conf", "workorders.yaml")
	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if strings.Contains(string(data), "s3cret") {
		t.Error("password must not be written")
	}
	if cfg.Provisioner.Credentials.Password != "s3cret" {
		t.Error("Write must not modify its argument")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load of written config failed: %v", err)
	}
	if loaded.BuildHost.Host != "build01" || loaded.BuildHost.PrivateKeyPassphrase != "" {
		t.Errorf("build host round trip: %+v", loaded.BuildHost)
	}
	if loaded.Inventory.Path != cfg.Inventory.Path || loaded.Server.RequestTimeout != cfg.Server.RequestTimeout {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}
