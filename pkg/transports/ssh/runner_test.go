package ssh

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/provisioner"
)

type upload struct {
	local, remote string
	mode          os.FileMode
}

type fakeRemote struct {
	uploads  []upload
	files    map[string]string
	commands []string

	exitCode int
	execErr  error
}

func (f *fakeRemote) Exec(_ context.Context, command string) (string, string, int, error) {
	f.commands = append(f.commands, command)
	if strings.HasPrefix(command, "rm -rf ") {
		return "", "", 0, nil
	}
	return "applied", "", f.exitCode, f.execErr
}

func (f *fakeRemote) Upload(_ context.Context, local, remote string, mode os.FileMode) error {
	f.uploads = append(f.uploads, upload{local, remote, mode})
	return nil
}

func (f *fakeRemote) WriteFile(_ context.Context, remote string, data []byte, _ os.FileMode) error {
	if f.files == nil {
		f.files = map[string]string{}
	}
	f.files[remote] = string(data)
	return nil
}

func newTestRunner(f *fakeRemote) *Runner {
	return &Runner{remote: f, stagingDir: "/srv/stage", logger: zerolog.Nop()}
}

func TestRunnerStagesInputsAndEnv(t *testing.T) {
	f := &fakeRemote{exitCode: 2}
	r := newTestRunner(f)

	res, err := r.Run(context.Background(), provisioner.Command{
		Name:   "terraform",
		Args:   []string{"apply", "-auto-approve", "-var-file=/tmp/vars/wo-7.tfvars.json"},
		Dir:    "/opt/terraform",
		Env:    map[string]string{"TF_VAR_vsphere_password": "it's secret"},
		Inputs: []string{"/tmp/vars/wo-7.tfvars.json"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 2 || res.Stdout != "applied" {
		t.Fatalf("result = %+v", res)
	}

	if len(f.uploads) != 1 {
		t.Fatalf("uploads = %+v", f.uploads)
	}
	up := f.uploads[0]
	stage := path.Dir(up.remote)
	if !strings.HasPrefix(stage, "/srv/stage/") || path.Base(up.remote) != "wo-7.tfvars.json" || up.mode != 0o600 {
		t.Fatalf("upload = %+v", up)
	}

	envFile := stage + "/.env"
	if got := f.files[envFile]; got != "export TF_VAR_vsphere_password='it'\\''s secret'\n" {
		t.Fatalf("env file = %q", got)
	}

	if len(f.commands) != 2 {
		t.Fatalf("commands = %q", f.commands)
	}
	main := f.commands[0]
	if strings.Contains(main, "secret") {
		t.Fatalf("credentials leaked onto the command line: %s", main)
	}
	for _, want := range []string{
		"'" + envFile + "'",
		"cd '/opt/terraform'",
		"exec 'terraform' 'apply' '-auto-approve' '-var-file=" + up.remote + "'",
	} {
		if !strings.Contains(main, want) {
			t.Errorf("command %q missing %q", main, want)
		}
	}
	if f.commands[1] != "rm -rf '"+stage+"'" {
		t.Fatalf("cleanup = %q", f.commands[1])
	}
}

func TestRunnerExecError(t *testing.T) {
	f := &fakeRemote{execErr: errors.New("connection reset")}
	r := newTestRunner(f)

	if _, err := r.Run(context.Background(), provisioner.Command{Name: "terraform"}); err == nil {
		t.Fatal("expected error")
	}
	if last := f.commands[len(f.commands)-1]; !strings.HasPrefix(last, "rm -rf ") {
		t.Fatalf("staging directory not cleaned up: %q", f.commands)
	}

	if _, err := r.Run(context.Background(), provisioner.Command{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRewriteArgs(t *testing.T) {
	got := rewriteArgs(
		[]string{"-var-file=/tmp/a.json", "/tmp/a.json", "-var-file=/tmp/b.json", "plan"},
		"/tmp/a.json", "/stage/a.json")
	want := []string{"-var-file=/stage/a.json", "/stage/a.json", "-var-file=/tmp/b.json", "plan"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"":           "''",
		"plain":      "'plain'",
		"a b":        "'a b'",
		"it's":       `'it'\''s'`,
		"$(rm -rf)":  "'$(rm -rf)'",
		"back`tick`": "'back`tick`'",
	}
	for in, want := range tests {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommandScriptWithoutDir(t *testing.T) {
	got := commandScript("/s/.env", "", "terraform", []string{"init"})
	want := ". '/s/.env' && rm -f '/s/.env' && exec 'terraform' 'init'"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{Host: "build01", User: "deploy", Password: "pw"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid password", func(*Config) {}, ""},
		{"valid key", func(c *Config) { c.Password = ""; c.PrivateKeyPath = "/k" }, ""},
		{"missing host", func(c *Config) { c.Host = "" }, "host is required"},
		{"missing user", func(c *Config) { c.User = "" }, "user is required"},
		{"no auth", func(c *Config) { c.Password = "" }, "password or private_key_path"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"strict without known hosts", func(c *Config) { c.StrictHostKeyChecking = true }, "known_hosts_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Host: "build01"}.WithDefaults()
	if cfg.Port != DefaultPort || cfg.ConnectionTimeout != DefaultConnectionTimeout || cfg.StagingDir != DefaultStagingDir {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Address() != "build01:22" {
		t.Fatalf("address = %s", cfg.Address())
	}
	if (Config{}).Enabled() {
		t.Fatal("empty config must be disabled")
	}
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	if _, err := NewClient(Config{Host: "h"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
	c, err := NewClient(Config{Host: "h", User: "u", Password: "p"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close without connection: %v", err)
	}
}
