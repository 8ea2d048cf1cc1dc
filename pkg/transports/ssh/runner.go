package ssh

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/provisioner"
)

// remote is the part of Client the runner needs.
type remote interface {
	Exec(ctx context.Context, command string) (stdout, stderr string, exitCode int, err error)
	Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error
	WriteFile(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error
}

// Runner executes provisioning commands on the build host. It implements
// provisioner.Runner.
//
// Each run gets its own staging directory. Inputs are uploaded there and
// argument references are rewritten to the staged copies. The environment
// is shipped as a 0600 file that the remote shell sources and deletes
// before starting the tool, so credentials never appear on a command line.
type Runner struct {
	remote     remote
	stagingDir string
	logger     zerolog.Logger
}

var _ provisioner.Runner = (*Runner)(nil)

// NewRunner returns a runner backed by client.
func NewRunner(client *Client, logger zerolog.Logger) *Runner {
	return &Runner{
		remote:     client,
		stagingDir: client.cfg.StagingDir,
		logger:     logger.With().Str("component", "ssh-runner").Logger(),
	}
}

// Run implements provisioner.Runner.
func (r *Runner) Run(ctx context.Context, cmd provisioner.Command) (*provisioner.CommandResult, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	stage := path.Join(r.stagingDir, uuid.NewString())
	defer r.cleanup(stage)

	args := cmd.Args
	for _, input := range cmd.Inputs {
		staged := path.Join(stage, filepath.Base(input))
		if err := r.remote.Upload(ctx, input, staged, 0o600); err != nil {
			return nil, err
		}
		args = rewriteArgs(args, input, staged)
	}

	envFile := path.Join(stage, ".env")
	if err := r.remote.WriteFile(ctx, envFile, []byte(envScript(cmd.Env)), 0o600); err != nil {
		return nil, err
	}

	script := commandScript(envFile, cmd.Dir, cmd.Name, args)
	r.logger.Debug().Str("command", cmd.Name).Strs("args", args).Str("dir", cmd.Dir).Msg("running remote command")

	start := time.Now()
	stdout, stderr, code, err := r.remote.Exec(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
	}

	return &provisioner.CommandResult{
		ExitCode: code,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}, nil
}

func (r *Runner) cleanup(stage string) {
	// The run context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, stderr, code, err := r.remote.Exec(ctx, "rm -rf "+shellQuote(stage))
	if err != nil || code != 0 {
		r.logger.Warn().Err(err).Int("exit_code", code).Str("stderr", stderr).Str("path", stage).
			Msg("failed to remove staging directory")
	}
}

// rewriteArgs replaces local with staged wherever an argument is the path
// or ends in "=<path>".
func rewriteArgs(args []string, local, staged string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		switch {
		case arg == local:
			out[i] = staged
		case strings.HasSuffix(arg, "="+local):
			out[i] = strings.TrimSuffix(arg, local) + staged
		default:
			out[i] = arg
		}
	}
	return out
}

func envScript(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(env[k]))
	}
	return b.String()
}

func commandScript(envFile, dir, name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}

	var b strings.Builder
	fmt.Fprintf(&b, ". %[1]s && rm -f %[1]s", shellQuote(envFile))
	if dir != "" {
		fmt.Fprintf(&b, " && cd %s", shellQuote(dir))
	}
	b.WriteString(" && exec ")
	b.WriteString(strings.Join(parts, " "))
	return b.String()
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
