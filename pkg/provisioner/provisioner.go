package provisioner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// Phase names.
const (
	PhaseInit  = "init"
	PhaseApply = "apply"
)

// DefaultTimeout bounds a whole attempt, both phases included.
const DefaultTimeout = 10 * time.Minute

// Credentials authenticate the tool against vCenter.
type Credentials struct {
	Server   string `yaml:"server"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// Config configures the provisioning tool invocation.
type Config struct {
	// Binary is the tool executable, "terraform" by default.
	Binary string `yaml:"binary" validate:"required"`

	// WorkDir holds the tool's definitions and state.
	WorkDir string `yaml:"workdir" validate:"required"`

	// VarDir receives the temporary variable files. Empty means the OS
	// temp directory.
	VarDir string `yaml:"var_dir"`

	Timeout     time.Duration `yaml:"timeout"`
	Credentials Credentials   `yaml:"credentials"`
}

// PhaseResult is the captured outcome of one tool phase.
type PhaseResult struct {
	Phase    string        `json:"phase"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Result is the outcome of a provisioning attempt that ran the tool.
type Result struct {
	Success bool `json:"success"`

	// VMID is the identifier reported by the apply phase, if any.
	VMID string `json:"vm_id,omitempty"`

	// Output is the apply phase stdout.
	Output string `json:"output,omitempty"`

	Phases []PhaseResult `json:"phases"`
}

// Failed returns the phase that ended the attempt unsuccessfully, or nil.
func (r *Result) Failed() *PhaseResult {
	if r.Success || len(r.Phases) == 0 {
		return nil
	}
	return &r.Phases[len(r.Phases)-1]
}

// Provisioner runs the two-phase tool workflow for workorders.
type Provisioner struct {
	cfg    Config
	runner Runner
	logger zerolog.Logger
}

// New creates a provisioner. Zero config fields take their defaults.
func New(cfg Config, runner Runner, logger zerolog.Logger) *Provisioner {
	if cfg.Binary == "" {
		cfg.Binary = "terraform"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "./terraform"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Provisioner{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("component", "provisioner").Logger(),
	}
}

// Provision renders the variable file and runs init then apply. Tool
// failures are reported in the Result; an error means the attempt could
// not be carried out.
func (p *Provisioner) Provision(ctx context.Context, wo *stores.WorkOrder) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	logger := p.logger.With().Int64("workorder_id", wo.ID).Str("vm_name", wo.Name).Logger()

	path, err := writeVarFile(p.cfg.VarDir, RenderVariables(wo))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("failed to remove variable file")
		}
	}()

	res := &Result{}

	initPhase, err := p.runPhase(ctx, PhaseInit, []string{"init", "-input=false"})
	if err != nil {
		return nil, err
	}
	res.Phases = append(res.Phases, *initPhase)
	if initPhase.ExitCode != 0 {
		logger.Warn().Int("exit_code", initPhase.ExitCode).Msg("init phase failed")
		return res, nil
	}

	applyPhase, err := p.runPhase(ctx, PhaseApply, []string{"apply", "-auto-approve", "-var-file=" + path}, path)
	if err != nil {
		return nil, err
	}
	res.Phases = append(res.Phases, *applyPhase)
	if applyPhase.ExitCode != 0 {
		logger.Warn().Int("exit_code", applyPhase.ExitCode).Msg("apply phase failed")
		return res, nil
	}

	res.Success = true
	res.Output = applyPhase.Stdout
	res.VMID = ParseVMID(applyPhase.Stdout)
	logger.Info().Str("vm_id", res.VMID).Msg("provisioning completed")

	return res, nil
}

func (p *Provisioner) runPhase(ctx context.Context, phase string, args []string, inputs ...string) (*PhaseResult, error) {
	var out *CommandResult
	err := telemetry.RecordProviderOperation(ctx, p.cfg.Binary, phase, func(ctx context.Context) error {
		var err error
		out, err = p.runner.Run(ctx, Command{
			Name:   p.cfg.Binary,
			Args:   args,
			Dir:    p.cfg.WorkDir,
			Env:    p.credentialEnv(),
			Inputs: inputs,
		})
		if err != nil {
			return err
		}
		if out.ExitCode != 0 {
			return fmt.Errorf("%s exited with code %d", phase, out.ExitCode)
		}
		return nil
	})
	if out == nil {
		return nil, fmt.Errorf("failed to run %s phase: %w", phase, err)
	}

	pr := &PhaseResult{
		Phase:    phase,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: out.Duration,
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		pr.TimedOut = true
		if pr.ExitCode == 0 {
			pr.ExitCode = -1
		}
		pr.Stderr += fmt.Sprintf("\n%s phase timed out after %s", phase, p.cfg.Timeout)
	}
	return pr, nil
}

func (p *Provisioner) credentialEnv() map[string]string {
	c := p.cfg.Credentials
	return map[string]string{
		"TF_VAR_vsphere_server":   serverAddress(c.Server, c.Port),
		"TF_VAR_vsphere_user":     c.User,
		"TF_VAR_vsphere_password": c.Password,
	}
}

// serverAddress reduces a vCenter URL to host[:port].
func serverAddress(server string, port int) string {
	host := server
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		host = u.Host
	}
	if host == "" || port <= 0 || port == 443 {
		return host
	}
	if (&url.URL{Host: host}).Port() != "" {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

var vmIDPattern = regexp.MustCompile(`(?m)^\s*vm_id\s*=\s*"?([^"\s]+)"?\s*$`)

// ParseVMID extracts the vm_id output value from apply stdout.
func ParseVMID(stdout string) string {
	m := vmIDPattern.FindStringSubmatch(stdout)
	if m == nil {
		return ""
	}
	return m[1]
}
