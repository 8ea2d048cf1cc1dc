package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/stores"
)

func strPtr(s string) *string { return &s }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	engine, err := NewEngine(logger, DefaultLimits())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

// cleanWorkOrder passes every built-in policy without findings.
func cleanWorkOrder() *stores.WorkOrder {
	return &stores.WorkOrder{
		ID:          1,
		Name:        "web-01",
		OS:          "ubuntu",
		HostVersion: "8.0",
		CPU:         2,
		RAM:         4096,
		Disks:       []stores.Disk{{Size: 40, Provisioning: "thin"}},
		NICs:        []stores.NIC{{NetworkID: "network-1"}},
		Status:      stores.StatusPending,
		TemplateID:  strPtr("vm-template-1"),
	}
}

func findingFor(findings []Finding, policy, substr string) bool {
	for _, f := range findings {
		if f.Policy == policy && strings.Contains(f.Message, substr) {
			return true
		}
	}
	return false
}

func TestNewEngineLoadsBuiltins(t *testing.T) {
	engine := newTestEngine(t)

	policies := engine.ListPolicies()
	if len(policies) != len(GetBuiltinPolicies()) {
		t.Fatalf("Expected %d policies, got %d", len(GetBuiltinPolicies()), len(policies))
	}
	for _, p := range policies {
		if !p.Builtin || !p.Enabled {
			t.Errorf("Built-in policy %s should be enabled and marked built-in", p.Name)
		}
	}
	if engine.Limits() != DefaultLimits() {
		t.Errorf("Unexpected limits %+v", engine.Limits())
	}
}

func TestReviewCleanWorkOrder(t *testing.T) {
	engine := newTestEngine(t)

	review, err := engine.Review(context.Background(), cleanWorkOrder())
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if !review.Allowed {
		t.Errorf("Expected clean workorder to be allowed, violations: %+v", review.Violations)
	}
	if len(review.Violations) != 0 || len(review.Warnings) != 0 {
		t.Errorf("Expected no findings, got %+v / %+v", review.Violations, review.Warnings)
	}
	if len(review.EvaluatedPolicies) != len(GetBuiltinPolicies()) {
		t.Errorf("Expected every built-in evaluated, got %v", review.EvaluatedPolicies)
	}
}

func TestReviewFindings(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(wo *stores.WorkOrder)
		allowed   bool
		policy    string
		message   string
		violation bool
	}{
		{
			name:      "uppercase name",
			mutate:    func(wo *stores.WorkOrder) { wo.Name = "Web-01" },
			policy:    "vm-naming",
			message:   "must be lowercase",
			violation: true,
		},
		{
			name:      "name with underscore",
			mutate:    func(wo *stores.WorkOrder) { wo.Name = "web_01" },
			policy:    "vm-naming",
			message:   "inner hyphens",
			violation: true,
		},
		{
			name:    "bad hostname",
			mutate:  func(wo *stores.WorkOrder) { wo.Hostname = strPtr("Web.Example") },
			allowed: true,
			policy:  "vm-naming",
			message: "Hostname 'Web.Example'",
		},
		{
			name:      "cpu over ceiling",
			mutate:    func(wo *stores.WorkOrder) { wo.CPU = 128 },
			policy:    "vm-sizing",
			message:   "128 vCPUs exceeds the ceiling of 64",
			violation: true,
		},
		{
			name:      "ram over ceiling",
			mutate:    func(wo *stores.WorkOrder) { wo.RAM = 1048576 },
			policy:    "vm-sizing",
			message:   "MB of RAM exceeds",
			violation: true,
		},
		{
			name: "too many disks",
			mutate: func(wo *stores.WorkOrder) {
				wo.Disks = make([]stores.Disk, 9)
				for i := range wo.Disks {
					wo.Disks[i] = stores.Disk{Size: 10}
				}
			},
			policy:    "vm-sizing",
			message:   "9 disks exceeds",
			violation: true,
		},
		{
			name:      "static ip without gateway",
			mutate:    func(wo *stores.WorkOrder) { wo.IP = strPtr("10.0.0.5"); wo.Netmask = strPtr("255.255.255.0") },
			policy:    "guest-network",
			message:   "A static ip requires gateway",
			violation: true,
		},
		{
			name: "ip and pool",
			mutate: func(wo *stores.WorkOrder) {
				wo.IP = strPtr("10.0.0.5")
				wo.Netmask = strPtr("255.255.255.0")
				wo.Gateway = strPtr("10.0.0.1")
				wo.IPPoolID = strPtr("pool-1")
			},
			allowed: true,
			policy:  "guest-network",
			message: "Both ip and ip_pool_id",
		},
		{
			name:    "hardware version ignored with template",
			mutate:  func(wo *stores.WorkOrder) { wo.HardwareVersion = strPtr("vmx-19") },
			allowed: true,
			policy:  "vm-image",
			message: "hardware_version is ignored",
		},
		{
			name:    "from scratch without hardware version",
			mutate:  func(wo *stores.WorkOrder) { wo.TemplateID = nil },
			allowed: true,
			policy:  "vm-image",
			message: "hardware_version should be set",
		},
		{
			name:    "from scratch without nics",
			mutate:  func(wo *stores.WorkOrder) { wo.TemplateID = nil; wo.NICs = nil },
			allowed: true,
			policy:  "vm-image",
			message: "will have no network",
		},
	}

	engine := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wo := cleanWorkOrder()
			tt.mutate(wo)

			review, err := engine.Review(context.Background(), wo)
			if err != nil {
				t.Fatalf("Review failed: %v", err)
			}
			if review.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v", tt.allowed, review.Allowed)
			}
			findings := review.Warnings
			if tt.violation {
				findings = review.Violations
			}
			if !findingFor(findings, tt.policy, tt.message) {
				t.Errorf("Expected %s finding containing %q, got violations %+v warnings %+v",
					tt.policy, tt.message, review.Violations, review.Warnings)
			}
		})
	}
}

func TestReviewCarriesFieldAndSeverity(t *testing.T) {
	engine := newTestEngine(t)
	wo := cleanWorkOrder()
	wo.CPU = 100

	review, err := engine.Review(context.Background(), wo)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if len(review.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %+v", review.Violations)
	}
	v := review.Violations[0]
	if v.Field != "cpu" || v.Severity != SeverityError {
		t.Errorf("Unexpected finding %+v", v)
	}
}

func TestReviewNilWorkOrder(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.Review(context.Background(), nil); err == nil {
		t.Error("Expected error for nil workorder")
	}
}

func TestCustomLimits(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	engine, err := NewEngine(logger, Limits{MaxCPU: 4, MaxRAMMB: 8192, MaxDisks: 2})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	wo := cleanWorkOrder()
	wo.CPU = 8
	review, err := engine.Review(context.Background(), wo)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if !findingFor(review.Violations, "vm-sizing", "8 vCPUs exceeds the ceiling of 4") {
		t.Errorf("Expected custom ceiling violation, got %+v", review.Violations)
	}
}

func TestLoadPoliciesFromDirectory(t *testing.T) {
	engine := newTestEngine(t)

	dir := t.TempDir()
	custom := `# Datacenter must be named
package workorders.site

import rego.v1

deny contains msg if {
	input.workorder.datacenter_name == null
	msg := "datacenter_name is required"
}

deny contains violation if {
	input.context.actor == "intern"
	violation := {"message": "interns cannot request VMs", "severity": "critical"}
}`
	writePolicy(t, filepath.Join(dir, "site.rego"), custom)

	if err := engine.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p, err := engine.GetPolicy("site")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Description != "Datacenter must be named" {
		t.Errorf("Unexpected description %q", p.Description)
	}

	review, err := engine.Review(context.Background(), cleanWorkOrder())
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if !review.Allowed {
		t.Errorf("Warning severity should not block, got %+v", review.Violations)
	}
	if !findingFor(review.Warnings, "site", "datacenter_name is required") {
		t.Errorf("Expected custom warning, got %+v", review.Warnings)
	}

	ctx := WithActor(context.Background(), "intern")
	review, err = engine.Review(ctx, cleanWorkOrder())
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if review.Allowed || !findingFor(review.Violations, "site", "interns cannot") {
		t.Errorf("Expected actor-based violation, got %+v", review.Violations)
	}
}

func TestLoadPoliciesRejectsInvalidRego(t *testing.T) {
	engine := newTestEngine(t)

	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "good.rego"), fmt.Sprintf(emptyDeny, "good"))
	writePolicy(t, filepath.Join(dir, "bad.rego"), "package bad\n\ndeny contains msg if {")

	if err := engine.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := engine.GetPolicy("good"); err == nil {
		t.Error("No policy should be added when one fails to compile")
	}
}

func TestLoadedPolicyCannotShadowBuiltin(t *testing.T) {
	engine := newTestEngine(t)

	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "vm-sizing.rego"), fmt.Sprintf(emptyDeny, "shadow"))

	if err := engine.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p, err := engine.GetPolicy("vm-sizing")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if !p.Builtin {
		t.Error("Built-in vm-sizing should survive a same-named file")
	}
}

func TestReplacePoliciesKeepsBuiltins(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	first := []Policy{{Name: "first", Rego: fmt.Sprintf(emptyDeny, "first"), Enabled: true, Severity: SeverityWarning}}
	if err := engine.ReplacePolicies(ctx, first); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	second := []Policy{{Name: "second", Rego: fmt.Sprintf(emptyDeny, "second"), Enabled: true, Severity: SeverityWarning}}
	if err := engine.ReplacePolicies(ctx, second); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}

	if _, err := engine.GetPolicy("first"); err == nil {
		t.Error("Expected first to be replaced")
	}
	if _, err := engine.GetPolicy("second"); err != nil {
		t.Errorf("Expected second to be loaded: %v", err)
	}
	if got := len(engine.ListPolicies()); got != len(GetBuiltinPolicies())+1 {
		t.Errorf("Expected built-ins plus one, got %d", got)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	engine := newTestEngine(t)
	wo := cleanWorkOrder()
	wo.Name = "Upper"

	if err := engine.DisablePolicy("vm-naming"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	review, err := engine.Review(context.Background(), wo)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if !review.Allowed {
		t.Errorf("Disabled policy should not produce violations: %+v", review.Violations)
	}
	for _, name := range review.EvaluatedPolicies {
		if name == "vm-naming" {
			t.Error("Disabled policy should not be evaluated")
		}
	}

	if err := engine.EnablePolicy("vm-naming"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	review, err = engine.Review(context.Background(), wo)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if review.Allowed {
		t.Error("Re-enabled policy should block the uppercase name")
	}

	if err := engine.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestEngineWatchReloads(t *testing.T) {
	engine := newTestEngine(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "late.rego"), []byte(fmt.Sprintf(emptyDeny, "late")), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if !eventually(func() bool {
		_, err := engine.GetPolicy("late")
		return err == nil
	}) {
		t.Error("Expected late policy to be loaded by the watcher")
	}
}
