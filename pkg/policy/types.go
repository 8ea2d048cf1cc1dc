package policy

import (
	"time"

	"github.com/openfroyo/workorders/pkg/stores"
)

// Severity represents the severity level of a finding.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be looked at before approval.
	SeverityWarning Severity = "warning"

	// SeverityError marks a request that should not be approved as is.
	SeverityError Severity = "error"

	// SeverityCritical marks a request that must not be approved.
	SeverityCritical Severity = "critical"
)

// blocking reports whether a finding of this severity makes a review
// disallowed.
func (s Severity) blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module. Its deny set yields the findings.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
	Tags        []string `json:"tags,omitempty"`

	// Builtin policies survive a reload of the policy paths.
	Builtin bool `json:"builtin"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`

	LoadedAt time.Time `json:"loaded_at"`
}

// Finding is one message produced by a policy.
type Finding struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Field names the workorder field the finding is about, when the policy
	// says so.
	Field string `json:"field,omitempty"`
}

// Review is the advisory outcome of evaluating every enabled policy against
// one workorder. It never changes the workorder's status.
type Review struct {
	Allowed           bool      `json:"allowed"`
	Violations        []Finding `json:"violations"`
	Warnings          []Finding `json:"warnings"`
	EvaluatedPolicies []string  `json:"evaluated_policies"`
	EvaluatedAt       time.Time `json:"evaluated_at"`
	Duration          string    `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	WorkOrder *stores.WorkOrder `json:"workorder"`
	Context   InputContext      `json:"context"`
}

// InputContext carries facts about the review itself.
type InputContext struct {
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Limits are exposed to policies as data.workorders.limits.
type Limits struct {
	MaxCPU   int `json:"max_cpu" yaml:"max_cpu"`
	MaxRAMMB int `json:"max_ram_mb" yaml:"max_ram_mb"`
	MaxDisks int `json:"max_disks" yaml:"max_disks"`
}

// DefaultLimits returns the sizing ceilings used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxCPU:   64,
		MaxRAMMB: 512 * 1024,
		MaxDisks: 8,
	}
}
