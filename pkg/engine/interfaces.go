package engine

import (
	"context"

	"github.com/openfroyo/workorders/pkg/policy"
	"github.com/openfroyo/workorders/pkg/provisioner"
	"github.com/openfroyo/workorders/pkg/segments"
	"github.com/openfroyo/workorders/pkg/stores"
)

// VMProvisioner realizes an approved workorder as a virtual machine.
type VMProvisioner interface {
	// Provision runs the provisioning tool for wo. A non-nil error means the
	// tool could not be driven at all; a tool that ran and failed is reported
	// through Result.Success.
	Provision(ctx context.Context, wo *stores.WorkOrder) (*provisioner.Result, error)
}

// SegmentProvisioner realizes an approved network order as a segment.
type SegmentProvisioner interface {
	// Validate checks a segment definition without side effects.
	Validate(cfg segments.Config) segments.ValidationResult

	// Create asks the network controller for the segment. A refusal is a
	// result with Success false; the error is reserved for an unreachable
	// controller.
	Create(ctx context.Context, cfg segments.Config) (*segments.CreateResult, error)
}

// Reviewer evaluates advisory policies against a workorder.
type Reviewer interface {
	Review(ctx context.Context, wo *stores.WorkOrder) (*policy.Review, error)
}
