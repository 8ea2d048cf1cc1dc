package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/workorders/pkg/policy"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// WorkOrderService runs the workorder lifecycle: intake, approval, and
// provisioning through a VMProvisioner.
type WorkOrderService struct {
	base
	provisioner VMProvisioner
}

// NewWorkOrderService creates a workorder service over store.
func NewWorkOrderService(store stores.Store, provisioner VMProvisioner, opts ...Option) *WorkOrderService {
	return &WorkOrderService{
		base:        newBase(stores.KindWorkOrder, store, DefaultWorkOrderLimit, opts),
		provisioner: provisioner,
	}
}

// Create normalizes raw and stores it as a pending workorder.
func (s *WorkOrderService) Create(ctx context.Context, raw []byte) (*stores.WorkOrder, error) {
	ctx = s.withTelemetry(ctx)

	wo, err := s.intake.WorkOrder(raw)
	if err != nil {
		return nil, s.invalid(err)
	}
	if err := s.store.CreateWorkOrder(ctx, wo); err != nil {
		return nil, NewInternalError("failed to create workorder", err)
	}

	s.logger.Info().Int64("id", wo.ID).Str("vm_name", wo.Name).Msg("workorder created")
	telemetry.OrderCreated(ctx, string(s.kind), wo.ID, ActorFromContext(ctx))
	return wo, nil
}

// Get returns one workorder.
func (s *WorkOrderService) Get(ctx context.Context, id int64) (*stores.WorkOrder, error) {
	wo, err := s.store.GetWorkOrder(ctx, id)
	if err != nil {
		return nil, s.storeError(id, "failed to get workorder", err)
	}
	return wo, nil
}

// List returns a newest-first page of workorders.
func (s *WorkOrderService) List(ctx context.Context, filter stores.ListFilter) ([]*stores.WorkOrder, error) {
	filter, err := s.filter(filter)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListWorkOrders(ctx, filter)
	if err != nil {
		return nil, NewInternalError("failed to list workorders", err)
	}
	return list, nil
}

// Update patches descriptive fields. Status is never patchable.
func (s *WorkOrderService) Update(ctx context.Context, id int64, raw []byte) (*stores.WorkOrder, error) {
	ctx = s.withTelemetry(ctx)

	changes, err := s.intake.WorkOrderPatch(raw)
	if err != nil {
		return nil, s.invalid(err)
	}
	wo, err := s.store.UpdateWorkOrder(ctx, id, changes)
	if err != nil {
		return nil, s.storeError(id, "failed to update workorder", err)
	}

	s.logger.Info().Int64("id", id).Strs("fields", changes.Columns()).Msg("workorder updated")
	telemetry.OrderChanged(ctx, string(s.kind), id, telemetry.EventUpdated, ActorFromContext(ctx))
	return wo, nil
}

// Delete removes a workorder.
func (s *WorkOrderService) Delete(ctx context.Context, id int64) error {
	ctx = s.withTelemetry(ctx)

	if err := s.store.DeleteWorkOrder(ctx, id); err != nil {
		return s.storeError(id, "failed to delete workorder", err)
	}

	s.logger.Info().Int64("id", id).Msg("workorder deleted")
	telemetry.OrderChanged(ctx, string(s.kind), id, telemetry.EventDeleted, ActorFromContext(ctx))
	return nil
}

// Approve marks a workorder approved from any status, which also re-arms a
// completed or failed workorder for another execution.
func (s *WorkOrderService) Approve(ctx context.Context, id int64) (*stores.WorkOrder, error) {
	return s.transition(ctx, id, EventApprove)
}

// Reject marks a workorder rejected from any status.
func (s *WorkOrderService) Reject(ctx context.Context, id int64) (*stores.WorkOrder, error) {
	return s.transition(ctx, id, EventReject)
}

func (s *WorkOrderService) transition(ctx context.Context, id int64, event Event) (*stores.WorkOrder, error) {
	ctx = s.withTelemetry(ctx)

	wo, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fire(ctx, id, wo.Status, event, nil, nil); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Execute provisions an approved workorder. The executing status and start
// marker are committed before the tool runs, so a crash mid-run leaves the
// workorder visibly executing. Once started the run is not cancelled by ctx.
func (s *WorkOrderService) Execute(ctx context.Context, id int64) (*stores.WorkOrder, error) {
	ctx = s.withTelemetry(ctx)

	wo, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var log execLog
	log.printf("Execution started at %s", s.timestamp())
	if err := s.fire(ctx, id, wo.Status, EventStart, log.ptr(), nil); err != nil {
		return nil, err
	}

	ex := telemetry.StartExecution(ctx, string(s.kind), id)
	work := context.WithoutCancel(ex.Ctx)

	outcome, err := s.provision(work, id, &log)
	ex.Finish(outcome, err)
	if err != nil {
		telemetry.RecordFailure(work, err)
		return nil, err
	}
	return s.Get(work, id)
}

func (s *WorkOrderService) provision(ctx context.Context, id int64, log *execLog) (string, error) {
	wo, err := s.Get(ctx, id)
	if err != nil {
		return "error", err
	}

	res, err := s.provisioner.Provision(ctx, wo)
	if err != nil {
		s.logger.Error().Err(err).Int64("id", id).Msg("provisioning could not run; workorder left executing")
		return "error", NewInternalError("provisioning could not be run", err).
			WithResource(s.resource(id)).
			WithOperation("execute")
	}

	for _, phase := range res.Phases {
		log.section(phase.Phase, phase.Stdout, phase.Stderr)
	}

	if res.Success {
		vmID := res.VMID
		if vmID == "" {
			vmID = "N/A"
		}
		log.printf("Provisioning completed at %s. VM ID: %s", s.timestamp(), vmID)

		var resourceID *string
		if res.VMID != "" {
			resourceID = &res.VMID
		}
		if err := s.finish(ctx, id, EventSucceed, log, resourceID); err != nil {
			return "error", err
		}
		return "completed", nil
	}

	phase, exitCode, stderr := "unknown", -1, ""
	if failed := res.Failed(); failed != nil {
		phase, exitCode, stderr = failed.Phase, failed.ExitCode, failed.Stderr
	}
	log.printf("Provisioning failed during %s (exit code %d): %s", phase, exitCode, stderr)
	if err := s.finish(ctx, id, EventFail, log, nil); err != nil {
		return "error", err
	}

	return "failed", NewExternalToolError(fmt.Sprintf("provisioning failed during %s", phase), nil).
		WithResource(s.resource(id)).
		WithOperation("execute").
		WithDetail("phase", phase).
		WithDetail("exit_code", exitCode).
		WithDetail("stderr", stderr)
}

// Log returns the last execution log.
func (s *WorkOrderService) Log(ctx context.Context, id int64) (*LogView, error) {
	wo, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LogView{ID: wo.ID, Status: wo.Status, Log: wo.LastExecutionLog}, nil
}

// Status returns the status, VM id and the actions a client may take next.
func (s *WorkOrderService) Status(ctx context.Context, id int64) (*StatusView, error) {
	wo, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.statusView(wo.ID, wo.Status, wo.UpdatedAt)
	view.VMID = wo.VMID
	return view, nil
}

// Review evaluates the advisory policies against a workorder. The result
// never changes the workorder.
func (s *WorkOrderService) Review(ctx context.Context, id int64) (*policy.Review, error) {
	ctx = s.withTelemetry(ctx)

	if s.reviewer == nil {
		return nil, NewInternalError("policy review is not configured", nil)
	}
	wo, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	review, err := s.reviewer.Review(policy.WithActor(ctx, ActorFromContext(ctx)), wo)
	if err != nil {
		return nil, NewInternalError("failed to review workorder", err).WithResource(s.resource(id))
	}
	telemetry.PolicyReviewed(ctx, review.Allowed)
	return review, nil
}

// Audit lists the audit trail of one workorder, newest first.
func (s *WorkOrderService) Audit(ctx context.Context, id int64, limit, offset int) ([]*stores.AuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit(ctx, id, limit, offset)
}
