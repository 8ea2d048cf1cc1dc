package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/workorders/pkg/segments"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// NetworkOrderService runs the network allocation order lifecycle and
// creates segments through a SegmentProvisioner.
type NetworkOrderService struct {
	base
	segments SegmentProvisioner
}

// NewNetworkOrderService creates a network order service over store.
func NewNetworkOrderService(store stores.Store, provisioner SegmentProvisioner, opts ...Option) *NetworkOrderService {
	return &NetworkOrderService{
		base:     newBase(stores.KindNetworkOrder, store, DefaultNetworkOrderLimit, opts),
		segments: provisioner,
	}
}

// Create normalizes raw and stores it as a pending network order. The CIDR
// is checked at execution, not here.
func (s *NetworkOrderService) Create(ctx context.Context, raw []byte) (*stores.NetworkOrder, error) {
	ctx = s.withTelemetry(ctx)

	no, err := s.intake.NetworkOrder(raw)
	if err != nil {
		return nil, s.invalid(err)
	}
	if err := s.store.CreateNetworkOrder(ctx, no); err != nil {
		return nil, NewInternalError("failed to create network order", err)
	}

	s.logger.Info().Int64("id", no.ID).Str("vni_name", no.VNIName).Msg("network order created")
	telemetry.OrderCreated(ctx, string(s.kind), no.ID, ActorFromContext(ctx))
	return no, nil
}

// Get returns one network order.
func (s *NetworkOrderService) Get(ctx context.Context, id int64) (*stores.NetworkOrder, error) {
	no, err := s.store.GetNetworkOrder(ctx, id)
	if err != nil {
		return nil, s.storeError(id, "failed to get network order", err)
	}
	return no, nil
}

// List returns a newest-first page of network orders.
func (s *NetworkOrderService) List(ctx context.Context, filter stores.ListFilter) ([]*stores.NetworkOrder, error) {
	filter, err := s.filter(filter)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListNetworkOrders(ctx, filter)
	if err != nil {
		return nil, NewInternalError("failed to list network orders", err)
	}
	return list, nil
}

// Update patches descriptive fields.
func (s *NetworkOrderService) Update(ctx context.Context, id int64, raw []byte) (*stores.NetworkOrder, error) {
	ctx = s.withTelemetry(ctx)

	changes, err := s.intake.NetworkOrderPatch(raw)
	if err != nil {
		return nil, s.invalid(err)
	}
	no, err := s.store.UpdateNetworkOrder(ctx, id, changes)
	if err != nil {
		return nil, s.storeError(id, "failed to update network order", err)
	}

	s.logger.Info().Int64("id", id).Strs("fields", changes.Columns()).Msg("network order updated")
	telemetry.OrderChanged(ctx, string(s.kind), id, telemetry.EventUpdated, ActorFromContext(ctx))
	return no, nil
}

// Delete removes a network order.
func (s *NetworkOrderService) Delete(ctx context.Context, id int64) error {
	ctx = s.withTelemetry(ctx)

	if err := s.store.DeleteNetworkOrder(ctx, id); err != nil {
		return s.storeError(id, "failed to delete network order", err)
	}

	s.logger.Info().Int64("id", id).Msg("network order deleted")
	telemetry.OrderChanged(ctx, string(s.kind), id, telemetry.EventDeleted, ActorFromContext(ctx))
	return nil
}

// Approve marks a network order approved from any status.
func (s *NetworkOrderService) Approve(ctx context.Context, id int64) (*stores.NetworkOrder, error) {
	return s.transition(ctx, id, EventApprove)
}

// Reject marks a network order rejected from any status.
func (s *NetworkOrderService) Reject(ctx context.Context, id int64) (*stores.NetworkOrder, error) {
	return s.transition(ctx, id, EventReject)
}

func (s *NetworkOrderService) transition(ctx context.Context, id int64, event Event) (*stores.NetworkOrder, error) {
	ctx = s.withTelemetry(ctx)

	no, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fire(ctx, id, no.Status, event, nil, nil); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ValidateSegment runs the segment checks without touching any order.
func (s *NetworkOrderService) ValidateSegment(cfg segments.Config) segments.ValidationResult {
	return s.segments.Validate(cfg)
}

// Execute validates the segment definition of an approved order and creates
// it. An invalid definition fails the order without asking the controller.
func (s *NetworkOrderService) Execute(ctx context.Context, id int64) (*stores.NetworkOrder, error) {
	ctx = s.withTelemetry(ctx)

	no, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var log execLog
	log.printf("Execution started at %s", s.timestamp())
	if err := s.fire(ctx, id, no.Status, EventStart, log.ptr(), nil); err != nil {
		return nil, err
	}

	ex := telemetry.StartExecution(ctx, string(s.kind), id)
	work := context.WithoutCancel(ex.Ctx)

	outcome, err := s.create(work, no, &log)
	ex.Finish(outcome, err)
	if err != nil {
		telemetry.RecordFailure(work, err)
		return nil, err
	}
	return s.Get(work, id)
}

func (s *NetworkOrderService) create(ctx context.Context, no *stores.NetworkOrder, log *execLog) (string, error) {
	id := no.ID
	cfg := segments.ConfigFromOrder(no)

	check := s.segments.Validate(cfg)
	if !check.Valid {
		log.printf("Validation failed: %s", strings.Join(check.Errors, ", "))
		if err := s.finish(ctx, id, EventFail, log, nil); err != nil {
			return "error", err
		}
		return "failed", NewValidationError("segment configuration is invalid", nil).
			WithResource(s.resource(id)).
			WithOperation("execute").
			WithDetail("errors", check.Errors).
			WithDetail("warnings", check.Warnings)
	}
	for _, w := range check.Warnings {
		log.printf("Warning: %s", w)
	}

	res, err := s.segments.Create(ctx, cfg)
	if err != nil {
		s.logger.Error().Err(err).Int64("id", id).Msg("segment creation could not run; network order left executing")
		return "error", NewInternalError("segment creation could not be run", err).
			WithResource(s.resource(id)).
			WithOperation("execute")
	}

	if !res.Success {
		log.printf("VNI creation failed: %s", res.Message)
		if err := s.finish(ctx, id, EventFail, log, nil); err != nil {
			return "error", err
		}
		return "failed", NewExternalToolError(fmt.Sprintf("VNI creation failed: %s", res.Message), nil).
			WithResource(s.resource(id)).
			WithOperation("execute")
	}

	log.printf("VNI '%s' created successfully at %s. VNI ID: %s", cfg.VNIName, s.timestamp(), res.SegmentID)
	var segmentID *string
	if res.SegmentID != "" {
		segmentID = &res.SegmentID
	}
	if err := s.finish(ctx, id, EventSucceed, log, segmentID); err != nil {
		return "error", err
	}
	return "completed", nil
}

// Log returns the last execution log.
func (s *NetworkOrderService) Log(ctx context.Context, id int64) (*LogView, error) {
	no, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LogView{ID: no.ID, Status: no.Status, Log: no.LastExecutionLog}, nil
}

// Status returns the status, segment id and the actions a client may take
// next.
func (s *NetworkOrderService) Status(ctx context.Context, id int64) (*StatusView, error) {
	no, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.statusView(no.ID, no.Status, no.UpdatedAt)
	view.SegmentID = no.SegmentID
	return view, nil
}

// Audit lists the audit trail of one network order, newest first.
func (s *NetworkOrderService) Audit(ctx context.Context, id int64, limit, offset int) ([]*stores.AuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit(ctx, id, limit, offset)
}
