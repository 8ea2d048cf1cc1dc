package segments

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/telemetry"
)

// CreateResult is what the network controller reports for a create call.
type CreateResult struct {
	Success   bool   `json:"success"`
	SegmentID string `json:"vni_id,omitempty"`
	Message   string `json:"message"`
}

// Creator allocates a segment on the network controller. A returned error
// means the controller could not be asked at all; a refusal is reported in
// the result.
type Creator interface {
	Create(ctx context.Context, cfg Config) (*CreateResult, error)
}

// SimulatedCreator stands in for a network controller and always succeeds
// with a time-derived id.
type SimulatedCreator struct {
	now func() time.Time
}

// NewSimulatedCreator returns a creator that allocates ids of the form
// "vni-<unix seconds>".
func NewSimulatedCreator(now func() time.Time) *SimulatedCreator {
	if now == nil {
		now = time.Now
	}
	return &SimulatedCreator{now: now}
}

// Create implements Creator.
func (c *SimulatedCreator) Create(_ context.Context, cfg Config) (*CreateResult, error) {
	return &CreateResult{
		Success:   true,
		SegmentID: fmt.Sprintf("vni-%d", c.now().Unix()),
		Message:   fmt.Sprintf("VNI '%s' created successfully", cfg.VNIName),
	}, nil
}

// Adapter validates segment definitions and forwards valid ones to a Creator.
type Adapter struct {
	creator Creator
	logger  zerolog.Logger
}

// NewAdapter wraps creator. A nil creator selects the simulated one.
func NewAdapter(creator Creator, logger zerolog.Logger) *Adapter {
	if creator == nil {
		creator = NewSimulatedCreator(nil)
	}
	return &Adapter{
		creator: creator,
		logger:  logger.With().Str("component", "segments").Logger(),
	}
}

// Validate runs ValidateConfig.
func (a *Adapter) Validate(cfg Config) ValidationResult {
	res := ValidateConfig(cfg)
	if !res.Valid {
		a.logger.Info().
			Str("vni_name", cfg.VNIName).
			Strs("errors", res.Errors).
			Msg("segment configuration rejected")
	}
	return res
}

// Create asks the controller for a new segment.
func (a *Adapter) Create(ctx context.Context, cfg Config) (*CreateResult, error) {
	a.logger.Info().Str("vni_name", cfg.VNIName).Str("cidr", cfg.CIDR).Msg("creating VNI")

	var res *CreateResult
	err := telemetry.RecordProviderOperation(ctx, "network-controller", "create", func(ctx context.Context) error {
		var err error
		res, err = a.creator.Create(ctx, cfg)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("create refused: %s", res.Message)
		}
		return nil
	})
	if res == nil {
		return nil, fmt.Errorf("failed to create VNI %q: %w", cfg.VNIName, err)
	}

	if res.Success {
		a.logger.Info().Str("vni_id", res.SegmentID).Msg("VNI created successfully")
	} else {
		a.logger.Warn().Str("vni_name", cfg.VNIName).Str("message", res.Message).Msg("VNI creation failed")
	}
	return res, nil
}
