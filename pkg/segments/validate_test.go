package segments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func validConfig() Config {
	return Config{
		VNIName:     "ITAAS-ERS-APP-TESTBED",
		CIDR:        "10.184.36.160/28",
		Gateway:     "10.184.36.174",
		T0Gateway:   "itaas-t0-gw",
		T1Gateway:   "itaas-t1-gw",
		Description: "ERS-APP",
	}
}

func contains(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestValidateConfigCIDR(t *testing.T) {
	tests := []struct {
		cidr    string
		valid   bool
		wantErr string
	}{
		{"10.0.0.0/24", true, ""},
		{"10.0.0.0/0", true, ""},
		{"10.0.0.0/32", true, ""},
		{"10.0.0.0", false, "Invalid CIDR format. Expected format: x.x.x.x/y"},
		{"bad-cidr", false, "Invalid CIDR format"},
		{"10.0.0.0/33", false, "Invalid subnet mask. Must be between 0 and 32"},
		{"10.0.0.0/-1", false, "Invalid subnet mask. Must be between 0 and 32"},
		{"10.0.0.0/abc", false, "Invalid CIDR format"},
		{"300.0.0.0/24", false, "Invalid CIDR format"},
		{"fe80::/64", false, "Invalid CIDR format"},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			cfg := validConfig()
			cfg.CIDR = tt.cidr
			cfg.Gateway = "10.0.0.1"

			res := ValidateConfig(cfg)
			if res.Valid != tt.valid {
				t.Fatalf("Valid = %v, want %v (errors %v)", res.Valid, tt.valid, res.Errors)
			}
			if tt.wantErr != "" && !contains(res.Errors, tt.wantErr) {
				t.Errorf("errors %v do not contain %q", res.Errors, tt.wantErr)
			}
		})
	}
}

func TestValidateConfigMissingFields(t *testing.T) {
	res := ValidateConfig(Config{})
	if res.Valid {
		t.Fatal("empty config should be invalid")
	}

	for _, field := range []string{"vni_name", "cidr", "gateway", "t0_gw", "t1_gw", "description"} {
		if !contains(res.Errors, "Missing required field: "+field) {
			t.Errorf("expected missing field error for %s, got %v", field, res.Errors)
		}
	}
	if len(res.Errors) != 6 {
		t.Errorf("expected 6 errors, got %d: %v", len(res.Errors), res.Errors)
	}
}

func TestValidateConfigName(t *testing.T) {
	cfg := validConfig()
	cfg.VNIName = strings.Repeat("a", MaxNameLength+1)
	res := ValidateConfig(cfg)
	if res.Valid || !contains(res.Errors, "VNI name too long. Maximum 255 characters allowed") {
		t.Errorf("expected name length error, got %+v", res)
	}

	cfg = validConfig()
	cfg.VNIName = "app segment.1"
	res = ValidateConfig(cfg)
	if !res.Valid {
		t.Fatalf("special characters should only warn, got %v", res.Errors)
	}
	if !contains(res.Warnings, "VNI name contains special characters") {
		t.Errorf("expected special character warning, got %v", res.Warnings)
	}

	cfg.VNIName = "app-segment_1"
	if res = ValidateConfig(cfg); len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", res.Warnings)
	}
}

func TestValidateConfigContainmentWarnings(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway = "10.184.37.1"
	cfg.FirstIP = "10.184.36.161"
	cfg.LastIP = "not-an-ip"

	res := ValidateConfig(cfg)
	if !res.Valid {
		t.Fatalf("containment problems should only warn, got %v", res.Errors)
	}
	if !contains(res.Warnings, "Gateway 10.184.37.1 is outside 10.184.36.160/28") {
		t.Errorf("expected gateway warning, got %v", res.Warnings)
	}
	if contains(res.Warnings, "First IP") {
		t.Errorf("first IP is inside the prefix, got %v", res.Warnings)
	}
	if !contains(res.Warnings, "Last IP not-an-ip is not a valid IP address") {
		t.Errorf("expected last IP warning, got %v", res.Warnings)
	}
}

func TestValidateConfigEmptySlices(t *testing.T) {
	res := ValidateConfig(validConfig())
	if !res.Valid || res.Errors == nil || res.Warnings == nil {
		t.Errorf("expected valid result with empty, non-nil slices: %+v", res)
	}
}

type stubCreator struct {
	res   *CreateResult
	err   error
	calls int
}

func (s *stubCreator) Create(context.Context, Config) (*CreateResult, error) {
	s.calls++
	return s.res, s.err
}

func TestSimulatedCreator(t *testing.T) {
	c := NewSimulatedCreator(func() time.Time { return time.Unix(1700000000, 0) })
	res, err := c.Create(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !res.Success || res.SegmentID != "vni-1700000000" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Message != "VNI 'ITAAS-ERS-APP-TESTBED' created successfully" {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestAdapterCreate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		stub := &stubCreator{res: &CreateResult{Success: true, SegmentID: "seg-1"}}
		a := NewAdapter(stub, zerolog.Nop())
		res, err := a.Create(context.Background(), validConfig())
		if err != nil || !res.Success || res.SegmentID != "seg-1" {
			t.Errorf("Create = %+v, %v", res, err)
		}
	})

	t.Run("refused", func(t *testing.T) {
		stub := &stubCreator{res: &CreateResult{Success: false, Message: "quota exceeded"}}
		a := NewAdapter(stub, zerolog.Nop())
		res, err := a.Create(context.Background(), validConfig())
		if err != nil {
			t.Fatalf("a refusal is not an error: %v", err)
		}
		if res.Success || res.Message != "quota exceeded" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		stub := &stubCreator{err: errors.New("connection refused")}
		a := NewAdapter(stub, zerolog.Nop())
		if _, err := a.Create(context.Background(), validConfig()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("default creator", func(t *testing.T) {
		a := NewAdapter(nil, zerolog.Nop())
		res, err := a.Create(context.Background(), validConfig())
		if err != nil || !strings.HasPrefix(res.SegmentID, "vni-") {
			t.Errorf("Create = %+v, %v", res, err)
		}
	})
}
