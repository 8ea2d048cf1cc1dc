package intake

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/stores"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestNormalizer(buf *bytes.Buffer) *Normalizer {
	logger := zerolog.Nop()
	if buf != nil {
		logger = zerolog.New(buf)
	}
	return NewNormalizer(logger, func() time.Time { return fixedNow })
}

func validationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	return verr
}

func hasMessage(verr *ValidationError, substr string) bool {
	for _, m := range verr.Messages() {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func TestWorkOrderFlatShape(t *testing.T) {
	n := newTestNormalizer(nil)

	wo, err := n.WorkOrder([]byte(`{"name":"vm1","os":"ubuntu","host_version":"7.0","cpu":2,"ram":4096,"status":"completed"}`))
	if err != nil {
		t.Fatalf("WorkOrder failed: %v", err)
	}

	if wo.Status != stores.StatusPending {
		t.Errorf("expected pending, got %s", wo.Status)
	}
	if wo.Name != "vm1" || wo.OS != "ubuntu" || wo.HostVersion != "7.0" {
		t.Errorf("unexpected identity fields: %+v", wo)
	}
	if wo.CPU != 2 || wo.RAM != 4096 {
		t.Errorf("expected cpu=2 ram=4096, got cpu=%d ram=%d", wo.CPU, wo.RAM)
	}
	if wo.Disks != nil || wo.NICs != nil {
		t.Errorf("expected nil disks and nics, got %v %v", wo.Disks, wo.NICs)
	}
	if !wo.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected created_at %v, got %v", fixedNow, wo.CreatedAt)
	}
}

func TestWorkOrderLegacyShape(t *testing.T) {
	n := newTestNormalizer(nil)

	raw := `{
		"general": {"name": "legacy", "os": "rhel9", "hostVersion": "8.0"},
		"resources": {"cpu": "4", "ram": 8192, "disk": 60},
		"requested_at": "2024-05-01T10:00:00"
	}`
	wo, err := n.WorkOrder([]byte(raw))
	if err != nil {
		t.Fatalf("WorkOrder failed: %v", err)
	}

	if wo.Name != "legacy" || wo.OS != "rhel9" || wo.HostVersion != "8.0" {
		t.Errorf("legacy general not merged: %+v", wo)
	}
	if wo.CPU != 4 || wo.RAM != 8192 {
		t.Errorf("legacy resources not merged: cpu=%d ram=%d", wo.CPU, wo.RAM)
	}
	if wo.Disk == nil || *wo.Disk != 60 {
		t.Fatalf("expected disk 60, got %v", wo.Disk)
	}
	if len(wo.Disks) != 1 || wo.Disks[0].Size != 60 {
		t.Errorf("expected a synthesized disk list, got %v", wo.Disks)
	}

	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !wo.CreatedAt.Equal(want) {
		t.Errorf("expected created_at %v, got %v", want, wo.CreatedAt)
	}
}

func TestWorkOrderFlatKeysWin(t *testing.T) {
	n := newTestNormalizer(nil)

	wo, err := n.WorkOrder([]byte(`{
		"name": "flat", "cpu": 8,
		"general": {"name": "nested", "os": "debian", "hostVersion": "7.0"},
		"resources": {"cpu": 2, "ram": 1024}
	}`))
	if err != nil {
		t.Fatalf("WorkOrder failed: %v", err)
	}
	if wo.Name != "flat" || wo.CPU != 8 {
		t.Errorf("flat keys should win, got name=%s cpu=%d", wo.Name, wo.CPU)
	}
	if wo.OS != "debian" || wo.RAM != 1024 {
		t.Errorf("nested keys should fill gaps, got os=%s ram=%d", wo.OS, wo.RAM)
	}
}

func TestWorkOrderDerivedNIC(t *testing.T) {
	n := newTestNormalizer(nil)

	wo, err := n.WorkOrder([]byte(`{"name":"vm","os":"ubuntu","host_version":7,"cpu":1,"ram":512,
		"network_id":"dvportgroup-12","ip":"10.0.0.5"}`))
	if err != nil {
		t.Fatalf("WorkOrder failed: %v", err)
	}
	if wo.HostVersion != "7" {
		t.Errorf("numeric host_version should become text, got %q", wo.HostVersion)
	}
	if len(wo.NICs) != 1 || wo.NICs[0].NetworkID != "dvportgroup-12" || wo.NICs[0].IP != "10.0.0.5" {
		t.Errorf("expected nic derived from network_id, got %v", wo.NICs)
	}
}

func TestWorkOrderExplicitListsWin(t *testing.T) {
	n := newTestNormalizer(nil)

	wo, err := n.WorkOrder([]byte(`{"name":"vm","os":"ubuntu","host_version":"7.0","cpu":1,"ram":512,
		"disk": 10, "disks":[{"size":20,"provisioning":"thin"},{"size":"30"}],
		"network_id":"net-1", "nics":[{"network_id":"net-2"}]}`))
	if err != nil {
		t.Fatalf("WorkOrder failed: %v", err)
	}
	if len(wo.Disks) != 2 || wo.Disks[0].Provisioning != "thin" || wo.Disks[1].Size != 30 {
		t.Errorf("unexpected disks: %v", wo.Disks)
	}
	if len(wo.NICs) != 1 || wo.NICs[0].NetworkID != "net-2" {
		t.Errorf("unexpected nics: %v", wo.NICs)
	}
}

func TestWorkOrderMissingFields(t *testing.T) {
	n := newTestNormalizer(nil)

	_, err := n.WorkOrder([]byte(`{"name":"vm1","cpu":2}`))
	verr := validationError(t, err)
	if !verr.HasMissing() {
		t.Fatal("expected missing fields")
	}
	for _, field := range []string{"os", "host_version", "ram"} {
		if !hasMessage(verr, "Missing required field: "+field) {
			t.Errorf("expected missing %s, got %v", field, verr.Messages())
		}
	}
	if hasMessage(verr, "field: name") || hasMessage(verr, "field: cpu") {
		t.Errorf("present fields reported missing: %v", verr.Messages())
	}
}

func TestWorkOrderInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero cpu", `"cpu":0`, "cpu must be greater than 0"},
		{"fractional cpu", `"cpu":1.5`, "cpu must be a whole number"},
		{"text ram", `"ram":"lots"`, "ram must be a number"},
		{"bad ip", `"ip":"10.0.0.300"`, "ip must be a valid IP address"},
		{"bad provisioning", `"disks":[{"size":10,"provisioning":"sparse"}]`, "disks[0].provisioning must be one of"},
		{"nic without network", `"nics":[{"ip":"10.0.0.1"}]`, "Missing required field: nics[0].network_id"},
		{"disks not a list", `"disks":{"size":10}`, "disks must be a list"},
	}

	base := `"name":"vm","os":"ubuntu","host_version":"7.0","cpu":2,"ram":1024`
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(nil)
			// Later duplicate keys overwrite earlier ones.
			_, err := n.WorkOrder([]byte("{" + base + "," + tt.body + "}"))
			verr := validationError(t, err)
			if !hasMessage(verr, tt.want) {
				t.Errorf("expected %q, got %v", tt.want, verr.Messages())
			}
			if len(verr.Errors) != 1 {
				t.Errorf("expected exactly one error, got %v", verr.Messages())
			}
		})
	}
}

func TestWorkOrderRejectsNonObject(t *testing.T) {
	n := newTestNormalizer(nil)

	for _, body := range []string{``, `[]`, `"vm"`, `{"name":`} {
		_, err := n.WorkOrder([]byte(body))
		validationError(t, err)
	}
}

func TestWorkOrderUnparseableTimestampFallsBack(t *testing.T) {
	var buf bytes.Buffer
	n := newTestNormalizer(&buf)

	wo, err := n.WorkOrder([]byte(`{"name":"vm","os":"ubuntu","host_version":"7.0","cpu":1,"ram":512,"requested_at":"next tuesday"}`))
	if err != nil {
		t.Fatalf("WorkOrder failed: %v", err)
	}
	if !wo.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected fallback to now, got %v", wo.CreatedAt)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), "next tuesday") {
		t.Errorf("expected a warning naming the raw value, got %s", buf.String())
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), true},
		{"2024-05-01T12:00:00+02:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), true},
		{"2024-05-01T10:00:00.123456", time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), true},
		{"2024-05-01T10:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), true},
		{"2024-05-01 10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), true},
		{"2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"05/01/2024", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := parseTimestamp(tt.in)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("parseTimestamp(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

const networkBody = `{
	"owner": "netops", "requested_by": "alice", "project": "edge",
	"t0_gw": "t0-main", "t1_gw": "t1-edge", "description": "edge segment",
	"vni_name": "edge-01", "cidr": "bad-cidr", "gateway": "10.0.0.1",
	"virtual_machines": ["vm-1", "", "vm-2"], "number_of_ips": "50",
	"deadline": "2025-04-01"
}`

func TestNetworkOrder(t *testing.T) {
	n := newTestNormalizer(nil)

	no, err := n.NetworkOrder([]byte(networkBody))
	if err != nil {
		t.Fatalf("NetworkOrder failed: %v", err)
	}

	if no.Status != stores.StatusPending || no.Priority != stores.PriorityNormal {
		t.Errorf("expected pending/normal, got %s/%s", no.Status, no.Priority)
	}
	if no.CIDR != "bad-cidr" {
		t.Errorf("cidr is not checked at create time, got %q", no.CIDR)
	}
	if len(no.VirtualMachines) != 2 {
		t.Errorf("expected blank vm refs dropped, got %v", no.VirtualMachines)
	}
	if no.NumberOfIPs == nil || *no.NumberOfIPs != 50 {
		t.Errorf("expected number_of_ips 50, got %v", no.NumberOfIPs)
	}
	if no.RequestedDate == nil || !no.RequestedDate.Equal(fixedNow) {
		t.Errorf("expected requested_date to default to now, got %v", no.RequestedDate)
	}
	if no.Deadline == nil || !no.Deadline.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected deadline %v", no.Deadline)
	}
}

func TestNetworkOrderValidation(t *testing.T) {
	n := newTestNormalizer(nil)

	_, err := n.NetworkOrder([]byte(`{"owner":"netops","priority":"urgent"}`))
	verr := validationError(t, err)

	for _, field := range []string{"requested_by", "project", "t0_gw", "t1_gw", "description", "vni_name", "cidr", "gateway"} {
		if !hasMessage(verr, "Missing required field: "+field) {
			t.Errorf("expected missing %s, got %v", field, verr.Messages())
		}
	}
	if !hasMessage(verr, "priority must be one of: low, normal, high, critical") {
		t.Errorf("expected priority error, got %v", verr.Messages())
	}
}

func TestWorkOrderPatch(t *testing.T) {
	n := newTestNormalizer(nil)

	changes, err := n.WorkOrderPatch([]byte(`{"cpu":"4","hostname":"web-01","folder_id":null,"disks":[{"size":40}]}`))
	if err != nil {
		t.Fatalf("WorkOrderPatch failed: %v", err)
	}

	if changes["cpu"] != 4 {
		t.Errorf("expected cpu 4, got %v", changes["cpu"])
	}
	if h, ok := changes["hostname"].(*string); !ok || h == nil || *h != "web-01" {
		t.Errorf("unexpected hostname change %v", changes["hostname"])
	}
	if f, ok := changes["folder_id"].(*string); !ok || f != nil {
		t.Errorf("expected folder_id cleared, got %v", changes["folder_id"])
	}
	if d, ok := changes["disks"].([]stores.Disk); !ok || len(d) != 1 || d[0].Size != 40 {
		t.Errorf("unexpected disks change %v", changes["disks"])
	}
}

func TestWorkOrderPatchRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"status", `{"status":"completed"}`, "status cannot be updated directly"},
		{"unknown", `{"colour":"blue"}`, "unknown or read-only field: colour"},
		{"lifecycle column", `{"vm_id":"vm-9"}`, "unknown or read-only field: vm_id"},
		{"blank required", `{"name":""}`, "name cannot be empty"},
		{"null cpu", `{"cpu":null}`, "cpu must be greater than 0"},
		{"negative disk", `{"disk":-1}`, "disk must be greater than 0"},
		{"bad gateway", `{"gateway":"nope"}`, "gateway must be a valid IP address"},
		{"empty", `{}`, "no fields to update"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(nil)
			_, err := n.WorkOrderPatch([]byte(tt.body))
			verr := validationError(t, err)
			if !hasMessage(verr, tt.want) {
				t.Errorf("expected %q, got %v", tt.want, verr.Messages())
			}
		})
	}
}

func TestNetworkOrderPatch(t *testing.T) {
	n := newTestNormalizer(nil)

	changes, err := n.NetworkOrderPatch([]byte(`{"cidr":"10.1.0.0/24","priority":"high","number_of_ips":null,"deadline":"2025-06-01T00:00:00Z","virtual_machines":["vm-3"]}`))
	if err != nil {
		t.Fatalf("NetworkOrderPatch failed: %v", err)
	}

	if changes["cidr"] != "10.1.0.0/24" || changes["priority"] != "high" {
		t.Errorf("unexpected changes %v", changes)
	}
	if v, ok := changes["number_of_ips"].(*int); !ok || v != nil {
		t.Errorf("expected number_of_ips cleared, got %v", changes["number_of_ips"])
	}
	if d, ok := changes["deadline"].(*time.Time); !ok || d == nil || d.Month() != time.June {
		t.Errorf("unexpected deadline change %v", changes["deadline"])
	}
	if vms, ok := changes["virtual_machines"].([]string); !ok || len(vms) != 1 {
		t.Errorf("unexpected virtual_machines change %v", changes["virtual_machines"])
	}

	_, err = n.NetworkOrderPatch([]byte(`{"status":"approved","segment_id":"x"}`))
	verr := validationError(t, err)
	if len(verr.Errors) != 2 {
		t.Errorf("expected two errors, got %v", verr.Messages())
	}
}
