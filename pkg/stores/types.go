package stores

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status represents the lifecycle status of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if no further automatic transition happens from s
// without a fresh approve/execute cycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// Validate checks if the status is one of the known values.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusApproved, StatusRejected,
		StatusExecuting, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// Kind identifies which order table a record lives in.
type Kind string

const (
	KindWorkOrder    Kind = "workorder"
	KindNetworkOrder Kind = "network_order"
)

func (k Kind) table() string {
	switch k {
	case KindWorkOrder:
		return "workorders"
	case KindNetworkOrder:
		return "network_orders"
	default:
		return ""
	}
}

// resourceColumn is the column that receives the identifier returned by a
// successful provisioning attempt.
func (k Kind) resourceColumn() string {
	if k == KindNetworkOrder {
		return "segment_id"
	}
	return "vm_id"
}

// Priority is the urgency of a network allocation order.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Validate checks if the priority is one of the known values.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return nil
	default:
		return fmt.Errorf("invalid priority: %s", p)
	}
}

// Disk is a single virtual disk request.
type Disk struct {
	Size         float64 `json:"size"`
	Provisioning string  `json:"provisioning,omitempty"` // thin, thick, eagerZeroedThick
}

// NIC is a single network adapter request.
type NIC struct {
	NetworkID string `json:"network_id"`
	IP        string `json:"ip,omitempty"`
}

// WorkOrder is a persisted request to provision a virtual machine.
type WorkOrder struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	OS          string   `json:"os"`
	HostVersion string   `json:"host_version"`
	CPU         int      `json:"cpu"`
	RAM         int      `json:"ram"`
	Disk        *float64 `json:"disk"` // legacy single disk size
	Disks       []Disk   `json:"disks"`
	NICs        []NIC    `json:"nics"`

	// Placement hints, unvalidated references into inventory
	HostID         *string `json:"host_id"`
	ResourcePoolID *string `json:"resource_pool_id"`
	DatastoreID    *string `json:"datastore_id"`
	FolderID       *string `json:"folder_id"`
	DatacenterName *string `json:"datacenter_name"`
	TemplateID     *string `json:"template_id"`
	IPPoolID       *string `json:"ip_pool_id"`
	NetworkID      *string `json:"network_id"`

	// Guest network identity
	Hostname *string `json:"hostname"`
	IP       *string `json:"ip"`
	Netmask  *string `json:"netmask"`
	Gateway  *string `json:"gateway"`
	Domain   *string `json:"domain"`

	HardwareVersion    *string `json:"hardware_version"`
	SCSIControllerType *string `json:"scsi_controller_type"`
	VMID               *string `json:"vm_id"`

	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastExecutionLog *string   `json:"last_execution_log"`
}

// NetworkOrder is a persisted request to provision a network segment.
type NetworkOrder struct {
	ID              int64      `json:"id"`
	Owner           string     `json:"owner"`
	RequestedDate   *time.Time `json:"requested_date"`
	RequestedBy     string     `json:"requested_by"`
	VirtualMachines []string   `json:"virtual_machines"`
	Deadline        *time.Time `json:"deadline"`
	Project         string     `json:"project"`
	T0Gateway       string     `json:"t0_gw"`
	T1Gateway       string     `json:"t1_gw"`
	Description     string     `json:"description"`
	VNIName         string     `json:"vni_name"`
	CIDR            string     `json:"cidr"`
	SubnetMask      *string    `json:"subnet_mask"`
	Gateway         string     `json:"gateway"`
	FirstIP         *string    `json:"first_ip"`
	LastIP          *string    `json:"last_ip"`
	NumberOfIPs     *int       `json:"number_of_ips"`
	Notes           *string    `json:"notes"`
	Priority        Priority   `json:"priority"`
	AssignedTo      *string    `json:"assigned_to"`
	SegmentID       *string    `json:"segment_id"`

	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastExecutionLog *string   `json:"last_execution_log"`
}

// ListFilter selects a page of records ordered by creation time, newest first.
type ListFilter struct {
	Status Status // empty matches every status
	Limit  int
	Offset int
}

// Changes maps patchable column names to new values. Slice values are stored
// as JSON.
type Changes map[string]any

// Columns returns the changed column names in a stable order.
func (c Changes) Columns() []string {
	cols := make([]string, 0, len(c))
	for col := range c {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Transition describes a guarded status change.
type Transition struct {
	Kind Kind
	ID   int64

	// From lists the statuses the record must currently be in. Empty means any.
	From []Status
	To   Status

	// Log replaces last_execution_log when non-nil.
	Log *string

	// ResourceID is written to vm_id or segment_id when non-nil.
	ResourceID *string

	// Event and Actor are recorded in the audit trail.
	Event string
	Actor string
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g. "workorder.approve"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // "<kind>:<id>"
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// StatusConflictError is returned when a guarded transition finds the record
// in a status other than the expected ones.
type StatusConflictError struct {
	Kind     Kind
	ID       int64
	Current  Status
	Expected []Status
}

func (e *StatusConflictError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("%s %d is %s, expected %s", e.Kind, e.ID, e.Current, strings.Join(expected, " or "))
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// WorkOrder operations
	CreateWorkOrder(ctx context.Context, wo *WorkOrder) error
	GetWorkOrder(ctx context.Context, id int64) (*WorkOrder, error)
	ListWorkOrders(ctx context.Context, filter ListFilter) ([]*WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, id int64, changes Changes) (*WorkOrder, error)
	DeleteWorkOrder(ctx context.Context, id int64) error

	// NetworkOrder operations
	CreateNetworkOrder(ctx context.Context, no *NetworkOrder) error
	GetNetworkOrder(ctx context.Context, id int64) (*NetworkOrder, error)
	ListNetworkOrders(ctx context.Context, filter ListFilter) ([]*NetworkOrder, error)
	UpdateNetworkOrder(ctx context.Context, id int64, changes Changes) (*NetworkOrder, error)
	DeleteNetworkOrder(ctx context.Context, id int64) error

	// TransitionStatus atomically moves a record to t.To if its current
	// status is one of t.From, and returns the previous status.
	TransitionStatus(ctx context.Context, t Transition) (Status, error)

	// Audit operations
	ListAuditEntries(ctx context.Context, targetID *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
