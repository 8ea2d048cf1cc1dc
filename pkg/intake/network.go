package intake

import (
	"time"

	"github.com/openfroyo/workorders/pkg/stores"
)

type networkOrderRequest struct {
	Owner           text   `json:"owner"`
	RequestedDate   text   `json:"requested_date"`
	RequestedBy     text   `json:"requested_by"`
	VirtualMachines []text `json:"virtual_machines"`
	Deadline        text   `json:"deadline"`
	Project         text   `json:"project"`
	T0Gateway       text   `json:"t0_gw"`
	T1Gateway       text   `json:"t1_gw"`
	Description     text   `json:"description"`
	VNIName         text   `json:"vni_name"`
	CIDR            text   `json:"cidr"`
	SubnetMask      text   `json:"subnet_mask"`
	Gateway         text   `json:"gateway"`
	FirstIP         text   `json:"first_ip"`
	LastIP          text   `json:"last_ip"`
	NumberOfIPs     number `json:"number_of_ips"`
	Notes           text   `json:"notes"`
	Priority        text   `json:"priority"`
	AssignedTo      text   `json:"assigned_to"`
}

// networkOrderInput holds the canonical values the validator checks. CIDR
// syntax is checked by the segment adapter at execute time, not here.
type networkOrderInput struct {
	Owner       string `json:"owner" validate:"required"`
	RequestedBy string `json:"requested_by" validate:"required"`
	Project     string `json:"project" validate:"required"`
	T0Gateway   string `json:"t0_gw" validate:"required"`
	T1Gateway   string `json:"t1_gw" validate:"required"`
	Description string `json:"description" validate:"required"`
	VNIName     string `json:"vni_name" validate:"required"`
	CIDR        string `json:"cidr" validate:"required"`
	Gateway     string `json:"gateway" validate:"required"`
	NumberOfIPs *int   `json:"number_of_ips" validate:"omitempty,gte=0"`
	Priority    string `json:"priority" validate:"oneof=low normal high critical"`
}

// NetworkOrder normalizes a create request into a pending network order.
// Missing requested_date and deadline default to the current time, as do
// unparseable ones.
func (n *Normalizer) NetworkOrder(raw []byte) (*stores.NetworkOrder, error) {
	verr := &ValidationError{}
	var req networkOrderRequest
	if !decode(raw, &req, verr) {
		return nil, verr
	}

	in := networkOrderInput{
		Owner:       textValue("owner", req.Owner, verr),
		RequestedBy: textValue("requested_by", req.RequestedBy, verr),
		Project:     textValue("project", req.Project, verr),
		T0Gateway:   textValue("t0_gw", req.T0Gateway, verr),
		T1Gateway:   textValue("t1_gw", req.T1Gateway, verr),
		Description: textValue("description", req.Description, verr),
		VNIName:     textValue("vni_name", req.VNIName, verr),
		CIDR:        textValue("cidr", req.CIDR, verr),
		Gateway:     textValue("gateway", req.Gateway, verr),
		NumberOfIPs: wholeNumber("number_of_ips", req.NumberOfIPs, verr),
		Priority:    textValue("priority", req.Priority, verr),
	}
	if in.Priority == "" {
		in.Priority = string(stores.PriorityNormal)
	}
	vms := virtualMachines(req.VirtualMachines, verr)

	if err := verr.collect(n.validate.Struct(in), ""); err != nil {
		return nil, err
	}
	verr.dedupe()
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	requested := n.timestamp("requested_date", req.RequestedDate)
	deadline := n.timestamp("deadline", req.Deadline)

	return &stores.NetworkOrder{
		Owner:           in.Owner,
		RequestedDate:   &requested,
		RequestedBy:     in.RequestedBy,
		VirtualMachines: vms,
		Deadline:        &deadline,
		Project:         in.Project,
		T0Gateway:       in.T0Gateway,
		T1Gateway:       in.T1Gateway,
		Description:     in.Description,
		VNIName:         in.VNIName,
		CIDR:            in.CIDR,
		SubnetMask:      req.SubnetMask.ptr(),
		Gateway:         in.Gateway,
		FirstIP:         req.FirstIP.ptr(),
		LastIP:          req.LastIP.ptr(),
		NumberOfIPs:     in.NumberOfIPs,
		Notes:           req.Notes.ptr(),
		Priority:        stores.Priority(in.Priority),
		AssignedTo:      req.AssignedTo.ptr(),
		Status:          stores.StatusPending,
	}, nil
}

// virtualMachines keeps the non-blank entries of a VM reference list. An
// absent list stays nil.
func virtualMachines(in []text, verr *ValidationError) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, vm := range in {
		if vm.invalid {
			verr.add("virtual_machines", "virtual_machines must be a list of strings")
			return nil
		}
		if vm.value != "" {
			out = append(out, vm.value)
		}
	}
	return out
}

// optionalTime parses a patch timestamp; null clears the column.
func (n *Normalizer) optionalTime(field string, t text) *time.Time {
	if !t.set || t.value == "" {
		return nil
	}
	ts := n.timestamp(field, t)
	return &ts
}
