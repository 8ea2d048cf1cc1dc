package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/openfroyo/workorders/pkg/stores"
)

type columnKind int

const (
	colText         columnKind = iota // nullable string
	colRequiredText                   // non-blank string
	colPositiveInt                    // integer > 0
	colCount                          // nullable integer >= 0
	colSize                           // nullable number > 0
	colAddress                        // nullable IP address
	colDisks
	colNICs
	colStrings
	colTime
	colPriority
)

var workOrderColumns = map[string]columnKind{
	"name":                 colRequiredText,
	"os":                   colRequiredText,
	"host_version":         colRequiredText,
	"cpu":                  colPositiveInt,
	"ram":                  colPositiveInt,
	"disk":                 colSize,
	"disks":                colDisks,
	"nics":                 colNICs,
	"host_id":              colText,
	"resource_pool_id":     colText,
	"datastore_id":         colText,
	"folder_id":            colText,
	"datacenter_name":      colText,
	"template_id":          colText,
	"ip_pool_id":           colText,
	"network_id":           colText,
	"hostname":             colText,
	"ip":                   colAddress,
	"netmask":              colAddress,
	"gateway":              colAddress,
	"domain":               colText,
	"hardware_version":     colText,
	"scsi_controller_type": colText,
}

var networkOrderColumns = map[string]columnKind{
	"owner":            colRequiredText,
	"requested_date":   colTime,
	"requested_by":     colRequiredText,
	"virtual_machines": colStrings,
	"deadline":         colTime,
	"project":          colRequiredText,
	"t0_gw":            colRequiredText,
	"t1_gw":            colRequiredText,
	"description":      colRequiredText,
	"vni_name":         colRequiredText,
	"cidr":             colRequiredText,
	"subnet_mask":      colText,
	"gateway":          colRequiredText,
	"first_ip":         colText,
	"last_ip":          colText,
	"number_of_ips":    colCount,
	"notes":            colText,
	"priority":         colPriority,
	"assigned_to":      colText,
}

// WorkOrderPatch validates an update request against the workorder's
// descriptive fields. Status and other lifecycle columns cannot be patched.
func (n *Normalizer) WorkOrderPatch(raw []byte) (stores.Changes, error) {
	return n.patch(raw, stores.KindWorkOrder, workOrderColumns)
}

// NetworkOrderPatch validates an update request against the network order's
// descriptive fields.
func (n *Normalizer) NetworkOrderPatch(raw []byte) (stores.Changes, error) {
	return n.patch(raw, stores.KindNetworkOrder, networkOrderColumns)
}

func (n *Normalizer) patch(raw []byte, kind stores.Kind, columns map[string]columnKind) (stores.Changes, error) {
	verr := &ValidationError{}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		verr.add("", "request body must be a JSON object")
		return nil, verr
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		verr.add("", "request body is not valid JSON")
		return nil, verr
	}

	patchable := stores.PatchableColumns(kind)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	changes := make(stores.Changes, len(fields))
	for _, name := range names {
		if name == "status" {
			verr.add(name, "status cannot be updated directly; use approve, reject or execute")
			continue
		}
		ck, known := columns[name]
		if !known || !slices.Contains(patchable, name) {
			verr.add(name, "unknown or read-only field: %s", name)
			continue
		}
		if v, ok := n.patchValue(name, ck, fields[name], verr); ok {
			changes[name] = v
		}
	}

	if len(fields) == 0 {
		verr.add("", "no fields to update")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return changes, nil
}

// patchValue decodes one column. The returned value has the Go type the
// store writes for that column; nil clears a nullable column.
func (n *Normalizer) patchValue(name string, ck columnKind, raw json.RawMessage, verr *ValidationError) (any, bool) {
	before := len(verr.Errors)
	fail := func(format string, args ...any) (any, bool) {
		verr.add(name, format, args...)
		return nil, false
	}

	switch ck {
	case colText, colRequiredText, colAddress, colPriority, colTime:
		var t text
		_ = json.Unmarshal(raw, &t)
		if t.invalid {
			return fail("%s must be a string", name)
		}
		switch ck {
		case colRequiredText:
			if t.value == "" {
				return fail("%s cannot be empty", name)
			}
			return t.value, true
		case colAddress:
			if t.value != "" {
				if err := verr.collect(n.validate.Var(t.value, "ip"), name); err != nil {
					return fail("%s: %v", name, err)
				}
			}
		case colPriority:
			if t.value == "" {
				return string(stores.PriorityNormal), true
			}
			if err := stores.Priority(t.value).Validate(); err != nil {
				return fail("%s must be one of: low, normal, high, critical", name)
			}
			return t.value, true
		case colTime:
			return n.optionalTime(name, t), true
		}
		if len(verr.Errors) > before {
			return nil, false
		}
		return t.ptr(), true

	case colPositiveInt, colCount:
		var num number
		_ = json.Unmarshal(raw, &num)
		v := wholeNumber(name, num, verr)
		if len(verr.Errors) > before {
			return nil, false
		}
		if ck == colPositiveInt {
			if v == nil || *v <= 0 {
				return fail("%s must be greater than 0", name)
			}
			return *v, true
		}
		if v != nil && *v < 0 {
			return fail("%s must be at least 0", name)
		}
		return v, true

	case colSize:
		var num number
		_ = json.Unmarshal(raw, &num)
		v := realNumber(name, num, verr)
		if len(verr.Errors) > before {
			return nil, false
		}
		if v != nil && *v <= 0 {
			return fail("%s must be greater than 0", name)
		}
		return v, true

	case colDisks:
		var reqs []diskRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return fail("%s must be a list", name)
		}
		if reqs == nil {
			return []stores.Disk(nil), true
		}
		in := make([]diskInput, 0, len(reqs))
		for i, d := range reqs {
			size := realNumber(fmt.Sprintf("disks[%d].size", i), d.Size, verr)
			if size == nil {
				size = new(float64)
			}
			in = append(in, diskInput{Size: *size, Provisioning: d.Provisioning.value})
		}
		for i, d := range in {
			if err := verr.collect(n.validate.Struct(d), fmt.Sprintf("disks[%d]", i)); err != nil {
				return fail("%s: %v", name, err)
			}
		}
		if len(verr.Errors) > before {
			return nil, false
		}
		disks := make([]stores.Disk, len(in))
		for i, d := range in {
			disks[i] = stores.Disk{Size: d.Size, Provisioning: d.Provisioning}
		}
		return disks, true

	case colNICs:
		var reqs []nicRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return fail("%s must be a list", name)
		}
		if reqs == nil {
			return []stores.NIC(nil), true
		}
		nics := make([]stores.NIC, len(reqs))
		for i, r := range reqs {
			in := nicInput{NetworkID: r.NetworkID.value, IP: r.IP.value}
			if err := verr.collect(n.validate.Struct(in), fmt.Sprintf("nics[%d]", i)); err != nil {
				return fail("%s: %v", name, err)
			}
			nics[i] = stores.NIC{NetworkID: in.NetworkID, IP: in.IP}
		}
		if len(verr.Errors) > before {
			return nil, false
		}
		return nics, true

	case colStrings:
		var items []text
		if err := json.Unmarshal(raw, &items); err != nil {
			return fail("%s must be a list of strings", name)
		}
		vms := virtualMachines(items, verr)
		if len(verr.Errors) > before {
			return nil, false
		}
		return vms, true
	}

	return fail("unsupported field: %s", name)
}
