package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		sizingPolicy(),
		namingPolicy(),
		imagePolicy(),
		guestNetworkPolicy(),
	}
}

// sizingPolicy checks requests against data.workorders.limits.
func sizingPolicy() Policy {
	return Policy{
		Name:        "vm-sizing",
		Description: "Keeps CPU, RAM and disk count under the configured ceilings",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"sizing", "capacity"},
		Rego: `package workorders.policies.sizing

import rego.v1

limits := data.workorders.limits

deny contains violation if {
	input.workorder.cpu > limits.max_cpu
	violation := {
		"message": sprintf("%d vCPUs exceeds the ceiling of %d", [input.workorder.cpu, limits.max_cpu]),
		"severity": "error",
		"field": "cpu",
	}
}

deny contains violation if {
	input.workorder.ram > limits.max_ram_mb
	violation := {
		"message": sprintf("%d MB of RAM exceeds the ceiling of %d MB", [input.workorder.ram, limits.max_ram_mb]),
		"severity": "error",
		"field": "ram",
	}
}

deny contains violation if {
	input.workorder.disks != null
	count(input.workorder.disks) > limits.max_disks
	violation := {
		"message": sprintf("%d disks exceeds the ceiling of %d", [count(input.workorder.disks), limits.max_disks]),
		"severity": "error",
		"field": "disks",
	}
}`,
	}
}

// namingPolicy keeps VM and guest host names DNS safe.
func namingPolicy() Policy {
	return Policy{
		Name:        "vm-naming",
		Description: "VM names are lowercase DNS labels; hostnames should be too",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package workorders.policies.naming

import rego.v1

dns_label := "^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$"

deny contains violation if {
	name := input.workorder.name
	lower(name) != name
	violation := {
		"message": sprintf("VM name '%s' must be lowercase", [name]),
		"severity": "error",
		"field": "name",
	}
}

deny contains violation if {
	name := input.workorder.name
	lower(name) == name
	not regex.match(dns_label, name)
	violation := {
		"message": sprintf("VM name '%s' must contain only letters, digits and inner hyphens, at most 63 characters", [name]),
		"severity": "error",
		"field": "name",
	}
}

deny contains violation if {
	hostname := input.workorder.hostname
	hostname != null
	not regex.match(dns_label, hostname)
	violation := {
		"message": sprintf("Hostname '%s' is not a lowercase DNS label", [hostname]),
		"severity": "warning",
		"field": "hostname",
	}
}`,
	}
}

// imagePolicy checks that a request either names a template or carries what
// a VM built from scratch needs.
func imagePolicy() Policy {
	return Policy{
		Name:        "vm-image",
		Description: "Template-based requests ignore OS hardware fields; from-scratch requests need them",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"completeness"},
		Rego: `package workorders.policies.image

import rego.v1

from_scratch if input.workorder.template_id == null

no_nics if input.workorder.nics == null

no_nics if count(input.workorder.nics) == 0

deny contains violation if {
	from_scratch
	input.workorder.hardware_version == null
	violation := {
		"message": "No template_id: hardware_version should be set",
		"severity": "warning",
		"field": "hardware_version",
	}
}

deny contains violation if {
	from_scratch
	no_nics
	violation := {
		"message": "No template_id and no NICs: the VM will have no network",
		"severity": "warning",
		"field": "nics",
	}
}

deny contains violation if {
	not from_scratch
	some field in ["hardware_version", "scsi_controller_type"]
	input.workorder[field] != null
	violation := {
		"message": sprintf("%s is ignored when template_id is set", [field]),
		"severity": "info",
		"field": field,
	}
}`,
	}
}

// guestNetworkPolicy checks that a static guest address is complete.
func guestNetworkPolicy() Policy {
	return Policy{
		Name:        "guest-network",
		Description: "A static guest IP needs a netmask and gateway",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"network"},
		Rego: `package workorders.policies.network

import rego.v1

deny contains violation if {
	input.workorder.ip != null
	some field in ["netmask", "gateway"]
	input.workorder[field] == null
	violation := {
		"message": sprintf("A static ip requires %s", [field]),
		"severity": "error",
		"field": field,
	}
}

deny contains violation if {
	input.workorder.ip != null
	input.workorder.ip_pool_id != null
	violation := {
		"message": "Both ip and ip_pool_id are set",
		"severity": "warning",
		"field": "ip_pool_id",
	}
}`,
	}
}
