package provisioner

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openfroyo/workorders/pkg/stores"
)

// RenderVariables builds the tool variables for a workorder. Optional
// fields are emitted only when set. A template short-circuits the guest OS,
// hardware and NIC variables.
func RenderVariables(wo *stores.WorkOrder) map[string]any {
	vars := map[string]any{
		"vm_name":         wo.Name,
		"datacenter_name": deref(wo.DatacenterName),
		"cpu":             wo.CPU,
		"ram":             wo.RAM,
	}

	if wo.TemplateID != nil && *wo.TemplateID != "" {
		vars["template_id"] = *wo.TemplateID
	} else {
		vars["os"] = wo.OS
		setIf(vars, "hardware_version", wo.HardwareVersion)
		setIf(vars, "scsi_controller_type", wo.SCSIControllerType)
		if len(wo.NICs) > 0 {
			vars["nics"] = wo.NICs
		}
	}

	if len(wo.Disks) > 0 {
		vars["disks"] = wo.Disks
	}

	setIf(vars, "host_id", wo.HostID)
	setIf(vars, "resource_pool_id", wo.ResourcePoolID)
	setIf(vars, "ip_pool_id", wo.IPPoolID)
	setIf(vars, "folder_id", wo.FolderID)
	setIf(vars, "datastore_id", wo.DatastoreID)
	setIf(vars, "hostname", wo.Hostname)
	setIf(vars, "ip", wo.IP)
	setIf(vars, "netmask", wo.Netmask)
	setIf(vars, "gateway", wo.Gateway)
	setIf(vars, "domain", wo.Domain)

	return vars
}

// writeVarFile writes vars to a fresh JSON variable file in dir and returns
// its path. The caller owns removal.
func writeVarFile(dir string, vars map[string]any) (string, error) {
	f, err := os.CreateTemp(dir, "workorder-*.tfvars.json")
	if err != nil {
		return "", fmt.Errorf("failed to create variable file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(vars); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write variable file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close variable file: %w", err)
	}

	return f.Name(), nil
}

func setIf(vars map[string]any, key string, value *string) {
	if value != nil && *value != "" {
		vars[key] = *value
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
