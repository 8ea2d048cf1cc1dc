package intake

import (
	"fmt"

	"github.com/openfroyo/workorders/pkg/stores"
)

// legacyGeneral and legacyResources are the nested shape sent by the first
// version of the request form.
type legacyGeneral struct {
	Name             text `json:"name"`
	OS               text `json:"os"`
	HostVersion      text `json:"hostVersion"`
	HostVersionSnake text `json:"host_version"`
}

type legacyResources struct {
	CPU  number `json:"cpu"`
	RAM  number `json:"ram"`
	Disk number `json:"disk"`
}

type diskRequest struct {
	Size         number `json:"size"`
	Provisioning text   `json:"provisioning"`
}

type nicRequest struct {
	NetworkID text `json:"network_id"`
	IP        text `json:"ip"`
}

type workOrderRequest struct {
	Name        text   `json:"name"`
	OS          text   `json:"os"`
	HostVersion text   `json:"host_version"`
	CPU         number `json:"cpu"`
	RAM         number `json:"ram"`
	Disk        number `json:"disk"`

	Disks []diskRequest `json:"disks"`
	NICs  []nicRequest  `json:"nics"`

	HostID         text `json:"host_id"`
	ResourcePoolID text `json:"resource_pool_id"`
	DatastoreID    text `json:"datastore_id"`
	FolderID       text `json:"folder_id"`
	DatacenterName text `json:"datacenter_name"`
	TemplateID     text `json:"template_id"`
	IPPoolID       text `json:"ip_pool_id"`
	NetworkID      text `json:"network_id"`

	Hostname text `json:"hostname"`
	IP       text `json:"ip"`
	Netmask  text `json:"netmask"`
	Gateway  text `json:"gateway"`
	Domain   text `json:"domain"`

	HardwareVersion    text `json:"hardware_version"`
	SCSIControllerType text `json:"scsi_controller_type"`

	RequestedAt text `json:"requested_at"`

	General   *legacyGeneral   `json:"general"`
	Resources *legacyResources `json:"resources"`
}

// mergeLegacy fills flat fields from the nested shape. Flat keys win.
func (r *workOrderRequest) mergeLegacy() {
	if g := r.General; g != nil {
		r.Name = r.Name.or(g.Name)
		r.OS = r.OS.or(g.OS)
		r.HostVersion = r.HostVersion.or(g.HostVersion).or(g.HostVersionSnake)
	}
	if res := r.Resources; res != nil {
		r.CPU = r.CPU.or(res.CPU)
		r.RAM = r.RAM.or(res.RAM)
		r.Disk = r.Disk.or(res.Disk)
	}
}

type diskInput struct {
	Size         float64 `json:"size" validate:"gt=0"`
	Provisioning string  `json:"provisioning" validate:"omitempty,oneof=thin thick eagerZeroedThick"`
}

type nicInput struct {
	NetworkID string `json:"network_id" validate:"required"`
	IP        string `json:"ip" validate:"omitempty,ip"`
}

// workOrderInput holds the canonical values the validator checks.
type workOrderInput struct {
	Name        string      `json:"name" validate:"required"`
	OS          string      `json:"os" validate:"required"`
	HostVersion string      `json:"host_version" validate:"required"`
	CPU         *int        `json:"cpu" validate:"required,gt=0"`
	RAM         *int        `json:"ram" validate:"required,gt=0"`
	Disk        *float64    `json:"disk" validate:"omitempty,gt=0"`
	Disks       []diskInput `json:"disks" validate:"omitempty,dive"`
	NICs        []nicInput  `json:"nics" validate:"omitempty,dive"`
	IP          *string     `json:"ip" validate:"omitempty,ip"`
	Netmask     *string     `json:"netmask" validate:"omitempty,ip"`
	Gateway     *string     `json:"gateway" validate:"omitempty,ip"`
}

// WorkOrder normalizes a create request into a pending workorder. Both the
// flat shape and the nested general/resources shape are accepted. When no
// disk or NIC list is given, one is derived from the singular disk and
// network_id fields.
func (n *Normalizer) WorkOrder(raw []byte) (*stores.WorkOrder, error) {
	verr := &ValidationError{}
	var req workOrderRequest
	if !decode(raw, &req, verr) {
		return nil, verr
	}
	req.mergeLegacy()

	in := workOrderInput{
		Name:        textValue("name", req.Name, verr),
		OS:          textValue("os", req.OS, verr),
		HostVersion: textValue("host_version", req.HostVersion, verr),
		CPU:         wholeNumber("cpu", req.CPU, verr),
		RAM:         wholeNumber("ram", req.RAM, verr),
		Disk:        realNumber("disk", req.Disk, verr),
		IP:          textPtr("ip", req.IP, verr),
		Netmask:     textPtr("netmask", req.Netmask, verr),
		Gateway:     textPtr("gateway", req.Gateway, verr),
	}
	for i, d := range req.Disks {
		size := realNumber(fmt.Sprintf("disks[%d].size", i), d.Size, verr)
		if size == nil {
			size = new(float64)
		}
		in.Disks = append(in.Disks, diskInput{Size: *size, Provisioning: d.Provisioning.value})
	}
	for _, nic := range req.NICs {
		in.NICs = append(in.NICs, nicInput{NetworkID: nic.NetworkID.value, IP: nic.IP.value})
	}

	if err := verr.collect(n.validate.Struct(in), ""); err != nil {
		return nil, err
	}
	verr.dedupe()
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	wo := &stores.WorkOrder{
		Name:        in.Name,
		OS:          in.OS,
		HostVersion: in.HostVersion,
		CPU:         *in.CPU,
		RAM:         *in.RAM,
		Disk:        in.Disk,

		HostID:         req.HostID.ptr(),
		ResourcePoolID: req.ResourcePoolID.ptr(),
		DatastoreID:    req.DatastoreID.ptr(),
		FolderID:       req.FolderID.ptr(),
		DatacenterName: req.DatacenterName.ptr(),
		TemplateID:     req.TemplateID.ptr(),
		IPPoolID:       req.IPPoolID.ptr(),
		NetworkID:      req.NetworkID.ptr(),

		Hostname: req.Hostname.ptr(),
		IP:       in.IP,
		Netmask:  in.Netmask,
		Gateway:  in.Gateway,
		Domain:   req.Domain.ptr(),

		HardwareVersion:    req.HardwareVersion.ptr(),
		SCSIControllerType: req.SCSIControllerType.ptr(),

		Status:    stores.StatusPending,
		CreatedAt: n.timestamp("requested_at", req.RequestedAt),
	}

	for _, d := range in.Disks {
		wo.Disks = append(wo.Disks, stores.Disk{Size: d.Size, Provisioning: d.Provisioning})
	}
	if wo.Disks == nil && wo.Disk != nil {
		wo.Disks = []stores.Disk{{Size: *wo.Disk}}
	}

	for _, nic := range in.NICs {
		wo.NICs = append(wo.NICs, stores.NIC{NetworkID: nic.NetworkID, IP: nic.IP})
	}
	if wo.NICs == nil && wo.NetworkID != nil {
		nic := stores.NIC{NetworkID: *wo.NetworkID}
		if wo.IP != nil {
			nic.IP = *wo.IP
		}
		wo.NICs = []stores.NIC{nic}
	}

	return wo, nil
}
