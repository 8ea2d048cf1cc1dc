package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const workOrderColumns = `id, name, os, host_version, cpu, ram, disk, disks, nics,
	host_id, resource_pool_id, datastore_id, folder_id, datacenter_name, template_id,
	ip_pool_id, network_id, hostname, ip, netmask, gateway, domain, hardware_version,
	scsi_controller_type, vm_id, status, created_at, updated_at, last_execution_log`

// CreateWorkOrder inserts a workorder and sets its ID. A zero CreatedAt is
// filled with the current time; an empty status becomes pending.
func (s *SQLStore) CreateWorkOrder(ctx context.Context, wo *WorkOrder) error {
	now := s.now()
	if wo.CreatedAt.IsZero() {
		wo.CreatedAt = now
	}
	wo.CreatedAt = wo.CreatedAt.UTC()
	wo.UpdatedAt = now
	if wo.Status == "" {
		wo.Status = StatusPending
	}

	disks, err := encodeJSON(wo.Disks)
	if err != nil {
		return fmt.Errorf("failed to encode disks: %w", err)
	}
	nics, err := encodeJSON(wo.NICs)
	if err != nil {
		return fmt.Errorf("failed to encode nics: %w", err)
	}

	query := `
		INSERT INTO workorders (
			name, os, host_version, cpu, ram, disk, disks, nics,
			host_id, resource_pool_id, datastore_id, folder_id, datacenter_name, template_id,
			ip_pool_id, network_id, hostname, ip, netmask, gateway, domain, hardware_version,
			scsi_controller_type, vm_id, status, created_at, updated_at, last_execution_log
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, s.rebind(query),
		wo.Name,
		wo.OS,
		wo.HostVersion,
		wo.CPU,
		wo.RAM,
		wo.Disk,
		disks,
		nics,
		wo.HostID,
		wo.ResourcePoolID,
		wo.DatastoreID,
		wo.FolderID,
		wo.DatacenterName,
		wo.TemplateID,
		wo.IPPoolID,
		wo.NetworkID,
		wo.Hostname,
		wo.IP,
		wo.Netmask,
		wo.Gateway,
		wo.Domain,
		wo.HardwareVersion,
		wo.SCSIControllerType,
		wo.VMID,
		wo.Status,
		wo.CreatedAt,
		wo.UpdatedAt,
		wo.LastExecutionLog,
	).Scan(&wo.ID)
	if err != nil {
		return fmt.Errorf("failed to create workorder: %w", err)
	}

	return nil
}

// GetWorkOrder retrieves a workorder by ID
func (s *SQLStore) GetWorkOrder(ctx context.Context, id int64) (*WorkOrder, error) {
	return s.getWorkOrder(ctx, s.db, id)
}

func (s *SQLStore) getWorkOrder(ctx context.Context, q querier, id int64) (*WorkOrder, error) {
	query := fmt.Sprintf("SELECT %s FROM workorders WHERE id = ?", workOrderColumns)

	wo, err := scanWorkOrder(q.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(KindWorkOrder, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workorder: %w", err)
	}

	return wo, nil
}

// ListWorkOrders lists workorders newest first.
func (s *SQLStore) ListWorkOrders(ctx context.Context, filter ListFilter) ([]*WorkOrder, error) {
	query, args := s.listQuery(KindWorkOrder, workOrderColumns, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workorders: %w", err)
	}
	defer rows.Close()

	orders := []*WorkOrder{}
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workorder: %w", err)
		}
		orders = append(orders, wo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workorders: %w", err)
	}

	return orders, nil
}

// UpdateWorkOrder merges allow-listed fields and returns the updated record.
// Either every change is persisted or none is.
func (s *SQLStore) UpdateWorkOrder(ctx context.Context, id int64, changes Changes) (*WorkOrder, error) {
	var updated *WorkOrder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.applyChanges(ctx, tx, KindWorkOrder, id, changes); err != nil {
			return err
		}
		wo, err := s.getWorkOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = wo
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteWorkOrder deletes a workorder by ID
func (s *SQLStore) DeleteWorkOrder(ctx context.Context, id int64) error {
	return s.deleteRow(ctx, KindWorkOrder, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row rowScanner) (*WorkOrder, error) {
	wo := &WorkOrder{}
	var disks, nics sql.NullString

	err := row.Scan(
		&wo.ID,
		&wo.Name,
		&wo.OS,
		&wo.HostVersion,
		&wo.CPU,
		&wo.RAM,
		&wo.Disk,
		&disks,
		&nics,
		&wo.HostID,
		&wo.ResourcePoolID,
		&wo.DatastoreID,
		&wo.FolderID,
		&wo.DatacenterName,
		&wo.TemplateID,
		&wo.IPPoolID,
		&wo.NetworkID,
		&wo.Hostname,
		&wo.IP,
		&wo.Netmask,
		&wo.Gateway,
		&wo.Domain,
		&wo.HardwareVersion,
		&wo.SCSIControllerType,
		&wo.VMID,
		&wo.Status,
		&wo.CreatedAt,
		&wo.UpdatedAt,
		&wo.LastExecutionLog,
	)
	if err != nil {
		return nil, err
	}

	if wo.Disks, err = decodeJSON[Disk](disks); err != nil {
		return nil, fmt.Errorf("failed to decode disks: %w", err)
	}
	if wo.NICs, err = decodeJSON[NIC](nics); err != nil {
		return nil, fmt.Errorf("failed to decode nics: %w", err)
	}

	return wo, nil
}
