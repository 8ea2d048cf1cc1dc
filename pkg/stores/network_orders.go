package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const networkOrderColumns = `id, owner, requested_date, requested_by, virtual_machines, deadline,
	project, t0_gw, t1_gw, description, vni_name, cidr, subnet_mask, gateway, first_ip,
	last_ip, number_of_ips, notes, priority, assigned_to, segment_id, status, created_at,
	updated_at, last_execution_log`

// CreateNetworkOrder inserts a network allocation order and sets its ID.
func (s *SQLStore) CreateNetworkOrder(ctx context.Context, no *NetworkOrder) error {
	now := s.now()
	if no.CreatedAt.IsZero() {
		no.CreatedAt = now
	}
	no.CreatedAt = no.CreatedAt.UTC()
	no.UpdatedAt = now
	no.RequestedDate = utcPtr(no.RequestedDate)
	no.Deadline = utcPtr(no.Deadline)
	if no.Status == "" {
		no.Status = StatusPending
	}
	if no.Priority == "" {
		no.Priority = PriorityNormal
	}

	vms, err := encodeJSON(no.VirtualMachines)
	if err != nil {
		return fmt.Errorf("failed to encode virtual machines: %w", err)
	}

	query := `
		INSERT INTO network_orders (
			owner, requested_date, requested_by, virtual_machines, deadline,
			project, t0_gw, t1_gw, description, vni_name, cidr, subnet_mask, gateway, first_ip,
			last_ip, number_of_ips, notes, priority, assigned_to, segment_id, status, created_at,
			updated_at, last_execution_log
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, s.rebind(query),
		no.Owner,
		no.RequestedDate,
		no.RequestedBy,
		vms,
		no.Deadline,
		no.Project,
		no.T0Gateway,
		no.T1Gateway,
		no.Description,
		no.VNIName,
		no.CIDR,
		no.SubnetMask,
		no.Gateway,
		no.FirstIP,
		no.LastIP,
		no.NumberOfIPs,
		no.Notes,
		no.Priority,
		no.AssignedTo,
		no.SegmentID,
		no.Status,
		no.CreatedAt,
		no.UpdatedAt,
		no.LastExecutionLog,
	).Scan(&no.ID)
	if err != nil {
		return fmt.Errorf("failed to create network order: %w", err)
	}

	return nil
}

// GetNetworkOrder retrieves a network order by ID
func (s *SQLStore) GetNetworkOrder(ctx context.Context, id int64) (*NetworkOrder, error) {
	return s.getNetworkOrder(ctx, s.db, id)
}

func (s *SQLStore) getNetworkOrder(ctx context.Context, q querier, id int64) (*NetworkOrder, error) {
	query := fmt.Sprintf("SELECT %s FROM network_orders WHERE id = ?", networkOrderColumns)

	no, err := scanNetworkOrder(q.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(KindNetworkOrder, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get network order: %w", err)
	}

	return no, nil
}

// ListNetworkOrders lists network orders newest first.
func (s *SQLStore) ListNetworkOrders(ctx context.Context, filter ListFilter) ([]*NetworkOrder, error) {
	query, args := s.listQuery(KindNetworkOrder, networkOrderColumns, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list network orders: %w", err)
	}
	defer rows.Close()

	orders := []*NetworkOrder{}
	for rows.Next() {
		no, err := scanNetworkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan network order: %w", err)
		}
		orders = append(orders, no)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating network orders: %w", err)
	}

	return orders, nil
}

// UpdateNetworkOrder merges allow-listed fields and returns the updated record.
func (s *SQLStore) UpdateNetworkOrder(ctx context.Context, id int64, changes Changes) (*NetworkOrder, error) {
	var updated *NetworkOrder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.applyChanges(ctx, tx, KindNetworkOrder, id, changes); err != nil {
			return err
		}
		no, err := s.getNetworkOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = no
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteNetworkOrder deletes a network order by ID
func (s *SQLStore) DeleteNetworkOrder(ctx context.Context, id int64) error {
	return s.deleteRow(ctx, KindNetworkOrder, id)
}

func scanNetworkOrder(row rowScanner) (*NetworkOrder, error) {
	no := &NetworkOrder{}
	var vms sql.NullString

	err := row.Scan(
		&no.ID,
		&no.Owner,
		&no.RequestedDate,
		&no.RequestedBy,
		&vms,
		&no.Deadline,
		&no.Project,
		&no.T0Gateway,
		&no.T1Gateway,
		&no.Description,
		&no.VNIName,
		&no.CIDR,
		&no.SubnetMask,
		&no.Gateway,
		&no.FirstIP,
		&no.LastIP,
		&no.NumberOfIPs,
		&no.Notes,
		&no.Priority,
		&no.AssignedTo,
		&no.SegmentID,
		&no.Status,
		&no.CreatedAt,
		&no.UpdatedAt,
		&no.LastExecutionLog,
	)
	if err != nil {
		return nil, err
	}

	if no.VirtualMachines, err = decodeJSON[string](vms); err != nil {
		return nil, fmt.Errorf("failed to decode virtual machines: %w", err)
	}

	return no, nil
}
