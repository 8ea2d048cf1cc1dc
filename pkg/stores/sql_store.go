package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// PostgreSQL driver, registered as "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"
	// SQLite driver, registered as "sqlite"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultListLimit is used when a ListFilter carries no limit.
const DefaultListLimit = 100

// Config holds SQL store configuration
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string

	// DSN is a file path or ":memory:" for sqlite, a connection URL for postgres.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore implements the Store interface on database/sql.
type SQLStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLStore creates a new store instance. Call Init before use.
func NewSQLStore(cfg Config) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Driver returns the configured database driver name.
func (s *SQLStore) Driver() string {
	return s.cfg.Driver
}

func (s *SQLStore) inMemory() bool {
	return s.cfg.Driver == DriverSQLite && strings.HasPrefix(s.cfg.DSN, ":memory:")
}

// sqliteDSN appends modernc connection parameters to a database path.
func sqliteDSN(path string, memory bool) string {
	params := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if !memory {
		params += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

// Init opens the database connection and verifies it.
func (s *SQLStore) Init(ctx context.Context) error {
	var (
		db  *sql.DB
		err error
	)
	switch s.cfg.Driver {
	case DriverPostgres:
		db, err = sql.Open("pgx", s.cfg.DSN)
	default:
		db, err = sql.Open("sqlite", sqliteDSN(s.cfg.DSN, s.inMemory()))
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database, so pin one forever
	if s.inMemory() {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+s.cfg.Driver)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var driver database.Driver
	switch s.cfg.Driver {
	case DriverPostgres:
		driver, err = migratepgx.WithInstance(s.db, &migratepgx.Config{})
	default:
		driver, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, s.cfg.Driver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.cfg.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(kind Kind, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Column allow-lists for partial updates. Lifecycle columns (status,
// last_execution_log, vm_id, segment_id, created_at) are never patchable.
var patchableColumns = map[Kind]map[string]bool{
	KindWorkOrder: {
		"name": true, "os": true, "host_version": true, "cpu": true, "ram": true,
		"disk": true, "disks": true, "nics": true,
		"host_id": true, "resource_pool_id": true, "datastore_id": true, "folder_id": true,
		"datacenter_name": true, "template_id": true, "ip_pool_id": true, "network_id": true,
		"hostname": true, "ip": true, "netmask": true, "gateway": true, "domain": true,
		"hardware_version": true, "scsi_controller_type": true,
	},
	KindNetworkOrder: {
		"owner": true, "requested_date": true, "requested_by": true, "virtual_machines": true,
		"deadline": true, "project": true, "t0_gw": true, "t1_gw": true, "description": true,
		"vni_name": true, "cidr": true, "subnet_mask": true, "gateway": true,
		"first_ip": true, "last_ip": true, "number_of_ips": true, "notes": true,
		"priority": true, "assigned_to": true,
	},
}

// PatchableColumns returns the sorted column names a partial update may touch.
func PatchableColumns(kind Kind) []string {
	cols := make([]string, 0, len(patchableColumns[kind]))
	for col := range patchableColumns[kind] {
		cols = append(cols, col)
	}
	slices.Sort(cols)
	return cols
}

// applyChanges merges changes into a single row. Unknown columns are rejected
// before anything is written.
func (s *SQLStore) applyChanges(ctx context.Context, q querier, kind Kind, id int64, changes Changes) error {
	allowed := patchableColumns[kind]
	for col := range changes {
		if !allowed[col] {
			return fmt.Errorf("field %q cannot be updated", col)
		}
	}

	sets := make([]string, 0, len(changes)+1)
	args := make([]any, 0, len(changes)+2)
	for _, col := range changes.Columns() {
		v, err := encodeValue(changes[col])
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", col, err)
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", kind.table(), strings.Join(sets, ", "))
	result, err := q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound(kind, id)
	}

	return nil
}

func (s *SQLStore) deleteRow(ctx context.Context, kind Kind, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", kind.table())

	result, err := s.db.ExecContext(ctx, s.rebind(query), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return notFound(kind, id)
	}

	return nil
}

// listQuery builds a newest-first page query.
func (s *SQLStore) listQuery(kind Kind, columns string, f ListFilter) (string, []any) {
	var b strings.Builder
	args := []any{}

	fmt.Fprintf(&b, "SELECT %s FROM %s", columns, kind.table())
	if f.Status != "" {
		b.WriteString(" WHERE status = ?")
		args = append(args, f.Status)
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	return s.rebind(b.String()), args
}

// TransitionStatus moves a record to t.To when its current status is one of
// t.From. The read, the guarded UPDATE and the audit row share a transaction;
// the UPDATE re-checks the status it read so a concurrent writer makes this
// call fail with a StatusConflictError instead of overwriting.
func (s *SQLStore) TransitionStatus(ctx context.Context, t Transition) (Status, error) {
	table := t.Kind.table()
	if table == "" {
		return "", fmt.Errorf("unknown record kind: %s", t.Kind)
	}
	if err := t.To.Validate(); err != nil {
		return "", err
	}

	var previous Status
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		selectQuery := s.rebind(fmt.Sprintf("SELECT status FROM %s WHERE id = ?", table))

		err := tx.QueryRowContext(ctx, selectQuery, t.ID).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(t.Kind, t.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read %s status: %w", t.Kind, err)
		}

		if len(t.From) > 0 && !slices.Contains(t.From, previous) {
			return &StatusConflictError{Kind: t.Kind, ID: t.ID, Current: previous, Expected: t.From}
		}

		now := s.now()
		sets := []string{"status = ?", "updated_at = ?"}
		args := []any{t.To, now}
		if t.Log != nil {
			sets = append(sets, "last_execution_log = ?")
			args = append(args, *t.Log)
		}
		if t.ResourceID != nil {
			sets = append(sets, t.Kind.resourceColumn()+" = ?")
			args = append(args, *t.ResourceID)
		}
		args = append(args, t.ID, previous)

		updateQuery := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND status = ?", table, strings.Join(sets, ", "))
		result, err := tx.ExecContext(ctx, s.rebind(updateQuery), args...)
		if err != nil {
			return fmt.Errorf("failed to update %s status: %w", t.Kind, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			var current Status
			if err := tx.QueryRowContext(ctx, selectQuery, t.ID).Scan(&current); err != nil {
				return notFound(t.Kind, t.ID)
			}
			expected := t.From
			if len(expected) == 0 {
				expected = []Status{previous}
			}
			return &StatusConflictError{Kind: t.Kind, ID: t.ID, Current: current, Expected: expected}
		}

		event := t.Event
		if event == "" {
			event = string(t.To)
		}
		actor := t.Actor
		if actor == "" {
			actor = "system"
		}
		details, err := json.Marshal(map[string]string{"from": string(previous), "to": string(t.To)})
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}

		return s.insertAudit(ctx, tx, &AuditEntry{
			Action:    fmt.Sprintf("%s.%s", t.Kind, event),
			Actor:     actor,
			TargetID:  ptr(fmt.Sprintf("%s:%d", t.Kind, t.ID)),
			Details:   ptr(string(details)),
			Timestamp: now,
		})
	})
	if err != nil {
		return "", err
	}

	return previous, nil
}

func (s *SQLStore) insertAudit(ctx context.Context, q querier, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, s.rebind(query),
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

// ListAuditEntries lists audit entries, newest first, optionally for one target.
func (s *SQLStore) ListAuditEntries(ctx context.Context, targetID *string, limit, offset int) ([]*AuditEntry, error) {
	query := "SELECT id, action, actor, target_id, details, timestamp FROM audit"
	args := []any{}
	if targetID != nil {
		query += " WHERE target_id = ?"
		args = append(args, *targetID)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// encodeValue converts patch values into driver values.
func encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case []Disk, []NIC, []string:
		if isNilSlice(val) {
			return nil, nil
		}
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case time.Time:
		return val.UTC(), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return val.UTC(), nil
	default:
		return v, nil
	}
}

func isNilSlice(v any) bool {
	switch s := v.(type) {
	case []Disk:
		return s == nil
	case []NIC:
		return s == nil
	case []string:
		return s == nil
	}
	return false
}

// encodeJSON stores nil slices as NULL and everything else as JSON text.
func encodeJSON[T any](v []T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := string(b)
	return &out, nil
}

func decodeJSON[T any](raw sql.NullString) ([]T, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func ptr[T any](v T) *T {
	return &v
}
