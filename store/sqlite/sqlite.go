/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements leave.Store (balances + requests), directory.EmployeeSource
  (employee records) and leave.AuditSink (audit log) on one SQLite
  database. The same SQL runs on PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  leave.Store:              balances and requests, WithTx
  leave.AuditSink:          audit_log rows
  directory.EmployeeSource: employee department and roles

CONDITIONAL WRITES:
  Balance updates run
      UPDATE leave_balances SET ... WHERE id = ? AND version = ?
  and request updates
      UPDATE leave_requests SET ... WHERE id = ? AND state = ?
  Zero rows affected means another writer got there first and the call
  returns leave.ErrConcurrentModification.

KEY TABLES:
  leave_balances:  one row per assignment, at most one active per key
  leave_requests:  requests and their approval trail
  employees:       department + roles, read by the actor directory
  audit_log:       append-only audit events

INDEXES:
  - idx_leave_balances_active: partial UNIQUE on (user, type, year) WHERE
    status = 'active'; a second active row fails the insert
  - idx_leave_requests_user_dates: overlap checks (hot path)
  - idx_leave_requests_state: scheduler due-queries

CONCURRENCY:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate) so
  writers serialize on the database lock instead of failing late on
  upgrade. A busy database reports leave.ErrConcurrentModification and
  the core retries.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - leave/store.go: interface definitions
  - leave/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/leave"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ leave.Store              = (*Store)(nil)
	_ leave.AuditSink          = (*Store)(nil)
	_ directory.EmployeeSource = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store, err := NewFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewFromDB wraps an open database and migrates the schema.
func NewFromDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Balances (one active row per user x leave type x year)
	CREATE TABLE IF NOT EXISTS leave_balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		assigned TEXT NOT NULL,
		used TEXT NOT NULL,
		pending TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		version INTEGER NOT NULL DEFAULT 1,
		expires_at TEXT,
		note TEXT,
		assigned_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_leave_balances_active
		ON leave_balances(user_id, leave_type, year)
		WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_leave_balances_key
		ON leave_balances(user_id, leave_type, year, created_at DESC);

	-- Requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		department TEXT NOT NULL DEFAULT '',
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		half_day BOOLEAN NOT NULL DEFAULT FALSE,
		reason TEXT,
		state TEXT NOT NULL DEFAULT 'pending',
		supervisor_approver TEXT,
		supervisor_decided_at TEXT,
		hr_approver TEXT,
		hr_decided_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_user_dates
		ON leave_requests(user_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_state
		ON leave_requests(state);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_department
		ON leave_requests(department);

	-- Employees (actor directory source)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		department TEXT NOT NULL DEFAULT '',
		roles_json TEXT NOT NULL DEFAULT '[]',
		hire_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_department
		ON employees(department);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		details_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_entity
		ON audit_log(entity_type, entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BALANCES (leave.Reader)
// =============================================================================

const balanceColumns = `id, user_id, leave_type, year, assigned, used, pending, status, version,
		expires_at, note, assigned_by, created_at, updated_at`

func (s *Store) GetBalance(ctx context.Context, id leave.BalanceID) (*leave.Balance, error) {
	return getBalance(ctx, s.db, id)
}

func (s *Store) FindActiveBalance(ctx context.Context, key leave.BalanceKey) (*leave.Balance, error) {
	return findActiveBalance(ctx, s.db, key)
}

func (s *Store) ListBalances(ctx context.Context, filter leave.BalanceFilter) ([]leave.Balance, error) {
	return listBalances(ctx, s.db, filter)
}

func getBalance(ctx context.Context, q querier, id leave.BalanceID) (*leave.Balance, error) {
	bs, err := queryBalances(ctx, q, "SELECT "+balanceColumns+" FROM leave_balances WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(bs) == 0 {
		return nil, leave.ErrNotFound
	}
	return &bs[0], nil
}

func findActiveBalance(ctx context.Context, q querier, key leave.BalanceKey) (*leave.Balance, error) {
	query := "SELECT " + balanceColumns + ` FROM leave_balances
		WHERE user_id = ? AND leave_type = ? AND year = ? AND status = 'active'`

	bs, err := queryBalances(ctx, q, query, key.UserID, key.LeaveType, key.Year)
	if err != nil {
		return nil, err
	}
	if len(bs) == 0 {
		return nil, leave.ErrNotFound
	}
	return &bs[0], nil
}

func listBalances(ctx context.Context, q querier, filter leave.BalanceFilter) ([]leave.Balance, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeSuperseded {
		where = append(where, "status = 'active'")
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.LeaveType != "" {
		where = append(where, "leave_type = ?")
		args = append(args, filter.LeaveType)
	}
	if filter.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, filter.Year)
	}

	query := "SELECT " + balanceColumns + " FROM leave_balances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, version DESC, id ASC"

	return queryBalances(ctx, q, query, args...)
}

func queryBalances(ctx context.Context, q querier, query string, args ...any) ([]leave.Balance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var balances []leave.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, mapError(rows.Err())
}

func scanBalance(rows *sql.Rows) (leave.Balance, error) {
	var (
		b                    leave.Balance
		expiresAt, note, by  sql.NullString
		createdAt, updatedAt string
	)
	if err := rows.Scan(
		&b.ID, &b.UserID, &b.LeaveType, &b.Year,
		&b.Assigned, &b.Used, &b.Pending, &b.Status, &b.Version,
		&expiresAt, &note, &by, &createdAt, &updatedAt,
	); err != nil {
		return b, err
	}

	b.ExpiresAt = parseDatePtr(expiresAt)
	b.Note = note.String
	b.AssignedBy = leave.UserID(by.String)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// REQUESTS (leave.Reader)
// =============================================================================

const requestColumns = `id, user_id, department, leave_type, start_date, end_date, quantity,
		half_day, reason, state, supervisor_approver, supervisor_decided_at,
		hr_approver, hr_decided_at, rejected_by, rejected_at, rejection_reason,
		started_at, completed_at, created_at, updated_at, deleted_at`

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (*leave.Request, error) {
	return getRequest(ctx, s.db, id)
}

func (s *Store) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	return listRequests(ctx, s.db, filter)
}

func getRequest(ctx context.Context, q querier, id leave.RequestID) (*leave.Request, error) {
	query := "SELECT " + requestColumns + " FROM leave_requests WHERE id = ? AND deleted_at IS NULL"
	rs, err := queryRequests(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, leave.ErrNotFound
	}
	return &rs[0], nil
}

func listRequests(ctx context.Context, q querier, filter leave.RequestFilter) ([]leave.Request, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Department != "" {
		where = append(where, "department = ?")
		args = append(args, filter.Department)
	}
	if filter.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, filter.ExcludeID)
	}
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	// Dates are stored as YYYY-MM-DD so string comparison is date order.
	if filter.From != nil {
		where = append(where, "end_date >= ?")
		args = append(args, filter.From.String())
	}
	if filter.To != nil {
		where = append(where, "start_date <= ?")
		args = append(args, filter.To.String())
	}

	query := "SELECT " + requestColumns + " FROM leave_requests WHERE " +
		strings.Join(where, " AND ") +
		" ORDER BY start_date ASC, created_at ASC, id ASC"

	return queryRequests(ctx, q, query, args...)
}

func queryRequests(ctx context.Context, q querier, query string, args ...any) ([]leave.Request, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var requests []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, mapError(rows.Err())
}

func scanRequest(rows *sql.Rows) (leave.Request, error) {
	var (
		r                                        leave.Request
		startDate, endDate, createdAt, updatedAt string
		reason, rejectionReason                  sql.NullString
		supervisor, hr, rejectedBy               sql.NullString
		supervisorAt, hrAt, rejectedAt           sql.NullString
		startedAt, completedAt, deletedAt        sql.NullString
	)
	if err := rows.Scan(
		&r.ID, &r.UserID, &r.Department, &r.LeaveType, &startDate, &endDate, &r.Quantity,
		&r.HalfDay, &reason, &r.State, &supervisor, &supervisorAt,
		&hr, &hrAt, &rejectedBy, &rejectedAt, &rejectionReason,
		&startedAt, &completedAt, &createdAt, &updatedAt, &deletedAt,
	); err != nil {
		return r, err
	}

	r.StartDate, _ = leave.ParseDate(startDate)
	r.EndDate, _ = leave.ParseDate(endDate)
	r.Reason = reason.String
	r.RejectionReason = rejectionReason.String
	r.SupervisorApprover = parseUserPtr(supervisor)
	r.SupervisorDecidedAt = parseTimePtr(supervisorAt)
	r.HRApprover = parseUserPtr(hr)
	r.HRDecidedAt = parseTimePtr(hrAt)
	r.RejectedBy = parseUserPtr(rejectedBy)
	r.RejectedAt = parseTimePtr(rejectedAt)
	r.StartedAt = parseTimePtr(startedAt)
	r.CompletedAt = parseTimePtr(completedAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	r.DeletedAt = parseTimePtr(deletedAt)
	return r, nil
}

// =============================================================================
// TRANSACTIONAL STORE (leave.Tx)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetBalance(ctx context.Context, id leave.BalanceID) (*leave.Balance, error) {
	return getBalance(ctx, ts.tx, id)
}

func (ts *txStore) FindActiveBalance(ctx context.Context, key leave.BalanceKey) (*leave.Balance, error) {
	return findActiveBalance(ctx, ts.tx, key)
}

func (ts *txStore) ListBalances(ctx context.Context, filter leave.BalanceFilter) ([]leave.Balance, error) {
	return listBalances(ctx, ts.tx, filter)
}

func (ts *txStore) GetRequest(ctx context.Context, id leave.RequestID) (*leave.Request, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	return listRequests(ctx, ts.tx, filter)
}

func (ts *txStore) InsertBalance(ctx context.Context, b leave.Balance) error {
	query := `
		INSERT INTO leave_balances (` + balanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.tx.ExecContext(ctx, query,
		b.ID, b.UserID, b.LeaveType, b.Year,
		b.Assigned, b.Used, b.Pending, b.Status, b.Version,
		formatDatePtr(b.ExpiresAt), nullString(b.Note), nullString(string(b.AssignedBy)),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leave.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert balance: %w", mapError(err))
	}
	return nil
}

func (ts *txStore) UpdateBalance(ctx context.Context, b leave.Balance, expectedVersion int64) error {
	query := `
		UPDATE leave_balances SET
			assigned = ?, used = ?, pending = ?, status = ?, version = ?,
			expires_at = ?, note = ?, assigned_by = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := ts.tx.ExecContext(ctx, query,
		b.Assigned, b.Used, b.Pending, b.Status, b.Version,
		formatDatePtr(b.ExpiresAt), nullString(b.Note), nullString(string(b.AssignedBy)),
		formatTime(b.UpdatedAt),
		b.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", mapError(err))
	}
	return expectOneRow(res)
}

func (ts *txStore) InsertRequest(ctx context.Context, r leave.Request) error {
	query := `
		INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.tx.ExecContext(ctx, query, requestArgs(r)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leave.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert request: %w", mapError(err))
	}
	return nil
}

func (ts *txStore) UpdateRequest(ctx context.Context, r leave.Request, expectedState leave.RequestState) error {
	query := `
		UPDATE leave_requests SET
			state = ?, supervisor_approver = ?, supervisor_decided_at = ?,
			hr_approver = ?, hr_decided_at = ?, rejected_by = ?, rejected_at = ?,
			rejection_reason = ?, started_at = ?, completed_at = ?,
			updated_at = ?, deleted_at = ?
		WHERE id = ? AND state = ?
	`
	res, err := ts.tx.ExecContext(ctx, query,
		r.State,
		formatUserPtr(r.SupervisorApprover), formatTimePtr(r.SupervisorDecidedAt),
		formatUserPtr(r.HRApprover), formatTimePtr(r.HRDecidedAt),
		formatUserPtr(r.RejectedBy), formatTimePtr(r.RejectedAt),
		nullString(r.RejectionReason),
		formatTimePtr(r.StartedAt), formatTimePtr(r.CompletedAt),
		formatTime(r.UpdatedAt), formatTimePtr(r.DeletedAt),
		r.ID, expectedState,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", mapError(err))
	}
	return expectOneRow(res)
}

func requestArgs(r leave.Request) []any {
	return []any{
		r.ID, r.UserID, r.Department, r.LeaveType,
		r.StartDate.String(), r.EndDate.String(), r.Quantity,
		r.HalfDay, nullString(r.Reason), r.State,
		formatUserPtr(r.SupervisorApprover), formatTimePtr(r.SupervisorDecidedAt),
		formatUserPtr(r.HRApprover), formatTimePtr(r.HRDecidedAt),
		formatUserPtr(r.RejectedBy), formatTimePtr(r.RejectedAt),
		nullString(r.RejectionReason),
		formatTimePtr(r.StartedAt), formatTimePtr(r.CompletedAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), formatTimePtr(r.DeletedAt),
	}
}

// expectOneRow turns a conditional update that matched nothing into a
// lost race.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return leave.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// EMPLOYEE STORE (directory.EmployeeSource)
// =============================================================================

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp directory.Employee) error {
	rolesJSON, err := json.Marshal(emp.Roles)
	if err != nil {
		return err
	}
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO employees (id, name, email, department, roles_json, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department = excluded.department,
			roles_json = excluded.roles_json,
			hire_date = excluded.hire_date
	`
	_, err = s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Email), emp.Department, string(rolesJSON),
		emp.HireDate.String(), formatTime(emp.CreatedAt),
	)
	return mapError(err)
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id leave.UserID) (*directory.Employee, error) {
	var (
		emp                            directory.Employee
		email                          sql.NullString
		rolesJSON, hireDate, createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, department, roles_json, hire_date, created_at FROM employees WHERE id = ?",
		id,
	).Scan(&emp.ID, &emp.Name, &email, &emp.Department, &rolesJSON, &hireDate, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, leave.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	emp.Email = email.String
	if err := json.Unmarshal([]byte(rolesJSON), &emp.Roles); err != nil {
		return nil, fmt.Errorf("employee %s: bad roles: %w", id, err)
	}
	emp.HireDate, _ = leave.ParseDate(hireDate)
	emp.CreatedAt = parseTime(createdAt)
	return &emp, nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]directory.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, department, roles_json, hire_date, created_at FROM employees ORDER BY name",
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var employees []directory.Employee
	for rows.Next() {
		var (
			emp                            directory.Employee
			email                          sql.NullString
			rolesJSON, hireDate, createdAt string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &email, &emp.Department, &rolesJSON, &hireDate, &createdAt); err != nil {
			return nil, err
		}
		emp.Email = email.String
		_ = json.Unmarshal([]byte(rolesJSON), &emp.Roles)
		emp.HireDate, _ = leave.ParseDate(hireDate)
		emp.CreatedAt = parseTime(createdAt)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// AUDIT LOG (leave.AuditSink)
// =============================================================================

// Record appends an audit event.
func (s *Store) Record(ctx context.Context, e leave.AuditEvent) error {
	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, entity_type, entity_id, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.At), e.ActorID, e.Action, e.EntityType, e.EntityID, string(detailsJSON))
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", mapError(err))
	}
	return nil
}

// AuditTrail returns the events recorded for an entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entityType, entityID string) ([]leave.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, actor_id, action, entity_type, entity_id, details_json
		FROM audit_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY at ASC, id ASC
	`, entityType, entityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []leave.AuditEvent
	for rows.Next() {
		var (
			e           leave.AuditEvent
			at          string
			detailsJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &detailsJSON); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		if detailsJSON.Valid {
			_ = json.Unmarshal([]byte(detailsJSON.String), &e.Details)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"leave_requests", "leave_balances", "employees", "audit_log"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatDatePtr(d *leave.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDatePtr(s sql.NullString) *leave.Date {
	if !s.Valid {
		return nil
	}
	d, err := leave.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func formatUserPtr(u *leave.UserID) sql.NullString {
	if u == nil {
		return sql.NullString{}
	}
	return nullString(string(*u))
}

func parseUserPtr(s sql.NullString) *leave.UserID {
	if !s.Valid {
		return nil
	}
	u := leave.UserID(s.String)
	return &u
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapError reports a locked database as a lost race so the core retries.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", leave.ErrConcurrentModification, err)
	}
	return err
}
