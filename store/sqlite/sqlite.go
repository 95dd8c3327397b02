/*
Package sqlite provides a SQLite-backed implementation of the commission storage
interfaces and of the read-only collaborators the engine consumes.

PURPOSE:
  Implements commission.TxStore (policies, records, audit log, sync runs)
  together with commission.EmployeeDirectory, commission.TransactionLedger and
  commission.ProjectRegistry, so a single database file can back a complete
  deployment. In production the collaborators usually live in other systems;
  the same interfaces are then implemented by their clients.

INTERFACES IMPLEMENTED:
  commission.TxStore:           Policies, records, audit, sync runs + WithTx
  commission.EmployeeDirectory: employees.policy_code
  commission.TransactionLedger: revenue_transactions
  commission.ProjectRegistry:   project_participants

KEY TABLES:
  policies:             Live policy definitions, keyed by code
  commission_records:   One row per (employee_id, month), snapshot columns inline
  audit_log:            Append-only, ordered by seq
  sync_runs:            One row per Sync, failures as JSON
  employees:            Directory with the role's policy code
  revenue_transactions: Ledger facts
  project_participants: Sales participants per project

MONEY:
  Every decimal is stored as TEXT (decimal.String) and parsed back with
  decimal.NewFromString, so values round-trip exactly.

CONCURRENCY:
  Uses sync.RWMutex for in-process thread-safety. Transactions are opened with
  BEGIN IMMEDIATE (_txlock=immediate) so that two processes sharing the file
  cannot both read a DRAFT month and then both write it.

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - commission/store.go: Interface definitions
  - commission/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

const timeLayout = time.RFC3339Nano

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Policies (live, mutable)
	CREATE TABLE IF NOT EXISTS policies (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		standard_target TEXT NOT NULL,
		advanced_target TEXT NOT NULL,
		tier1_percent TEXT NOT NULL,
		tier2_percent TEXT NOT NULL,
		tier3_percent TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Commission records. policy_code is NOT a foreign key: the snapshot
	-- columns make the row self-contained and policies may be deleted.
	CREATE TABLE IF NOT EXISTS commission_records (
		employee_id TEXT NOT NULL,
		month TEXT NOT NULL,
		policy_code TEXT NOT NULL,
		snap_standard_target TEXT NOT NULL,
		snap_advanced_target TEXT NOT NULL,
		snap_tier1_percent TEXT NOT NULL,
		snap_tier2_percent TEXT NOT NULL,
		snap_tier3_percent TEXT NOT NULL,
		actual_revenue TEXT NOT NULL,
		manual_adjustment TEXT NOT NULL,
		effective_revenue TEXT NOT NULL,
		tier1_revenue TEXT NOT NULL,
		tier1_commission TEXT NOT NULL,
		tier2_revenue TEXT NOT NULL,
		tier2_commission TEXT NOT NULL,
		tier3_revenue TEXT NOT NULL,
		tier3_commission TEXT NOT NULL,
		total_commission TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, month),
		CHECK ((locked = 1) = (status = 'FINALIZED'))
	);

	CREATE INDEX IF NOT EXISTS idx_records_month
		ON commission_records(month, employee_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		ts TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		month TEXT NOT NULL DEFAULT '',
		employee_id TEXT NOT NULL DEFAULT '',
		policy_code TEXT NOT NULL DEFAULT '',
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_month
		ON audit_log(month, seq DESC);

	-- Sync runs
	CREATE TABLE IF NOT EXISTS sync_runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		month TEXT NOT NULL,
		actor TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		synced INTEGER NOT NULL,
		unchanged INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		failures_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_month
		ON sync_runs(month, seq DESC);

	-- Employees (directory)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		policy_code TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Ledger
	CREATE TABLE IF NOT EXISTS revenue_transactions (
		id TEXT PRIMARY KEY,
		tx_type TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		tax_amount TEXT,
		tax_inclusive INTEGER NOT NULL DEFAULT 0,
		occurred_at TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		performer_id TEXT NOT NULL DEFAULT ''
	);

	-- Hot path: one month of paid income
	CREATE INDEX IF NOT EXISTS idx_revenue_month
		ON revenue_transactions(substr(occurred_at, 1, 7), tx_type, status);

	-- Projects
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS project_participants (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		employee_id TEXT NOT NULL,
		PRIMARY KEY (project_id, employee_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (commission.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store commission.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// txStore routes every call through the open *sql.Tx. It never takes the
// parent's mutex, which WithTx already holds.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreatePolicy(ctx context.Context, p commission.Policy) error {
	return ts.parent.createPolicy(ctx, ts.tx, p)
}

func (ts *txStore) UpdatePolicy(ctx context.Context, p commission.Policy) error {
	return ts.parent.updatePolicy(ctx, ts.tx, p)
}

func (ts *txStore) GetPolicy(ctx context.Context, code commission.PolicyCode) (commission.Policy, error) {
	return ts.parent.getPolicy(ctx, ts.tx, code)
}

func (ts *txStore) ListPolicies(ctx context.Context) ([]commission.Policy, error) {
	return ts.parent.listPolicies(ctx, ts.tx)
}

func (ts *txStore) DeletePolicy(ctx context.Context, code commission.PolicyCode) error {
	return ts.parent.deletePolicy(ctx, ts.tx, code)
}

func (ts *txStore) GetRecord(ctx context.Context, emp commission.EmployeeID, month commission.Month) (commission.Record, error) {
	return ts.parent.getRecord(ctx, ts.tx, emp, month)
}

func (ts *txStore) ListRecords(ctx context.Context, month commission.Month) ([]commission.Record, error) {
	return ts.parent.listRecords(ctx, ts.tx, month)
}

func (ts *txStore) SaveRecord(ctx context.Context, r commission.Record) error {
	return ts.parent.saveRecord(ctx, ts.tx, r)
}

func (ts *txStore) DeleteRecord(ctx context.Context, emp commission.EmployeeID, month commission.Month) error {
	return ts.parent.deleteRecord(ctx, ts.tx, emp, month)
}

func (ts *txStore) AppendAudit(ctx context.Context, e commission.AuditEntry) error {
	return ts.parent.appendAudit(ctx, ts.tx, e)
}

func (ts *txStore) QueryAudit(ctx context.Context, f commission.AuditFilter) ([]commission.AuditEntry, error) {
	return ts.parent.queryAudit(ctx, ts.tx, f)
}

func (ts *txStore) SaveSyncRun(ctx context.Context, run commission.SyncRun) error {
	return ts.parent.saveSyncRun(ctx, ts.tx, run)
}

func (ts *txStore) LatestSyncRun(ctx context.Context, month commission.Month) (*commission.SyncRun, error) {
	return ts.parent.latestSyncRun(ctx, ts.tx, month)
}

func (ts *txStore) ListSyncRuns(ctx context.Context, month commission.Month) ([]commission.SyncRun, error) {
	return ts.parent.listSyncRuns(ctx, ts.tx, month, 0)
}

// =============================================================================
// POLICY STORE
// =============================================================================

func (s *Store) CreatePolicy(ctx context.Context, p commission.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPolicy(ctx, s.db, p)
}

func (s *Store) createPolicy(ctx context.Context, db dbtx, p commission.Policy) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO policies
		(code, name, standard_target, advanced_target, tier1_percent, tier2_percent, tier3_percent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.Code, p.Name,
		p.StandardTarget.String(), p.AdvancedTarget.String(),
		p.Tier1Percent.String(), p.Tier2Percent.String(), p.Tier3Percent.String(),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%s: %w", p.Code, commission.ErrDuplicatePolicy)
	}
	if err != nil {
		return errors.Wrap(err, "insert policy")
	}
	return nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p commission.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePolicy(ctx, s.db, p)
}

func (s *Store) updatePolicy(ctx context.Context, db dbtx, p commission.Policy) error {
	res, err := db.ExecContext(ctx, `
		UPDATE policies SET
			name = ?, standard_target = ?, advanced_target = ?,
			tier1_percent = ?, tier2_percent = ?, tier3_percent = ?,
			updated_at = ?
		WHERE code = ?
	`,
		p.Name, p.StandardTarget.String(), p.AdvancedTarget.String(),
		p.Tier1Percent.String(), p.Tier2Percent.String(), p.Tier3Percent.String(),
		formatTime(p.UpdatedAt), p.Code,
	)
	if err != nil {
		return errors.Wrap(err, "update policy")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.PolicyNotFound(p.Code)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, code commission.PolicyCode) (commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPolicy(ctx, s.db, code)
}

const policyColumns = `code, name, standard_target, advanced_target, tier1_percent, tier2_percent, tier3_percent, created_at, updated_at`

func (s *Store) getPolicy(ctx context.Context, db dbtx, code commission.PolicyCode) (commission.Policy, error) {
	row := db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE code = ?`, code)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Policy{}, commission.PolicyNotFound(code)
	}
	return p, err
}

func (s *Store) ListPolicies(ctx context.Context) ([]commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPolicies(ctx, s.db)
}

func (s *Store) listPolicies(ctx context.Context, db dbtx) ([]commission.Policy, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, "query policies")
	}
	defer rows.Close()

	var out []commission.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePolicy(ctx context.Context, code commission.PolicyCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletePolicy(ctx, s.db, code)
}

func (s *Store) deletePolicy(ctx context.Context, db dbtx, code commission.PolicyCode) error {
	res, err := db.ExecContext(ctx, `DELETE FROM policies WHERE code = ?`, code)
	if err != nil {
		return errors.Wrap(err, "delete policy")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.PolicyNotFound(code)
	}
	return nil
}

func scanPolicy(row interface{ Scan(...any) error }) (commission.Policy, error) {
	var (
		p                                  commission.Policy
		std, adv, t1, t2, t3, created, upd string
	)
	if err := row.Scan(&p.Code, &p.Name, &std, &adv, &t1, &t2, &t3, &created, &upd); err != nil {
		return commission.Policy{}, err
	}
	var err error
	if p.StandardTarget, err = parseDecimal(std); err != nil {
		return commission.Policy{}, err
	}
	if p.AdvancedTarget, err = parseDecimal(adv); err != nil {
		return commission.Policy{}, err
	}
	if p.Tier1Percent, err = parseDecimal(t1); err != nil {
		return commission.Policy{}, err
	}
	if p.Tier2Percent, err = parseDecimal(t2); err != nil {
		return commission.Policy{}, err
	}
	if p.Tier3Percent, err = parseDecimal(t3); err != nil {
		return commission.Policy{}, err
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(upd)
	return p, nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

const recordColumns = `
	employee_id, month, policy_code,
	snap_standard_target, snap_advanced_target, snap_tier1_percent, snap_tier2_percent, snap_tier3_percent,
	actual_revenue, manual_adjustment, effective_revenue,
	tier1_revenue, tier1_commission, tier2_revenue, tier2_commission, tier3_revenue, tier3_commission,
	total_commission, locked, status, updated_at`

func (s *Store) GetRecord(ctx context.Context, emp commission.EmployeeID, month commission.Month) (commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRecord(ctx, s.db, emp, month)
}

func (s *Store) getRecord(ctx context.Context, db dbtx, emp commission.EmployeeID, month commission.Month) (commission.Record, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM commission_records WHERE employee_id = ? AND month = ?`,
		emp, month.String())
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Record{}, commission.RecordNotFound(emp, month)
	}
	return r, err
}

func (s *Store) ListRecords(ctx context.Context, month commission.Month) ([]commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRecords(ctx, s.db, month)
}

func (s *Store) listRecords(ctx context.Context, db dbtx, month commission.Month) ([]commission.Record, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM commission_records WHERE month = ? ORDER BY employee_id`,
		month.String())
	if err != nil {
		return nil, errors.Wrap(err, "query records")
	}
	defer rows.Close()

	var out []commission.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveRecord(ctx context.Context, r commission.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRecord(ctx, s.db, r)
}

func (s *Store) saveRecord(ctx context.Context, db dbtx, r commission.Record) error {
	b, snap := r.Breakdown, r.Snapshot
	_, err := db.ExecContext(ctx, `
		INSERT INTO commission_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, month) DO UPDATE SET
			policy_code = excluded.policy_code,
			snap_standard_target = excluded.snap_standard_target,
			snap_advanced_target = excluded.snap_advanced_target,
			snap_tier1_percent = excluded.snap_tier1_percent,
			snap_tier2_percent = excluded.snap_tier2_percent,
			snap_tier3_percent = excluded.snap_tier3_percent,
			actual_revenue = excluded.actual_revenue,
			manual_adjustment = excluded.manual_adjustment,
			effective_revenue = excluded.effective_revenue,
			tier1_revenue = excluded.tier1_revenue,
			tier1_commission = excluded.tier1_commission,
			tier2_revenue = excluded.tier2_revenue,
			tier2_commission = excluded.tier2_commission,
			tier3_revenue = excluded.tier3_revenue,
			tier3_commission = excluded.tier3_commission,
			total_commission = excluded.total_commission,
			locked = excluded.locked,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		r.EmployeeID, r.Month.String(), r.PolicyCode,
		snap.StandardTarget.String(), snap.AdvancedTarget.String(),
		snap.Tier1Percent.String(), snap.Tier2Percent.String(), snap.Tier3Percent.String(),
		r.ActualRevenue.String(), r.ManualAdjustment.String(), b.Effective.String(),
		b.Tier1Revenue.String(), b.Tier1Commission.String(),
		b.Tier2Revenue.String(), b.Tier2Commission.String(),
		b.Tier3Revenue.String(), b.Tier3Commission.String(),
		b.TotalCommission.String(), r.Locked, string(r.Status), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "save record")
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, emp commission.EmployeeID, month commission.Month) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteRecord(ctx, s.db, emp, month)
}

func (s *Store) deleteRecord(ctx context.Context, db dbtx, emp commission.EmployeeID, month commission.Month) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM commission_records WHERE employee_id = ? AND month = ?`, emp, month.String())
	if err != nil {
		return errors.Wrap(err, "delete record")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.RecordNotFound(emp, month)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (commission.Record, error) {
	var (
		r       commission.Record
		month   string
		status  string
		updated string
		text    [17]string
	)
	err := row.Scan(
		&r.EmployeeID, &month, &r.PolicyCode,
		&text[0], &text[1], &text[2], &text[3], &text[4],
		&text[5], &text[6], &text[7],
		&text[8], &text[9], &text[10], &text[11], &text[12], &text[13],
		&text[14], &r.Locked, &status, &updated,
	)
	if err != nil {
		return commission.Record{}, err
	}
	if r.Month, err = commission.ParseMonth(month); err != nil {
		return commission.Record{}, err
	}

	var d [15]decimal.Decimal
	for i := range d {
		if d[i], err = parseDecimal(text[i]); err != nil {
			return commission.Record{}, err
		}
	}
	r.Snapshot = commission.PolicySnapshot{
		StandardTarget: d[0],
		AdvancedTarget: d[1],
		Tier1Percent:   d[2],
		Tier2Percent:   d[3],
		Tier3Percent:   d[4],
	}
	r.ActualRevenue = d[5]
	r.ManualAdjustment = d[6]
	r.Breakdown = commission.TierBreakdown{
		Effective:       d[7],
		Tier1Revenue:    d[8],
		Tier1Commission: d[9],
		Tier2Revenue:    d[10],
		Tier2Commission: d[11],
		Tier3Revenue:    d[12],
		Tier3Commission: d[13],
		TotalCommission: d[14],
	}
	r.Status = commission.RecordStatus(status)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e commission.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAudit(ctx, s.db, e)
}

func (s *Store) appendAudit(ctx context.Context, db dbtx, e commission.AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal audit payload")
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor, action, month, employee_id, policy_code, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), e.Actor, string(e.Action), monthText(e.Month), e.EmployeeID, e.PolicyCode, string(payload))
	if err != nil {
		return errors.Wrap(err, "append audit")
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, f commission.AuditFilter) ([]commission.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAudit(ctx, s.db, f)
}

// queryAudit returns matching entries newest first.
func (s *Store) queryAudit(ctx context.Context, db dbtx, f commission.AuditFilter) ([]commission.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Month != nil {
		where = append(where, "month = ?")
		args = append(args, monthText(*f.Month))
	}
	if f.Actor != nil {
		where = append(where, "actor = ?")
		args = append(args, *f.Actor)
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT id, ts, actor, action, month, employee_id, policy_code, payload_json FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query audit")
	}
	defer rows.Close()

	var out []commission.AuditEntry
	for rows.Next() {
		var (
			e                 commission.AuditEntry
			ts, action, month string
			payload           sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &action, &month, &e.EmployeeID, &e.PolicyCode, &payload); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.Action = commission.AuditAction(action)
		if month != "" {
			if e.Month, err = commission.ParseMonth(month); err != nil {
				return nil, err
			}
		}
		if payload.Valid && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, errors.Wrap(err, "decode audit payload")
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SYNC RUNS
// =============================================================================

func (s *Store) SaveSyncRun(ctx context.Context, run commission.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSyncRun(ctx, s.db, run)
}

type failureJSON struct {
	EmployeeID string `json:"employee_id"`
	Reason     string `json:"reason"`
}

func (s *Store) saveSyncRun(ctx context.Context, db dbtx, run commission.SyncRun) error {
	failures := make([]failureJSON, len(run.Failures))
	for i, f := range run.Failures {
		failures[i] = failureJSON{EmployeeID: string(f.EmployeeID), Reason: f.Reason}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return errors.Wrap(err, "marshal failures")
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, month, actor, started_at, completed_at, synced, unchanged, skipped, failed, failures_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Month.String(), run.Actor, formatTime(run.StartedAt), formatTime(run.CompletedAt),
		run.Synced, run.Unchanged, run.Skipped, run.Failed, string(failuresJSON))
	if err != nil {
		return errors.Wrap(err, "save sync run")
	}
	return nil
}

func (s *Store) LatestSyncRun(ctx context.Context, month commission.Month) (*commission.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSyncRun(ctx, s.db, month)
}

func (s *Store) latestSyncRun(ctx context.Context, db dbtx, month commission.Month) (*commission.SyncRun, error) {
	runs, err := s.listSyncRuns(ctx, db, month, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (s *Store) ListSyncRuns(ctx context.Context, month commission.Month) ([]commission.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSyncRuns(ctx, s.db, month, 0)
}

// listSyncRuns returns the month's runs newest first.
func (s *Store) listSyncRuns(ctx context.Context, db dbtx, month commission.Month, limit int) ([]commission.SyncRun, error) {
	query := `
		SELECT id, month, actor, started_at, completed_at, synced, unchanged, skipped, failed, failures_json
		FROM sync_runs WHERE month = ? ORDER BY seq DESC`
	args := []any{month.String()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query sync runs")
	}
	defer rows.Close()

	var out []commission.SyncRun
	for rows.Next() {
		var (
			run                   commission.SyncRun
			m, started, completed string
			failuresJSON          sql.NullString
		)
		if err := rows.Scan(&run.ID, &m, &run.Actor, &started, &completed,
			&run.Synced, &run.Unchanged, &run.Skipped, &run.Failed, &failuresJSON); err != nil {
			return nil, err
		}
		if run.Month, err = commission.ParseMonth(m); err != nil {
			return nil, err
		}
		run.StartedAt = parseTime(started)
		run.CompletedAt = parseTime(completed)
		if failuresJSON.Valid {
			var failures []failureJSON
			if err := json.Unmarshal([]byte(failuresJSON.String), &failures); err != nil {
				return nil, errors.Wrap(err, "decode failures")
			}
			for _, f := range failures {
				run.Failures = append(run.Failures, commission.AggregationFailure{
					EmployeeID: commission.EmployeeID(f.EmployeeID),
					Reason:     f.Reason,
				})
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse decimal %q", s)
	}
	return d, nil
}

func monthText(m commission.Month) string {
	if m.IsZero() {
		return ""
	}
	return m.String()
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
