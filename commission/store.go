/*
store.go - Persistence interfaces for policies, records, audit and sync runs

KEY INTERFACES:
  PolicyStore:  CRUD for policies, code is unique
  RecordStore:  One record per (employee, month), upsert semantics
  AuditLog:     Append-only who-did-what-when
  SyncRunStore: Outcome of every Sync, consulted by the completeness gate
  TxStore:      All of the above plus WithTx for month-atomic batches

OWNERSHIP:
  RecordStore exclusively owns records and PolicyStore exclusively owns
  policies. Deleting a policy never touches records: records hold a
  PolicySnapshot, not a reference.

ATOMIC BATCHES:
  Sync, Lock and Unlock run inside WithTx. If fn returns an error nothing is
  persisted, so a month either fully reaches the new state or stays as it was.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - commission/store/memory.go: In-memory for tests and local runs
*/
package commission

import (
	"context"
	"time"
)

// =============================================================================
// POLICY STORE
// =============================================================================

type PolicyStore interface {
	// CreatePolicy fails with ErrDuplicatePolicy if the code exists.
	CreatePolicy(ctx context.Context, p Policy) error

	// UpdatePolicy fails with ErrPolicyNotFound if the code does not exist.
	UpdatePolicy(ctx context.Context, p Policy) error

	GetPolicy(ctx context.Context, code PolicyCode) (Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)

	// DeletePolicy removes the policy only. Records are untouched.
	DeletePolicy(ctx context.Context, code PolicyCode) error
}

// =============================================================================
// RECORD STORE
// =============================================================================

type RecordStore interface {
	// GetRecord fails with ErrRecordNotFound if no record exists.
	GetRecord(ctx context.Context, emp EmployeeID, month Month) (Record, error)

	// ListRecords returns the month's records ordered by employee id.
	ListRecords(ctx context.Context, month Month) ([]Record, error)

	// SaveRecord inserts or replaces the record for (EmployeeID, Month).
	SaveRecord(ctx context.Context, r Record) error

	DeleteRecord(ctx context.Context, emp EmployeeID, month Month) error
}

// =============================================================================
// AUDIT LOG - Separate from records, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditSync          AuditAction = "sync"
	AuditLock          AuditAction = "lock"
	AuditUnlock        AuditAction = "unlock"
	AuditRecalculate   AuditAction = "recalculate"
	AuditManualAdd     AuditAction = "manual_add"
	AuditRecordDeleted AuditAction = "record_deleted"
	AuditPolicyCreated AuditAction = "policy_created"
	AuditPolicyUpdated AuditAction = "policy_updated"
	AuditPolicyDeleted AuditAction = "policy_deleted"
)

type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	Actor      string
	Action     AuditAction
	Month      Month // zero for policy actions
	EmployeeID EmployeeID
	PolicyCode PolicyCode
	Payload    map[string]any
}

type AuditFilter struct {
	Month   *Month
	Actor   *string
	Actions []AuditAction
	Limit   int
}

// AuditLog is append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// SYNC RUNS - One row per Sync invocation
// =============================================================================

type SyncRun struct {
	ID          string
	Month       Month
	Actor       string
	StartedAt   time.Time
	CompletedAt time.Time
	Synced      int
	Unchanged   int
	Skipped     int
	Failed      int
	Failures    []AggregationFailure
}

// Complete reports whether every employee with a policy was computed.
func (r SyncRun) Complete() bool { return r.Failed == 0 }

type SyncRunStore interface {
	SaveSyncRun(ctx context.Context, run SyncRun) error

	// LatestSyncRun returns nil, nil if the month has never been synced.
	LatestSyncRun(ctx context.Context, month Month) (*SyncRun, error)
	ListSyncRuns(ctx context.Context, month Month) ([]SyncRun, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	PolicyStore
	RecordStore
	AuditLog
	SyncRunStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
