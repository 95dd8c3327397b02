// Package store provides in-memory implementations of the commission store
// and its read-only collaborators.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	policies map[commission.PolicyCode]commission.Policy
	records  map[recordKey]commission.Record
	audit    []commission.AuditEntry
	runs     []commission.SyncRun
}

type recordKey struct {
	EmployeeID commission.EmployeeID
	Month      commission.Month
}

func NewMemory() *Memory {
	return &Memory{
		policies: make(map[commission.PolicyCode]commission.Policy),
		records:  make(map[recordKey]commission.Record),
	}
}

func (m *Memory) CreatePolicy(_ context.Context, p commission.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPolicyLocked(p)
}

func (m *Memory) UpdatePolicy(_ context.Context, p commission.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePolicyLocked(p)
}

func (m *Memory) GetPolicy(_ context.Context, code commission.PolicyCode) (commission.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPolicyLocked(code)
}

func (m *Memory) ListPolicies(_ context.Context) ([]commission.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPoliciesLocked(), nil
}

func (m *Memory) DeletePolicy(_ context.Context, code commission.PolicyCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePolicyLocked(code)
}

func (m *Memory) GetRecord(_ context.Context, emp commission.EmployeeID, month commission.Month) (commission.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRecordLocked(emp, month)
}

func (m *Memory) ListRecords(_ context.Context, month commission.Month) ([]commission.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRecordsLocked(month), nil
}

func (m *Memory) SaveRecord(_ context.Context, r commission.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{r.EmployeeID, r.Month}] = r
	return nil
}

func (m *Memory) DeleteRecord(_ context.Context, emp commission.EmployeeID, month commission.Month) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRecordLocked(emp, month)
}

func (m *Memory) AppendAudit(_ context.Context, e commission.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, f commission.AuditFilter) ([]commission.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryAuditLocked(f), nil
}

func (m *Memory) SaveSyncRun(_ context.Context, run commission.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) LatestSyncRun(_ context.Context, month commission.Month) (*commission.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestSyncRunLocked(month), nil
}

func (m *Memory) ListSyncRuns(_ context.Context, month commission.Month) ([]commission.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSyncRunsLocked(month), nil
}

// =============================================================================
// LOCKED HELPERS - Callers hold m.mu
// =============================================================================

func (m *Memory) createPolicyLocked(p commission.Policy) error {
	if _, ok := m.policies[p.Code]; ok {
		return commission.ErrDuplicatePolicy
	}
	m.policies[p.Code] = p
	return nil
}

func (m *Memory) updatePolicyLocked(p commission.Policy) error {
	if _, ok := m.policies[p.Code]; !ok {
		return commission.PolicyNotFound(p.Code)
	}
	m.policies[p.Code] = p
	return nil
}

func (m *Memory) getPolicyLocked(code commission.PolicyCode) (commission.Policy, error) {
	p, ok := m.policies[code]
	if !ok {
		return commission.Policy{}, commission.PolicyNotFound(code)
	}
	return p, nil
}

func (m *Memory) listPoliciesLocked() []commission.Policy {
	out := make([]commission.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *Memory) deletePolicyLocked(code commission.PolicyCode) error {
	if _, ok := m.policies[code]; !ok {
		return commission.PolicyNotFound(code)
	}
	delete(m.policies, code)
	return nil
}

func (m *Memory) getRecordLocked(emp commission.EmployeeID, month commission.Month) (commission.Record, error) {
	r, ok := m.records[recordKey{emp, month}]
	if !ok {
		return commission.Record{}, commission.RecordNotFound(emp, month)
	}
	return r, nil
}

func (m *Memory) listRecordsLocked(month commission.Month) []commission.Record {
	var out []commission.Record
	for k, r := range m.records {
		if k.Month == month {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}

func (m *Memory) deleteRecordLocked(emp commission.EmployeeID, month commission.Month) error {
	k := recordKey{emp, month}
	if _, ok := m.records[k]; !ok {
		return commission.RecordNotFound(emp, month)
	}
	delete(m.records, k)
	return nil
}

// queryAuditLocked returns matching entries newest first.
func (m *Memory) queryAuditLocked(f commission.AuditFilter) []commission.AuditEntry {
	var out []commission.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.Month != nil && e.Month != *f.Month {
			continue
		}
		if f.Actor != nil && e.Actor != *f.Actor {
			continue
		}
		if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func containsAction(actions []commission.AuditAction, a commission.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func (m *Memory) latestSyncRunLocked(month commission.Month) *commission.SyncRun {
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Month == month {
			run := m.runs[i]
			return &run
		}
	}
	return nil
}

// listSyncRunsLocked returns the month's runs newest first.
func (m *Memory) listSyncRunsLocked(month commission.Month) []commission.SyncRun {
	var out []commission.SyncRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Month == month {
			out = append(out, m.runs[i])
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The view passed to fn must not be used after fn returns.
func (tm *TxMemory) WithTx(_ context.Context, fn func(commission.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	policies map[commission.PolicyCode]commission.Policy
	records  map[recordKey]commission.Record
	audit    []commission.AuditEntry
	runs     []commission.SyncRun
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		policies: make(map[commission.PolicyCode]commission.Policy, len(tm.policies)),
		records:  make(map[recordKey]commission.Record, len(tm.records)),
		audit:    append([]commission.AuditEntry(nil), tm.audit...),
		runs:     append([]commission.SyncRun(nil), tm.runs...),
	}
	for k, v := range tm.policies {
		s.policies[k] = v
	}
	for k, v := range tm.records {
		s.records[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.policies = s.policies
	tm.records = s.records
	tm.audit = s.audit
	tm.runs = s.runs
}

// txMemoryView runs under the lock taken by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (v *txMemoryView) CreatePolicy(_ context.Context, p commission.Policy) error {
	return v.parent.createPolicyLocked(p)
}

func (v *txMemoryView) UpdatePolicy(_ context.Context, p commission.Policy) error {
	return v.parent.updatePolicyLocked(p)
}

func (v *txMemoryView) GetPolicy(_ context.Context, code commission.PolicyCode) (commission.Policy, error) {
	return v.parent.getPolicyLocked(code)
}

func (v *txMemoryView) ListPolicies(_ context.Context) ([]commission.Policy, error) {
	return v.parent.listPoliciesLocked(), nil
}

func (v *txMemoryView) DeletePolicy(_ context.Context, code commission.PolicyCode) error {
	return v.parent.deletePolicyLocked(code)
}

func (v *txMemoryView) GetRecord(_ context.Context, emp commission.EmployeeID, month commission.Month) (commission.Record, error) {
	return v.parent.getRecordLocked(emp, month)
}

func (v *txMemoryView) ListRecords(_ context.Context, month commission.Month) ([]commission.Record, error) {
	return v.parent.listRecordsLocked(month), nil
}

func (v *txMemoryView) SaveRecord(_ context.Context, r commission.Record) error {
	v.parent.records[recordKey{r.EmployeeID, r.Month}] = r
	return nil
}

func (v *txMemoryView) DeleteRecord(_ context.Context, emp commission.EmployeeID, month commission.Month) error {
	return v.parent.deleteRecordLocked(emp, month)
}

func (v *txMemoryView) AppendAudit(_ context.Context, e commission.AuditEntry) error {
	v.parent.audit = append(v.parent.audit, e)
	return nil
}

func (v *txMemoryView) QueryAudit(_ context.Context, f commission.AuditFilter) ([]commission.AuditEntry, error) {
	return v.parent.queryAuditLocked(f), nil
}

func (v *txMemoryView) SaveSyncRun(_ context.Context, run commission.SyncRun) error {
	v.parent.runs = append(v.parent.runs, run)
	return nil
}

func (v *txMemoryView) LatestSyncRun(_ context.Context, month commission.Month) (*commission.SyncRun, error) {
	return v.parent.latestSyncRunLocked(month), nil
}

func (v *txMemoryView) ListSyncRuns(_ context.Context, month commission.Month) ([]commission.SyncRun, error) {
	return v.parent.listSyncRunsLocked(month), nil
}
