package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// MEMORY COLLABORATORS - Directory, ledger and project registry fixtures
// =============================================================================

// Directory is an in-memory EmployeeDirectory.
type Directory struct {
	mu        sync.RWMutex
	employees map[commission.EmployeeID]commission.PolicyCode
}

func NewDirectory() *Directory {
	return &Directory{employees: make(map[commission.EmployeeID]commission.PolicyCode)}
}

// Assign sets the employee's policy code. An empty code keeps the employee
// in the directory without a plan.
func (d *Directory) Assign(emp commission.EmployeeID, code commission.PolicyCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[emp] = code
}

func (d *Directory) Remove(emp commission.EmployeeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.employees, emp)
}

func (d *Directory) ListWithPolicy(_ context.Context) ([]commission.Assignment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]commission.Assignment, 0, len(d.employees))
	for emp, code := range d.employees {
		out = append(out, commission.Assignment{EmployeeID: emp, PolicyCode: code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

// Ledger is an in-memory TransactionLedger.
type Ledger struct {
	mu  sync.RWMutex
	txs []commission.Transaction
}

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) Add(txs ...commission.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, txs...)
}

func (l *Ledger) QueryPaidIncome(ctx context.Context, month commission.Month, f commission.LedgerFilter) ([]commission.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []commission.Transaction
	for _, tx := range l.txs {
		if tx.Type != commission.TxIncome || tx.Status != commission.TxPaid || !month.Contains(tx.Date) {
			continue
		}
		if !f.Matches(tx) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// Projects is an in-memory ProjectRegistry.
type Projects struct {
	mu           sync.RWMutex
	participants map[commission.ProjectID][]commission.EmployeeID
	failures     map[commission.ProjectID]error
}

func NewProjects() *Projects {
	return &Projects{
		participants: make(map[commission.ProjectID][]commission.EmployeeID),
		failures:     make(map[commission.ProjectID]error),
	}
}

func (p *Projects) SetParticipants(id commission.ProjectID, emps ...commission.EmployeeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants[id] = append([]commission.EmployeeID(nil), emps...)
	delete(p.failures, id)
}

// Fail makes SalesParticipants return err for the project.
func (p *Projects) Fail(id commission.ProjectID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[id] = err
}

func (p *Projects) SalesParticipants(ctx context.Context, id commission.ProjectID) ([]commission.EmployeeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.failures[id]; err != nil {
		return nil, err
	}
	emps, ok := p.participants[id]
	if !ok {
		return nil, commission.ProjectNotFound(id)
	}
	return append([]commission.EmployeeID(nil), emps...), nil
}
