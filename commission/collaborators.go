package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXTERNAL COLLABORATORS - Read-only from this engine's point of view
// =============================================================================

// Assignment links an employee to the policy code of their role.
// PolicyCode may be empty for employees without a commission plan.
type Assignment struct {
	EmployeeID EmployeeID
	PolicyCode PolicyCode
}

type EmployeeDirectory interface {
	ListWithPolicy(ctx context.Context) ([]Assignment, error)
}

type TransactionType string

const (
	TxIncome  TransactionType = "INCOME"
	TxExpense TransactionType = "EXPENSE"
)

type TransactionStatus string

const (
	TxPaid    TransactionStatus = "PAID"
	TxPending TransactionStatus = "PENDING"
)

// Transaction is an already-validated ledger fact.
type Transaction struct {
	ID           string
	Type         TransactionType
	Status       TransactionStatus
	Amount       decimal.Decimal
	TaxAmount    *decimal.Decimal // nil when the ledger has no explicit tax
	TaxInclusive bool
	Date         time.Time
	Category     string
	Description  string
	ProjectID    ProjectID
	PerformerID  EmployeeID
}

// LedgerFilter narrows QueryPaidIncome. Empty fields mean "no restriction";
// when both are set a transaction matches if either matches.
type LedgerFilter struct {
	PerformerID EmployeeID
	ProjectIDs  []ProjectID
}

type TransactionLedger interface {
	// QueryPaidIncome returns PAID INCOME transactions dated within month.
	QueryPaidIncome(ctx context.Context, month Month, filter LedgerFilter) ([]Transaction, error)
}

type ProjectRegistry interface {
	// SalesParticipants fails with ErrProjectNotFound for unknown projects.
	SalesParticipants(ctx context.Context, project ProjectID) ([]EmployeeID, error)
}

// Matches applies the filter to a transaction.
func (f LedgerFilter) Matches(tx Transaction) bool {
	if f.PerformerID == "" && len(f.ProjectIDs) == 0 {
		return true
	}
	if f.PerformerID != "" && tx.PerformerID == f.PerformerID {
		return true
	}
	for _, id := range f.ProjectIDs {
		if tx.ProjectID == id {
			return true
		}
	}
	return false
}
