package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// EMPLOYEE DIRECTORY (commission.EmployeeDirectory interface)
// =============================================================================

// Employee is a directory entry. PolicyCode is empty for roles without a plan.
type Employee struct {
	ID         commission.EmployeeID
	Name       string
	PolicyCode commission.PolicyCode
	CreatedAt  time.Time
}

// SaveEmployee upserts an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, policy_code, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			policy_code = excluded.policy_code
	`, emp.ID, emp.Name, emp.PolicyCode, formatTime(time.Now()))
	if err != nil {
		return errors.Wrap(err, "save employee")
	}
	return nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, policy_code, created_at FROM employees ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query employees")
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var (
			e       Employee
			created string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.PolicyCode, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEmployee(ctx context.Context, id commission.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete employee")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &commission.NotFoundError{Resource: "employee", Key: string(id), Err: commission.ErrEmployeeNotFound}
	}
	return nil
}

func (s *Store) ListWithPolicy(ctx context.Context) ([]commission.Assignment, error) {
	employees, err := s.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]commission.Assignment, len(employees))
	for i, e := range employees {
		out[i] = commission.Assignment{EmployeeID: e.ID, PolicyCode: e.PolicyCode}
	}
	return out, nil
}

// =============================================================================
// TRANSACTION LEDGER (commission.TransactionLedger interface)
// =============================================================================

// SaveTransaction upserts a ledger transaction.
func (s *Store) SaveTransaction(ctx context.Context, tx commission.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tax sql.NullString
	if tx.TaxAmount != nil {
		tax = sql.NullString{String: tx.TaxAmount.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revenue_transactions
		(id, tx_type, status, amount, tax_amount, tax_inclusive, occurred_at, category, description, project_id, performer_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tx_type = excluded.tx_type,
			status = excluded.status,
			amount = excluded.amount,
			tax_amount = excluded.tax_amount,
			tax_inclusive = excluded.tax_inclusive,
			occurred_at = excluded.occurred_at,
			category = excluded.category,
			description = excluded.description,
			project_id = excluded.project_id,
			performer_id = excluded.performer_id
	`,
		tx.ID, string(tx.Type), string(tx.Status), tx.Amount.String(), tax, tx.TaxInclusive,
		formatTime(tx.Date), tx.Category, tx.Description, tx.ProjectID, tx.PerformerID,
	)
	if err != nil {
		return errors.Wrap(err, "save transaction")
	}
	return nil
}

// QueryPaidIncome returns PAID INCOME transactions dated within month.
// Dates are stored in UTC, so the month is the first seven characters.
func (s *Store) QueryPaidIncome(ctx context.Context, month commission.Month, f commission.LedgerFilter) ([]commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_type, status, amount, tax_amount, tax_inclusive, occurred_at,
		       category, description, project_id, performer_id
		FROM revenue_transactions
		WHERE substr(occurred_at, 1, 7) = ? AND tx_type = ? AND status = ?
		ORDER BY occurred_at, id
	`, month.String(), string(commission.TxIncome), string(commission.TxPaid))
	if err != nil {
		return nil, errors.Wrap(err, "query ledger")
	}
	defer rows.Close()

	var out []commission.Transaction
	for rows.Next() {
		var (
			tx             commission.Transaction
			txType, status string
			amount, date   string
			tax            sql.NullString
		)
		if err := rows.Scan(&tx.ID, &txType, &status, &amount, &tax, &tx.TaxInclusive, &date,
			&tx.Category, &tx.Description, &tx.ProjectID, &tx.PerformerID); err != nil {
			return nil, err
		}
		tx.Type = commission.TransactionType(txType)
		tx.Status = commission.TransactionStatus(status)
		if tx.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if tax.Valid {
			d, err := decimal.NewFromString(tax.String)
			if err != nil {
				return nil, errors.Wrapf(err, "transaction %s: tax amount", tx.ID)
			}
			tx.TaxAmount = &d
		}
		tx.Date = parseTime(date)
		if f.Matches(tx) {
			out = append(out, tx)
		}
	}
	return out, rows.Err()
}

// =============================================================================
// PROJECT REGISTRY (commission.ProjectRegistry interface)
// =============================================================================

// SaveProject replaces the project's sales participants.
func (s *Store) SaveProject(ctx context.Context, id commission.ProjectID, name string, participants []commission.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, `
		INSERT INTO projects (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name); err != nil {
		return errors.Wrap(err, "save project")
	}
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM project_participants WHERE project_id = ?`, id); err != nil {
		return errors.Wrap(err, "clear participants")
	}
	for _, emp := range participants {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT OR IGNORE INTO project_participants (project_id, employee_id) VALUES (?, ?)`, id, emp); err != nil {
			return errors.Wrap(err, "save participant")
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (s *Store) SalesParticipants(ctx context.Context, id commission.ProjectID) ([]commission.EmployeeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "query project")
	}
	if exists == 0 {
		return nil, commission.ProjectNotFound(id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT employee_id FROM project_participants WHERE project_id = ? ORDER BY employee_id`, id)
	if err != nil {
		return nil, errors.Wrap(err, "query participants")
	}
	defer rows.Close()

	var out []commission.EmployeeID
	for rows.Next() {
		var emp commission.EmployeeID
		if err := rows.Scan(&emp); err != nil {
			return nil, err
		}
		out = append(out, emp)
	}
	return out, rows.Err()
}
