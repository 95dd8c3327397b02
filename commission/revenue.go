/*
revenue.go - Eligible net revenue per employee per month

ELIGIBILITY:
  A transaction counts toward an employee when it is INCOME, PAID, dated in
  the month, and either:
    - the employee is its performer (direct attribution), or
    - its project lists the employee as a sales participant.

NET REVENUE:
  Excluded transactions (RevenueRules.Excluded) contribute nothing. Others
  contribute RevenueRules.NetAmount. actualRevenue is the sum.

FAILURES:
  The ledger is queried once per month. Concurrent lookups of the same
  project share one registry call. A ledger error or a cancelled context
  fails the whole aggregation. A project whose participants cannot be
  resolved, or a rule that cannot be evaluated, fails only the employees the
  transaction could belong to. Aggregation is read-only, so cancelling it has
  no persistence consequence.
*/
package commission

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const defaultAggregationConcurrency = 8

type RevenueAggregator struct {
	Ledger   TransactionLedger
	Projects ProjectRegistry
	Rules    RevenueRules

	// Concurrency bounds parallel project lookups. Zero means 8.
	Concurrency int

	// lookups collapses concurrent registry calls for the same project,
	// e.g. a Sync overlapping a manual AddRecord.
	lookups singleflight.Group
}

// Revenue is one employee's aggregated month.
type Revenue struct {
	EmployeeID   EmployeeID
	Amount       decimal.Decimal
	Transactions int // eligible and counted
	Excluded     int // eligible but excluded by a rule
}

type evaluatedTx struct {
	tx       Transaction
	net      decimal.Decimal
	excluded bool
	ruleErr  error
}

// Aggregate computes revenue for every employee in employees.
// Employee-level failures are returned in the failures map, never as err.
func (a *RevenueAggregator) Aggregate(ctx context.Context, month Month, employees []EmployeeID) (map[EmployeeID]Revenue, map[EmployeeID]error, error) {
	txs, err := a.Ledger.QueryPaidIncome(ctx, month, LedgerFilter{})
	if err != nil {
		return nil, nil, fmt.Errorf("query ledger for %s: %w", month, err)
	}

	evaluated := make([]evaluatedTx, 0, len(txs))
	projects := make(map[ProjectID]struct{})
	for _, tx := range txs {
		if !eligible(tx, month) {
			continue
		}
		ev := evaluatedTx{tx: tx}
		excluded, rule, err := a.Rules.Excluded(tx)
		switch {
		case err != nil:
			ev.ruleErr = fmt.Errorf("transaction %s: rule %s: %w", tx.ID, rule, err)
		case excluded:
			ev.excluded = true
		default:
			ev.net = a.Rules.NetAmount(tx)
		}
		evaluated = append(evaluated, ev)
		if tx.ProjectID != "" {
			projects[tx.ProjectID] = struct{}{}
		}
	}

	participants, projectErrs, err := a.resolveParticipants(ctx, projects)
	if err != nil {
		return nil, nil, err
	}

	revenues := make(map[EmployeeID]Revenue, len(employees))
	failures := make(map[EmployeeID]error)
	for _, emp := range employees {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rev, err := employeeRevenue(emp, evaluated, participants, projectErrs)
		if err != nil {
			failures[emp] = err
			continue
		}
		revenues[emp] = rev
	}
	return revenues, failures, nil
}

// Revenue aggregates a single employee.
func (a *RevenueAggregator) Revenue(ctx context.Context, month Month, emp EmployeeID) (Revenue, error) {
	revenues, failures, err := a.Aggregate(ctx, month, []EmployeeID{emp})
	if err != nil {
		return Revenue{}, err
	}
	if err := failures[emp]; err != nil {
		return Revenue{}, err
	}
	return revenues[emp], nil
}

func eligible(tx Transaction, month Month) bool {
	return tx.Type == TxIncome && tx.Status == TxPaid && month.Contains(tx.Date)
}

func employeeRevenue(emp EmployeeID, txs []evaluatedTx, participants map[ProjectID]map[EmployeeID]bool, projectErrs map[ProjectID]error) (Revenue, error) {
	rev := Revenue{EmployeeID: emp, Amount: decimal.Zero}
	for _, ev := range txs {
		attributed := ev.tx.PerformerID == emp
		if !attributed && ev.tx.ProjectID != "" {
			if err := projectErrs[ev.tx.ProjectID]; err != nil {
				return Revenue{}, fmt.Errorf("transaction %s: project %s: %w", ev.tx.ID, ev.tx.ProjectID, err)
			}
			attributed = participants[ev.tx.ProjectID][emp]
		}
		if !attributed {
			continue
		}
		if ev.ruleErr != nil {
			return Revenue{}, ev.ruleErr
		}
		if ev.excluded {
			rev.Excluded++
			continue
		}
		rev.Transactions++
		rev.Amount = rev.Amount.Add(ev.net)
	}
	return rev, nil
}

func (a *RevenueAggregator) resolveParticipants(ctx context.Context, projects map[ProjectID]struct{}) (map[ProjectID]map[EmployeeID]bool, map[ProjectID]error, error) {
	ids := make([]ProjectID, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	members := make([]map[EmployeeID]bool, len(ids))
	errs := make([]error, len(ids))

	limit := a.Concurrency
	if limit <= 0 {
		limit = defaultAggregationConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			if a.Projects == nil {
				errs[i] = ProjectNotFound(id)
				return nil
			}
			v, err, _ := a.lookups.Do(string(id), func() (any, error) {
				return a.Projects.SalesParticipants(gctx, id)
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs[i] = err
				return nil
			}
			list := v.([]EmployeeID)
			set := make(map[EmployeeID]bool, len(list))
			for _, emp := range list {
				set[emp] = true
			}
			members[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	participants := make(map[ProjectID]map[EmployeeID]bool, len(ids))
	projectErrs := make(map[ProjectID]error)
	for i, id := range ids {
		if errs[i] != nil {
			projectErrs[id] = errs[i]
			continue
		}
		participants[id] = members[i]
	}
	return participants, projectErrs, nil
}
