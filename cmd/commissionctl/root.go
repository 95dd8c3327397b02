/*
commissionctl - Operator CLI for the commission engine

PURPOSE:
  Runs the same operations as the HTTP API directly against the SQLite
  database named by DB_PATH. Intended for finance operators and scripted
  month-end runs.

COMMANDS:
  policy list | get CODE | put -f FILE | delete CODE
  sync MONTH
  lock MONTH
  unlock MONTH --reason TEXT
  status MONTH
  records MONTH
  recalc MONTH EMPLOYEE --adjustment AMOUNT
  audit MONTH

  Every write is recorded with --actor (default $USER).

SEE ALSO:
  - config/config.go: Environment keys
  - api/handlers.go: The HTTP equivalent
*/
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/store/sqlite"
)

// app is opened once per invocation by the root command and closed by execute.
type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	store *sqlite.Store
	svc   *commission.Service

	actor  string
	dbPath string
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "commissionctl",
		Short:         "Commission engine operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.open()
		},
	}
	cmd.PersistentFlags().StringVar(&a.actor, "actor", os.Getenv("USER"), "Actor recorded in the audit log")
	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite path (overrides DB_PATH)")

	cmd.AddCommand(
		newPolicyCmd(a),
		newSyncCmd(a),
		newLockCmd(a),
		newUnlockCmd(a),
		newStatusCmd(a),
		newRecordsCmd(a),
		newRecalcCmd(a),
		newAuditCmd(a),
	)
	return cmd
}

func (a *app) open() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	a.cfg = cfg
	a.log = cfg.NewLogger()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	a.store = store

	divisor, err := cfg.Divisor()
	if err != nil {
		return err
	}
	rules, err := factory.LoadRulesWithDivisor(cfg.RulesPath, divisor)
	if err != nil {
		return err
	}
	a.svc = commission.NewService(store, store, &commission.RevenueAggregator{
		Ledger:      store,
		Projects:    store,
		Rules:       rules,
		Concurrency: cfg.SyncConcurrency,
	},
		commission.WithLogger(a.log),
		commission.WithCompletenessGate(cfg.LockRequiresCompleteSync),
	)
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *app) requireActor() (string, error) {
	if a.actor == "" {
		return "", errors.New("--actor is required for writes")
	}
	return a.actor, nil
}

func parseMonthArg(args []string) (commission.Month, error) {
	return commission.ParseMonth(args[0])
}

func execute() {
	a := &app{}
	err := newRootCmd(a).Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode: 2 for caller mistakes, 3 for state conflicts, 1 otherwise.
func exitCode(err error) int {
	switch {
	case commission.IsClientError(err), commission.IsNotFound(err):
		return 2
	case commission.IsConflict(err):
		return 3
	default:
		return 1
	}
}
