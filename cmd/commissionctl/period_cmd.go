package main

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync MONTH",
		Short: "Recompute every DRAFT record of a month (YYYY-MM)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			month, err := parseMonthArg(args)
			if err != nil {
				return err
			}
			result, err := a.svc.Sync(cmd.Context(), month, actor)
			if result != nil {
				if werr := writeJSON(cmd.OutOrStdout(), api.ToSyncResponse(result)); werr != nil {
					return werr
				}
			}
			return err
		},
	}
}

func newLockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lock MONTH",
		Short: "Finalize every record of a month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			month, err := parseMonthArg(args)
			if err != nil {
				return err
			}
			summary, err := a.svc.Lock(cmd.Context(), month, actor)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.ToPeriodDTO(summary))
		},
	}
}

func newUnlockCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "unlock MONTH --reason TEXT",
		Short: "Return a finalized month to DRAFT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			month, err := parseMonthArg(args)
			if err != nil {
				return err
			}
			summary, err := a.svc.Unlock(cmd.Context(), month, actor, reason)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.ToPeriodDTO(summary))
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the month is reopened (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status MONTH",
		Short: "Show a month's status and totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			month, err := parseMonthArg(args)
			if err != nil {
				return err
			}
			summary, err := a.svc.GetPeriod(cmd.Context(), month)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.ToPeriodDTO(summary))
		},
	}
}

func newRecordsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "records MONTH",
		Short: "List a month's commission records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			month, err := parseMonthArg(args)
			if err != nil {
				return err
			}
			records, err := a.svc.GetRecords(cmd.Context(), month)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.ToRecordDTOs(records))
		},
	}
}

func newRecalcCmd(a *app) *cobra.Command {
	var adjustment string
	cmd := &cobra.Command{
		Use:   "recalc MONTH EMPLOYEE --adjustment AMOUNT",
		Short: "Set a record's manual adjustment and recompute it from its snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			month, err := parseMonthArg(args)
			if err != nil {
				return err
			}
			adj, err := decimal.NewFromString(adjustment)
			if err != nil {
				return &commission.ValidationError{Field: "adjustment", Reason: "invalid decimal " + adjustment}
			}
			rec, err := a.svc.RecalculateOne(cmd.Context(), commission.EmployeeID(args[1]), month, adj, actor)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.ToRecordDTO(rec))
		},
	}
	cmd.Flags().StringVar(&adjustment, "adjustment", "", "Manual adjustment added to actual revenue (may be negative)")
	_ = cmd.MarkFlagRequired("adjustment")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit MONTH",
		Short: "Show a month's audit trail, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("--limit must be >= 0")
			}
			month, err := parseMonthArg(args)
			if err != nil {
				return err
			}
			entries, err := a.svc.AuditTrail(cmd.Context(), month, limit)
			if err != nil {
				return err
			}
			out := make([]api.AuditEntryDTO, len(entries))
			for i, e := range entries {
				out[i] = api.ToAuditEntryDTO(e)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries, 0 for all")
	return cmd
}
