package main

import (
	"errors"
	"fmt"
	"time"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/spf13/cobra"
)

var errValidationFailed = errors.New("validation failed")

func newSyncOveragesCmd(get func() *services, opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sync-overages",
		Short: "Push unsynced overage to the payment provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := get()
			if limit <= 0 {
				limit = svc.syncLimit
			}
			if limit <= 0 {
				limit = appmetering.DefaultOverageSyncLimit
			}
			result, err := svc.overages.Sync(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "synced: %d\nfailed: %d\nskipped: %d\n",
				result.Synced, result.Failed, result.Skipped)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum overage rows to sync (default: configured limit)")
	return cmd
}

func newCleanupCmd(get func() *services, opts *rootOptions) *cobra.Command {
	var (
		days   int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove usage records older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := get().retention.Cleanup(cmd.Context(), days, dryRun)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			out := cmd.OutOrStdout()
			if result.DryRun {
				_, err = fmt.Fprintf(out, "would remove %d records older than %s (policy: %s)\n",
					result.Matched, result.Cutoff.Format(time.RFC3339), result.Policy)
				return err
			}
			_, err = fmt.Fprintf(out, "removed %d of %d records older than %s (policy: %s)\n",
				result.Deleted, result.Matched, result.Cutoff.Format(time.RFC3339), result.Policy)
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention window in days (default: configured prune_after_days)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Count matching records without deleting them")
	return cmd
}

func newReportCmd(get func() *services, opts *rootOptions) *cobra.Command {
	var (
		billableFlag string
		period       string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print usage totals for one billable or for all billables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			which := appmetering.ReportPeriod(period)
			if which != appmetering.ReportPeriodCurrent && which != appmetering.ReportPeriodPrevious {
				return fmt.Errorf("period must be %q or %q", appmetering.ReportPeriodCurrent, appmetering.ReportPeriodPrevious)
			}
			var billable *metering.BillableRef
			if billableFlag != "" {
				ref, err := parseBillable(billableFlag)
				if err != nil {
					return err
				}
				billable = &ref
			}

			report, err := get().reports.Generate(cmd.Context(), billable, which)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return renderReport(cmd, report)
		},
	}
	cmd.Flags().StringVar(&billableFlag, "billable", "", "Billable as type:id (default: all billables)")
	cmd.Flags().StringVar(&period, "period", string(appmetering.ReportPeriodCurrent), "Billing period: current or previous")
	return cmd
}

func renderReport(cmd *cobra.Command, report *appmetering.UsageReport) error {
	out := cmd.OutOrStdout()
	scope := "all billables"
	if report.Billable != nil {
		scope = report.Billable.Key()
	}
	fmt.Fprintf(out, "usage report: %s\n", scope)
	fmt.Fprintf(out, "period: %s to %s\n", report.Period.Start.Format(time.RFC3339), report.Period.End.Format(time.RFC3339))
	fmt.Fprintf(out, "calls: %d\ntokens: %d\ncost: %s\n", report.Totals.Calls, report.Totals.Tokens, report.Totals.Cost.StringFixed(4))

	if len(report.ByModel) > 0 {
		fmt.Fprintln(out, "by model:")
		for _, line := range report.ByModel {
			fmt.Fprintf(out, "  %-32s calls=%d tokens=%d cost=%s\n", line.Key, line.Calls, line.Tokens, line.Cost.StringFixed(4))
		}
	}
	if len(report.TopBillables) > 0 {
		fmt.Fprintln(out, "top billables:")
		for _, line := range report.TopBillables {
			fmt.Fprintf(out, "  %-32s calls=%d tokens=%d cost=%s\n", line.Key, line.Calls, line.Tokens, line.Cost.StringFixed(4))
		}
	}
	return nil
}

func newMigratePlanCmd(get func() *services, opts *rootOptions) *cobra.Command {
	var (
		billableFlag string
		planRef      string
		resetStart   bool
	)

	cmd := &cobra.Command{
		Use:   "migrate-plan",
		Short: "Move a billable's subscription to another plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			billable, err := parseBillable(billableFlag)
			if err != nil {
				return err
			}
			sub, err := get().plans.MigratePlan(cmd.Context(), appmetering.MigratePlanInput{
				Billable:   billable,
				PlanRef:    planRef,
				ResetStart: resetStart,
			})
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), sub)
			}
			planName := planRef
			if sub.Plan != nil {
				planName = sub.Plan.Name
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s moved to plan %s (started %s)\n",
				billable.Key(), planName, sub.StartedAt.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().StringVar(&billableFlag, "billable", "", "Billable as type:id")
	cmd.Flags().StringVar(&planRef, "plan", "", "Target plan ID or slug")
	cmd.Flags().BoolVar(&resetStart, "reset-start", false, "Restart the subscription period at the migration time")
	_ = cmd.MarkFlagRequired("billable")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newPlansCmd(get func() *services, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List active plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plans, err := get().plans.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), plans)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plans: %d\n", len(plans))
			for _, p := range plans {
				fmt.Fprintf(out, "  %-20s %-24s tokens=%s cost=%s\n", p.Slug, p.Name, formatTokenLimit(p), formatCostLimit(p))
			}
			return nil
		},
	}
}

func newValidateCmd(get func() *services, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the metering configuration and stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := get().validation.Validate(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, e := range report.Errors {
					fmt.Fprintf(out, "error: %s\n", e)
				}
				for _, w := range report.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
				if report.OK() {
					fmt.Fprintln(out, "configuration ok")
				}
			}
			if !report.OK() {
				return fmt.Errorf("%w: %d errors", errValidationFailed, len(report.Errors))
			}
			return nil
		},
	}
}

func formatTokenLimit(p *metering.Plan) string {
	if p.TokenLimit == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *p.TokenLimit)
}

func formatCostLimit(p *metering.Plan) string {
	if p.CostLimit == nil {
		return "unlimited"
	}
	return p.CostLimit.StringFixed(2)
}
