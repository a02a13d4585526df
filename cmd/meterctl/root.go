package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel string
	asJSON   bool
}

func newRootCmd(load serviceLoader) *cobra.Command {
	opts := &rootOptions{}
	var svc *services

	rootCmd := &cobra.Command{
		Use:           "meterctl",
		Short:         "Operate the AI usage meter",
		Long:          "meterctl syncs overage charges, prunes old usage, prints usage reports, moves billables between plans and validates the metering setup.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := load(cmd.Context(), opts.logLevel)
			if err != nil {
				return err
			}
			svc = s
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if svc == nil || svc.close == nil {
				return nil
			}
			return svc.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Render JSON output")

	get := func() *services { return svc }
	rootCmd.AddCommand(
		newSyncOveragesCmd(get, opts),
		newCleanupCmd(get, opts),
		newReportCmd(get, opts),
		newMigratePlanCmd(get, opts),
		newPlansCmd(get, opts),
		newValidateCmd(get, opts),
	)
	return rootCmd
}

// parseBillable reads a "type:id" reference
func parseBillable(value string) (metering.BillableRef, error) {
	billableType, id, ok := strings.Cut(value, ":")
	if !ok {
		return metering.BillableRef{}, fmt.Errorf("billable %q must have the form type:id", value)
	}
	return metering.NewBillableRef(billableType, id)
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
