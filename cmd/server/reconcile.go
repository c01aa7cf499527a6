package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"travel-admin-backend/internal/ledger"
	"travel-admin-backend/internal/models"
	service "travel-admin-backend/internal/services/reconciliation"
)

var (
	reconcileKind    string
	reconcileMapping string
	reconcileBy      string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <file>",
	Short: "Reconcile one ledger file against the booking database",
	Long: `Reconcile runs a ledger file through the same engine as the API, on the
calling process, and prints the finished job as JSON. Results are stored and
can be reviewed through the API afterwards.

Examples:
  travel-admin reconcile march.csv
  travel-admin reconcile gds-export.xlsx --mapping '{"ticket_number":"Tkt No"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileKind, "kind", "", "file kind: delimited or spreadsheet (default: from extension)")
	reconcileCmd.Flags().StringVar(&reconcileMapping, "mapping", "", "JSON column mapping, e.g. {\"travel_date\": 4}")
	reconcileCmd.Flags().StringVar(&reconcileBy, "submitted-by", "cli", "recorded as the job submitter")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	mapping, err := ledger.ParseMapping([]byte(reconcileMapping))
	if err != nil {
		return err
	}

	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	svc := service.NewReconciliationService(db, nil, service.ConfigFrom(cfg.Reconciliation, cfg.Auth), log)

	job, runErr := svc.Reconcile(context.Background(), service.Upload{
		Filename:    filepath.Base(args[0]),
		Kind:        models.SourceKind(reconcileKind),
		Data:        data,
		Mapping:     mapping,
		SubmittedBy: reconcileBy,
	})
	if job != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(job); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("reconcile %s: %w", args[0], runErr)
	}
	return nil
}
