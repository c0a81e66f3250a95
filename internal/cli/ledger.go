package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medrex/rx-ledger/internal/prescription"
	"github.com/medrex/rx-ledger/internal/server"
	"github.com/medrex/rx-ledger/internal/verification"
	"github.com/medrex/rx-ledger/pkg/database"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/repository"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}

			db, err := database.NewConnection(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.CreateSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <prescription-id>",
		Short: "Check one prescription against the ledger oracle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePrescriptionID(args[0])
			if err != nil {
				return err
			}

			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}

			db, err := database.NewConnection(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			backends, err := server.OpenBackends(cfg, log)
			if err != nil {
				return err
			}
			defer backends.Close()

			metrics := monitoring.NewMetricsCollector(server.ServiceName)
			repo := repository.NewPrescriptionRepository(db, log, metrics, nil)
			engine := verification.NewEngine(repo, backends.Oracle, cfg.Oracle.Timeout, nil, metrics, log)

			result, err := engine.Verify(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			if err := out.Encode(result); err != nil {
				return err
			}

			if !result.Authentic() {
				return fmt.Errorf("prescription %d failed verification: %s", id, result.Reason)
			}
			return nil
		},
	}
}

func newNotarizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "notarize <prescription-id>",
		Short: "Record an issued prescription on the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePrescriptionID(args[0])
			if err != nil {
				return err
			}

			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}

			db, err := database.NewConnection(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			backends, err := server.OpenBackends(cfg, log)
			if err != nil {
				return err
			}
			defer backends.Close()

			repo := repository.NewPrescriptionRepository(db, log, nil, nil)
			issuer := prescription.NewIssuer(repo, backends.Notarizer, cfg.Notary.Timeout, nil, log)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Notary.Timeout)
			defer cancel()

			if err := issuer.NotarizeExisting(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "prescription %d notarized\n", id)
			return nil
		},
	}
}
