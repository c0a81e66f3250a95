// Package cli implements the rx-ledger command line
package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/medrex/rx-ledger/pkg/config"
	"github.com/medrex/rx-ledger/pkg/logger"
)

// NewRootCommand builds the rx-ledger command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "rx-ledger",
		Short:         "Prescription sharing, verification and dispensation service",
		Long:          "rx-ledger serves the prescription API and checks prescriptions against the ledger oracle.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newVerifyCommand(),
		newNotarizeCommand(),
	)
	return root
}

// loadRuntime loads configuration and the logger every command needs
func loadRuntime() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logger.New(cfg.LogLevel), nil
}

func parsePrescriptionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid prescription id %q", arg)
	}
	return id, nil
}
