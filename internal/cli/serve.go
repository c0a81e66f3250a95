package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/medrex/rx-ledger/internal/server"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}

			srv, err := server.New(cfg, log)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errCh:
				if err != nil {
					log.WithComponent("cli").WithError(err).Error("Server failed")
				}
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				srv.Stop(ctx)
				return err
			case <-quit:
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				log.WithComponent("cli").WithError(err).Error("Failed to shut down cleanly")
				return err
			}

			log.WithComponent("cli").Info("rx-ledger server stopped")
			return nil
		},
	}
}
