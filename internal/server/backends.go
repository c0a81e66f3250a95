package server

import (
	"fmt"

	"github.com/medrex/rx-ledger/internal/oracle"
	"github.com/medrex/rx-ledger/pkg/config"
	"github.com/medrex/rx-ledger/pkg/logger"
)

// Backends are the ledger read and write sides selected by configuration.
// Ledger is set when either side uses the LevelDB driver; both sides then
// share the one handle.
type Backends struct {
	Oracle    oracle.Oracle
	Notarizer oracle.Notarizer
	Ledger    *oracle.Ledger
}

// OpenBackends builds the oracle and notarizer named by cfg
func OpenBackends(cfg *config.Config, log *logger.Logger) (*Backends, error) {
	b := &Backends{}

	openLedger := func() (*oracle.Ledger, error) {
		if b.Ledger != nil {
			return b.Ledger, nil
		}
		ledger, err := oracle.OpenLedger(cfg.Oracle.LedgerPath, log)
		if err != nil {
			return nil, err
		}
		b.Ledger = ledger
		return ledger, nil
	}

	switch cfg.Oracle.Driver {
	case config.DriverLevelDB:
		ledger, err := openLedger()
		if err != nil {
			return nil, err
		}
		b.Oracle = ledger
	case config.DriverProcess:
		o, err := oracle.NewProcessOracle(cfg.Oracle.Command, log)
		if err != nil {
			return nil, err
		}
		b.Oracle = o
	default:
		return nil, fmt.Errorf("unknown oracle driver: %q", cfg.Oracle.Driver)
	}

	switch cfg.Notary.Driver {
	case config.DriverLevelDB:
		ledger, err := openLedger()
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Notarizer = ledger
	case config.DriverProcess:
		n, err := oracle.NewProcessNotarizer(cfg.Notary.Command, log)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Notarizer = n
	default:
		b.Close()
		return nil, fmt.Errorf("unknown notary driver: %q", cfg.Notary.Driver)
	}

	log.WithComponent("server").WithField("oracle_driver", cfg.Oracle.Driver).
		WithField("notary_driver", cfg.Notary.Driver).Info("Ledger backends ready")
	return b, nil
}

// Close releases the LevelDB ledger if one was opened
func (b *Backends) Close() error {
	if b == nil || b.Ledger == nil {
		return nil
	}
	return b.Ledger.Close()
}
