package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/types"
)

// waitDelay bounds how long a killed ledger process may keep its pipes open
const waitDelay = 500 * time.Millisecond

// ProcessOracle runs an external command with the prescription ID appended
// and parses its stdout.
type ProcessOracle struct {
	command []string
	logger  *logger.Logger
}

// NewProcessOracle creates an oracle backed by an external command
func NewProcessOracle(command []string, log *logger.Logger) (*ProcessOracle, error) {
	if len(command) == 0 {
		return nil, errors.New("oracle command is empty")
	}
	return &ProcessOracle{command: command, logger: log}, nil
}

// Attest runs the oracle command for one prescription
func (o *ProcessOracle) Attest(ctx context.Context, prescriptionID int64) (*types.Attestation, error) {
	stdout, err := runLedgerCommand(ctx, o.command, strconv.FormatInt(prescriptionID, 10))
	if err != nil {
		return nil, err
	}

	o.logger.WithContext(ctx).WithField("prescription_id", prescriptionID).Debug("Oracle output received")
	return ParseAttestation(stdout)
}

// ProcessNotarizer runs an external command with the prescription ID,
// content hash and signature appended.
type ProcessNotarizer struct {
	command []string
	logger  *logger.Logger
}

// NewProcessNotarizer creates a notarizer backed by an external command
func NewProcessNotarizer(command []string, log *logger.Logger) (*ProcessNotarizer, error) {
	if len(command) == 0 {
		return nil, errors.New("notary command is empty")
	}
	return &ProcessNotarizer{command: command, logger: log}, nil
}

// Notarize runs the notary command; a zero exit status means recorded
func (n *ProcessNotarizer) Notarize(ctx context.Context, prescriptionID int64, contentHash, signature string) error {
	stdout, err := runLedgerCommand(ctx, n.command, strconv.FormatInt(prescriptionID, 10), contentHash, signature)
	if err != nil {
		return err
	}

	n.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"prescription_id": prescriptionID,
		"output":          truncate(strings.TrimSpace(stdout), 200),
	}).Debug("Notary accepted prescription")
	return nil
}

func runLedgerCommand(ctx context.Context, command []string, args ...string) (string, error) {
	argv := append(append([]string{}, command[1:]...), args...)
	cmd := exec.CommandContext(ctx, command[0], argv...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", types.NewDependencyError(types.ErrCodeTimeout,
				fmt.Sprintf("ledger command %s did not finish", command[0]), ctx.Err())
		}
		return "", types.NewDependencyError(types.ErrCodeOracleUnavailable,
			fmt.Sprintf("ledger command %s failed: %s", command[0], truncate(strings.TrimSpace(stderr.String()), 200)), err)
	}

	return stdout.String(), nil
}
