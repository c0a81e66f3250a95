package verification

import (
	"fmt"

	"github.com/medrex/rx-ledger/pkg/types"
)

// transitions lists the legal moves of a single verification attempt.
// Verified and Failed are terminal; a retry is a new attempt.
var transitions = map[types.VerificationState][]types.VerificationState{
	types.VerificationIdle:      {types.VerificationVerifying},
	types.VerificationVerifying: {types.VerificationVerified, types.VerificationFailed},
}

// ValidTransition reports whether an attempt may move from one state to another
func ValidTransition(from, to types.VerificationState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type attempt struct {
	state types.VerificationState
}

func newAttempt() *attempt {
	return &attempt{state: types.VerificationIdle}
}

func (a *attempt) moveTo(to types.VerificationState) error {
	if !ValidTransition(a.state, to) {
		return fmt.Errorf("invalid verification transition %s -> %s", a.state, to)
	}
	a.state = to
	return nil
}
