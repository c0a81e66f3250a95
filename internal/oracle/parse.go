package oracle

import (
	"fmt"
	"regexp"

	"github.com/medrex/rx-ledger/pkg/types"
)

var (
	contentHashPattern = regexp.MustCompile(`contentHash\s*:\s*(0x)?([0-9a-fA-F]{64})`)
	signaturePattern   = regexp.MustCompile(`signature\s*:\s*(0x)?([0-9a-fA-F]{64})`)
)

// ParseAttestation extracts the content hash and signature from free-form
// oracle output. Both fields are required; surrounding text is ignored.
func ParseAttestation(output string) (*types.Attestation, error) {
	hash := contentHashPattern.FindStringSubmatch(output)
	if hash == nil {
		return nil, types.NewDependencyError(types.ErrCodeMalformedAttestation,
			"oracle output has no contentHash", fmt.Errorf("unparseable output: %q", truncate(output, 200)))
	}

	sig := signaturePattern.FindStringSubmatch(output)
	if sig == nil {
		return nil, types.NewDependencyError(types.ErrCodeMalformedAttestation,
			"oracle output has no signature", fmt.Errorf("unparseable output: %q", truncate(output, 200)))
	}

	return &types.Attestation{
		ContentHash: "0x" + hash[2],
		Signature:   "0x" + sig[2],
		Raw:         output,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
