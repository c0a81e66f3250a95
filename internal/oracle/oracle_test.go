package oracle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/types"
)

var (
	hashA = strings.Repeat("ab", 32)
	hashB = strings.Repeat("cd", 32)
)

func TestParseAttestation(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		wantHash  string
		wantSig   string
		wantError bool
	}{
		{
			name:     "prefixed values",
			output:   "contentHash: 0x" + hashA + "\nsignature: 0x" + hashB + "\n",
			wantHash: "0x" + hashA,
			wantSig:  "0x" + hashB,
		},
		{
			name:     "unprefixed values with noise",
			output:   "connecting...\ncontentHash :" + hashA + "\nblock 12\nsignature:   " + hashB,
			wantHash: "0x" + hashA,
			wantSig:  "0x" + hashB,
		},
		{
			name:      "missing signature",
			output:    "contentHash: 0x" + hashA,
			wantError: true,
		},
		{
			name:      "short hash",
			output:    "contentHash: 0xabc\nsignature: 0x" + hashB,
			wantError: true,
		},
		{
			name:      "empty output",
			output:    "",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, err := ParseAttestation(tt.output)
			if tt.wantError {
				require.Error(t, err)
				assert.Equal(t, types.ErrorTypeExternal, types.ErrorTypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHash, att.ContentHash)
			assert.Equal(t, tt.wantSig, att.Signature)
			assert.Equal(t, tt.output, att.Raw)
		})
	}
}

func TestProcessOracle_Attest(t *testing.T) {
	o, err := NewProcessOracle([]string{
		"sh", "-c", `printf 'contentHash: 0x%064d\nsignature: 0x%064x\n' "$1" 255`, "rx-oracle",
	}, logger.NewNop())
	require.NoError(t, err)

	att, err := o.Attest(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("0", 62)+"42", att.ContentHash)
	assert.Equal(t, "0x"+strings.Repeat("0", 62)+"ff", att.Signature)
}

func TestProcessOracle_CommandFails(t *testing.T) {
	o, err := NewProcessOracle([]string{"sh", "-c", "echo ledger offline >&2; exit 3", "rx-oracle"}, logger.NewNop())
	require.NoError(t, err)

	_, err = o.Attest(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger offline")
	assert.Equal(t, types.ErrorTypeExternal, types.ErrorTypeOf(err))
}

func TestProcessOracle_MalformedOutput(t *testing.T) {
	o, err := NewProcessOracle([]string{"sh", "-c", "echo nothing recorded", "rx-oracle"}, logger.NewNop())
	require.NoError(t, err)

	_, err = o.Attest(context.Background(), 1)
	require.Error(t, err)

	var rxErr *types.RxError
	require.ErrorAs(t, err, &rxErr)
	assert.Equal(t, types.ErrCodeMalformedAttestation, rxErr.Code)
}

func TestProcessOracle_Timeout(t *testing.T) {
	// The ID is appended, so this runs "sleep 5".
	o, err := NewProcessOracle([]string{"sleep"}, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = o.Attest(ctx, 5)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	var rxErr *types.RxError
	require.ErrorAs(t, err, &rxErr)
	assert.Equal(t, types.ErrCodeTimeout, rxErr.Code)
}

func TestNewProcessOracle_EmptyCommand(t *testing.T) {
	_, err := NewProcessOracle(nil, logger.NewNop())
	assert.Error(t, err)

	_, err = NewProcessNotarizer([]string{}, logger.NewNop())
	assert.Error(t, err)
}

func TestProcessNotarizer_PassesArguments(t *testing.T) {
	out := filepath.Join(t.TempDir(), "notarized")
	n, err := NewProcessNotarizer([]string{
		"sh", "-c", `printf '%s %s %s' "$1" "$2" "$3" > "$0"`, out,
	}, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, n.Notarize(context.Background(), 7, "0x"+hashA, NoSignature))

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "7 0x"+hashA+" 0x", string(written))
}

func newMemLedger(t *testing.T) *Ledger {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	l := NewLedger(db, logger.NewNop())
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_NotarizeThenAttest(t *testing.T) {
	l := newMemLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Notarize(ctx, 9, "0x"+hashA, "0x"+hashB))

	att, err := l.Attest(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "0x"+hashA, att.ContentHash)
	assert.Equal(t, "0x"+hashB, att.Signature)

	// Raw follows the external oracle's format.
	parsed, err := ParseAttestation(att.Raw)
	require.NoError(t, err)
	assert.Equal(t, att.ContentHash, parsed.ContentHash)
}

func TestLedger_WriteOnce(t *testing.T) {
	l := newMemLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Notarize(ctx, 9, "0x"+hashA, "0x"))
	err := l.Notarize(ctx, 9, "0x"+hashB, "0x")
	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeConflict, types.ErrorTypeOf(err))

	att, err := l.Attest(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "0x"+hashA, att.ContentHash)
}

func TestLedger_AttestUnknown(t *testing.T) {
	l := newMemLedger(t)

	_, err := l.Attest(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeExternal, types.ErrorTypeOf(err))
}

func TestLedger_PingAfterClose(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	l := NewLedger(db, logger.NewNop())

	assert.NoError(t, l.Ping(context.Background()))
	require.NoError(t, l.Close())
	assert.Error(t, l.Ping(context.Background()))
}
