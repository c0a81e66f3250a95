package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/types"
)

var (
	fingerprintHex = strings.Repeat("ab", 32)
	doctorKeyHex   = strings.Repeat("cd", 32)
)

type mockAnchorStore struct {
	mock.Mock
}

func (m *mockAnchorStore) GetVerificationAnchor(ctx context.Context, prescriptionID int64) (string, string, error) {
	args := m.Called(ctx, prescriptionID)
	return args.String(0), args.String(1), args.Error(2)
}

// stubOracle returns a fixed answer and counts calls
type stubOracle struct {
	mu          sync.Mutex
	calls       int
	attestation *types.Attestation
	err         error
	block       chan struct{}
}

func (o *stubOracle) Attest(ctx context.Context, prescriptionID int64) (*types.Attestation, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()

	if o.block != nil {
		<-o.block
	}
	return o.attestation, o.err
}

func newTestEngine(store AnchorStore, o *stubOracle, timeout time.Duration) (*Engine, *monitoring.MetricsCollector) {
	metrics := monitoring.NewMetricsCollector("test")
	log := logger.NewNop()
	return NewEngine(store, o, timeout, monitoring.NewMonitoringMiddleware(metrics, nil, log), metrics, log), metrics
}

func TestCanonicalHex(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc123", "0xabc123"},
		{"0xabc123", "0xabc123"},
		{"0XABC123", "0xabc123"},
		{"0x0xabc123", "0xabc123"},
		{"  0xAbC123\n", "0xabc123"},
		{"", "0x"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalHex(tt.in), tt.in)
	}
}

func TestValidTransition(t *testing.T) {
	assert.True(t, ValidTransition(types.VerificationIdle, types.VerificationVerifying))
	assert.True(t, ValidTransition(types.VerificationVerifying, types.VerificationVerified))
	assert.True(t, ValidTransition(types.VerificationVerifying, types.VerificationFailed))

	assert.False(t, ValidTransition(types.VerificationIdle, types.VerificationVerified))
	assert.False(t, ValidTransition(types.VerificationVerified, types.VerificationVerifying))
	assert.False(t, ValidTransition(types.VerificationFailed, types.VerificationVerified))

	a := newAttempt()
	assert.Error(t, a.moveTo(types.VerificationFailed))
	assert.Equal(t, types.VerificationIdle, a.state)
}

func TestEngine_VerifiedWithPrefixDifferences(t *testing.T) {
	store := &mockAnchorStore{}
	// Stored without prefix, reported with one.
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return(fingerprintHex, "0x"+doctorKeyHex, nil)

	o := &stubOracle{attestation: &types.Attestation{
		ContentHash: "0x" + strings.ToUpper(fingerprintHex),
		Signature:   doctorKeyHex,
		Raw:         "contentHash: ...",
	}}
	engine, _ := newTestEngine(store, o, time.Second)

	result, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, types.VerificationVerified, result.Status)
	assert.True(t, result.Authentic())
	assert.Empty(t, result.Reason)
	assert.Equal(t, "contentHash: ...", result.Raw)
	assert.Equal(t, fingerprintHex, result.LocalFingerprint)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestEngine_MismatchOnHash(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return("0x"+fingerprintHex, doctorKeyHex, nil)

	o := &stubOracle{attestation: &types.Attestation{
		ContentHash: "0x" + strings.Repeat("de", 32),
		Signature:   doctorKeyHex,
	}}
	engine, _ := newTestEngine(store, o, time.Second)

	result, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationFailed, result.Status)
	assert.Equal(t, types.ReasonMismatch, result.Reason)
	assert.False(t, result.Authentic())
}

func TestEngine_MismatchOnSignature(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return(fingerprintHex, doctorKeyHex, nil)

	o := &stubOracle{attestation: &types.Attestation{
		ContentHash: fingerprintHex,
		Signature:   strings.Repeat("ef", 32),
	}}
	engine, _ := newTestEngine(store, o, time.Second)

	result, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonMismatch, result.Reason)
}

func TestEngine_DoctorWithoutKeyNeverVerifies(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return(fingerprintHex, "", nil)

	o := &stubOracle{attestation: &types.Attestation{ContentHash: fingerprintHex, Signature: "0x"}}
	engine, _ := newTestEngine(store, o, time.Second)

	result, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationFailed, result.Status)
	assert.Equal(t, types.ReasonMismatch, result.Reason)
}

func TestEngine_OracleErrorFails(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return(fingerprintHex, doctorKeyHex, nil)

	o := &stubOracle{err: errors.New("exit status 1")}
	engine, _ := newTestEngine(store, o, time.Second)

	result, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationFailed, result.Status)
	assert.Equal(t, types.ReasonOracleUnavailable, result.Reason)
	assert.Empty(t, result.ContentHash)
}

func TestEngine_NilAttestationFails(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return(fingerprintHex, doctorKeyHex, nil)

	engine, _ := newTestEngine(store, &stubOracle{}, time.Second)

	result, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonOracleUnavailable, result.Reason)
}

func TestEngine_TimeoutFailsEvenIfOracleIgnoresContext(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return(fingerprintHex, doctorKeyHex, nil)

	block := make(chan struct{})
	defer close(block)
	o := &stubOracle{block: block, attestation: &types.Attestation{ContentHash: fingerprintHex, Signature: doctorKeyHex}}
	engine, _ := newTestEngine(store, o, 20*time.Millisecond)

	start := time.Now()
	result, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, types.VerificationFailed, result.Status)
	assert.Equal(t, types.ReasonOracleUnavailable, result.Reason)
}

func TestEngine_RepeatedVerificationIsIdempotent(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return(fingerprintHex, doctorKeyHex, nil)

	o := &stubOracle{attestation: &types.Attestation{ContentHash: fingerprintHex, Signature: doctorKeyHex}}
	engine, _ := newTestEngine(store, o, time.Second)

	first, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	second, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, types.VerificationVerified, first.Status)
	assert.Equal(t, types.VerificationVerified, second.Status)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, first.LocalSignature, second.LocalSignature)
	assert.Equal(t, 2, o.calls)
}

func TestEngine_RetryAfterFailureStartsFresh(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(10)).Return(fingerprintHex, doctorKeyHex, nil)

	o := &stubOracle{err: errors.New("ledger down")}
	engine, _ := newTestEngine(store, o, time.Second)

	result, err := engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationFailed, result.Status)

	o.err = nil
	o.attestation = &types.Attestation{ContentHash: fingerprintHex, Signature: doctorKeyHex}

	result, err = engine.Verify(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, result.Status)
}

func TestEngine_LookupErrorsPropagate(t *testing.T) {
	store := &mockAnchorStore{}
	store.On("GetVerificationAnchor", mock.Anything, int64(404)).
		Return("", "", types.NewNotFoundError(types.ErrCodeNotFound, "prescription not found: 404"))

	o := &stubOracle{}
	engine, _ := newTestEngine(store, o, time.Second)

	_, err := engine.Verify(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
	assert.Equal(t, 0, o.calls)
}
