package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/medrex/rx-ledger/internal/oracle"
	"github.com/medrex/rx-ledger/pkg/config"
	"github.com/medrex/rx-ledger/pkg/database"
	"github.com/medrex/rx-ledger/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 4000, ReadTimeout: 5, WriteTimeout: 5, IdleTimeout: 5},
		Oracle: config.OracleConfig{Driver: config.DriverLevelDB, Timeout: time.Second},
		Notary: config.NotaryConfig{Driver: config.DriverLevelDB, Timeout: time.Second},
		RateLimit: config.RateLimitConfig{
			Enabled:         true,
			RequestsPerMin:  1,
			CleanupInterval: 60,
		},
		Monitoring: config.MonitoringConfig{Enabled: true, MetricsPath: "/metrics", HealthPath: "/health"},
		LogLevel:   "error",
	}
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	ledger := oracle.NewLedger(ldb, logger.NewNop())

	s, err := NewWithDependencies(testConfig(), logger.NewNop(), database.Wrap(sqlDB, logger.NewNop()),
		&Backends{Oracle: ledger, Notarizer: ledger, Ledger: ledger})
	require.NoError(t, err)
	return s, mock
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s, mock := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ledger"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	mock.ExpectClose()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServer_VerifyRouteIsRateLimited(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescription/verify/1", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/prescription/verify/1", nil)
	req.RemoteAddr = "192.0.2.10:4001"
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other routes do not share the verification budget.
	for i := 0; i < 3; i++ {
		req = httptest.NewRequest(http.MethodGet, "/api/v1/shared-access/not-a-uuid", nil)
		req.RemoteAddr = "192.0.2.10:4002"
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestServer_Preflight(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/dispense", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOpenBackends_SharedLedger(t *testing.T) {
	cfg := testConfig()
	cfg.Oracle.LedgerPath = filepath.Join(t.TempDir(), "ledger")

	b, err := OpenBackends(cfg, logger.NewNop())
	require.NoError(t, err)
	defer b.Close()

	require.NotNil(t, b.Ledger)
	assert.Same(t, b.Ledger, b.Oracle)
	assert.Same(t, b.Ledger, b.Notarizer)
}

func TestOpenBackends_Process(t *testing.T) {
	cfg := testConfig()
	cfg.Oracle = config.OracleConfig{Driver: config.DriverProcess, Command: []string{"true"}, Timeout: time.Second}
	cfg.Notary = config.NotaryConfig{Driver: config.DriverProcess, Command: []string{"true"}, Timeout: time.Second}

	b, err := OpenBackends(cfg, logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, b.Ledger)
	assert.IsType(t, &oracle.ProcessOracle{}, b.Oracle)
	assert.IsType(t, &oracle.ProcessNotarizer{}, b.Notarizer)
	assert.NoError(t, b.Close())
}

func TestOpenBackends_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Oracle.Driver = "carrier-pigeon"

	_, err := OpenBackends(cfg, logger.NewNop())
	assert.Error(t, err)
}
