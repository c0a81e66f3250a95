//go:build integration

package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/medrex/rx-ledger/pkg/config"
	"github.com/medrex/rx-ledger/pkg/database"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/types"
)

// startPostgres runs a throwaway PostgreSQL container and returns a migrated connection
func startPostgres(t *testing.T) *database.DB {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "rx_ledger_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := database.NewConnection(&config.DatabaseConfig{
		Host:         host,
		Port:         port.Int(),
		User:         "test",
		Password:     "testpass",
		Name:         "rx_ledger_test",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.CreateSchema(ctx))
	return db
}

func TestIntegration_PrescriptionLifecycle(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	log := logger.NewNop()

	_, err := db.ExecContext(ctx, `
		INSERT INTO patients (id, name) VALUES (1, 'Ana Perez');
		INSERT INTO doctors (id, name, public_key) VALUES (1, 'Dr. Ruiz', '0xkey');
		INSERT INTO pharmacies (id, name) VALUES (1, 'Farmacia Central');
		INSERT INTO medicines (id, name) VALUES (1, 'Amoxicillin'), (2, 'Ibuprofen');`)
	require.NoError(t, err)

	prescriptions := NewPrescriptionRepository(db, log, nil, nil)
	dispensations := NewDispensationRepository(db, log, nil, nil)

	fingerprint := "0x" + strings.Repeat("ab", 32)
	id, err := prescriptions.Create(ctx, &PrescriptionRecordInput{
		PatientID:   1,
		DoctorID:    1,
		IssuedAt:    time.Now().UTC().Truncate(time.Second),
		Fingerprint: fingerprint,
		Detail:      `{"medication":"amoxicillin"}`,
		LineItems: []types.NewLineItem{
			{MedicineID: 2, Dosage: "200mg"},
			{MedicineID: 1, Dosage: "500mg"},
		},
	})
	require.NoError(t, err)

	record, err := prescriptions.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, fingerprint, record.Fingerprint)
	assert.Equal(t, 0, record.DispensationCount)

	items, err := prescriptions.GetLineItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Ibuprofen", items[0].MedicineName)

	_, err = prescriptions.Create(ctx, &PrescriptionRecordInput{
		PatientID:   1,
		DoctorID:    1,
		IssuedAt:    time.Now().UTC(),
		Fingerprint: fingerprint,
		LineItems:   []types.NewLineItem{{MedicineID: 999, Dosage: "1"}},
	})
	assert.True(t, types.IsNotFound(err))

	for i := 0; i < 2; i++ {
		_, err = dispensations.Create(ctx, &types.DispensationEvent{PharmacyID: 1, PrescriptionID: id})
		require.NoError(t, err)
	}

	record, err = prescriptions.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, record.DispensationCount)
	assert.Equal(t, types.StatusDispensed, types.DeriveStatus(record.DispensationCount))

	owned, err := prescriptions.CountOwnedBy(ctx, 1, []int64{id, 12345})
	require.NoError(t, err)
	assert.Equal(t, 1, owned)
}

func TestIntegration_SharedAccess(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := NewSharedAccessRepository(db, logger.NewNop(), nil, nil)
	now := time.Now().UTC().Truncate(time.Millisecond)

	active := &types.ShareGrant{
		ID:                     uuid.New().String(),
		OwnerID:                1,
		RecipientName:          "Dr. Ruiz",
		RecipientType:          "doctor",
		ExpiresAt:              now.Add(time.Hour),
		EncodedPrescriptionIDs: "[1,2]",
		CreatedAt:              now,
	}
	expired := &types.ShareGrant{
		ID:                     uuid.New().String(),
		OwnerID:                1,
		RecipientName:          "Dr. Ruiz",
		RecipientType:          "doctor",
		ExpiresAt:              now.Add(-time.Hour),
		EncodedPrescriptionIDs: "3",
		CreatedAt:              now.Add(time.Second),
	}
	require.NoError(t, repo.Create(ctx, active))
	require.NoError(t, repo.Create(ctx, expired))

	err := repo.Create(ctx, active)
	assert.Equal(t, types.ErrorTypeConflict, types.ErrorTypeOf(err))

	grants, err := repo.ListActive(ctx, now, nil)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, active.ID, grants[0].ID)

	byRecipient, err := repo.ListByRecipient(ctx, "Dr. Ruiz", "doctor")
	require.NoError(t, err)
	assert.Len(t, byRecipient, 2)

	got, err := repo.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", got.EncodedPrescriptionIDs)

	require.NoError(t, repo.Delete(ctx, active.ID))
	assert.True(t, types.IsNotFound(repo.Delete(ctx, active.ID)))
}
