package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/types"
)

func setupDispensationRepository(t *testing.T) (*DispensationRepository, sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)
	return NewDispensationRepository(db, logger.NewNop(), nil, nil), mock
}

func TestDispensationRepository_Create(t *testing.T) {
	repo, mock := setupDispensationRepository(t)
	at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO dispensations").
		WithArgs(int64(5), int64(42), at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))

	event, err := repo.Create(context.Background(), &types.DispensationEvent{
		PharmacyID:     5,
		PrescriptionID: 42,
		DispensedAt:    at,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispensationRepository_Create_DefaultsTimestamp(t *testing.T) {
	repo, mock := setupDispensationRepository(t)

	mock.ExpectQuery("INSERT INTO dispensations").
		WithArgs(int64(5), int64(42), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	event, err := repo.Create(context.Background(), &types.DispensationEvent{PharmacyID: 5, PrescriptionID: 42})
	require.NoError(t, err)
	assert.False(t, event.DispensedAt.IsZero())
}

func TestDispensationRepository_Create_UnknownReference(t *testing.T) {
	repo, mock := setupDispensationRepository(t)

	mock.ExpectQuery("INSERT INTO dispensations").
		WillReturnError(&pq.Error{Code: "23503"})

	_, err := repo.Create(context.Background(), &types.DispensationEvent{PharmacyID: 5, PrescriptionID: 999})
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestDispensationRepository_Create_StorageError(t *testing.T) {
	repo, mock := setupDispensationRepository(t)

	mock.ExpectQuery("INSERT INTO dispensations").
		WillReturnError(errors.New("disk full"))

	_, err := repo.Create(context.Background(), &types.DispensationEvent{PharmacyID: 5, PrescriptionID: 1})
	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeInternal, types.ErrorTypeOf(err))
}

func TestDispensationRepository_ListByPrescription(t *testing.T) {
	repo, mock := setupDispensationRepository(t)
	first := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"id", "pharmacy_id", "prescription_id", "dispensed_at"}).
		AddRow(int64(1), int64(5), int64(42), first).
		AddRow(int64(2), int64(6), int64(42), second)
	mock.ExpectQuery("SELECT (.+) FROM dispensations").
		WithArgs(int64(42)).
		WillReturnRows(rows)

	events, err := repo.ListByPrescription(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(5), events[0].PharmacyID)
	assert.Equal(t, second, events[1].DispensedAt)
}

func TestDispensationRepository_ListByPrescription_Empty(t *testing.T) {
	repo, mock := setupDispensationRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM dispensations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "pharmacy_id", "prescription_id", "dispensed_at"}))

	events, err := repo.ListByPrescription(context.Background(), 42)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}
