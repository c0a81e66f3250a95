package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the database schema for the prescription ledger
func (db *DB) CreateSchema(ctx context.Context) error {
	log := db.logger.WithComponent("database")
	log.Info("Creating database schema...")

	tables := []string{
		createDoctorsTable,
		createPatientsTable,
		createPharmaciesTable,
		createMedicinesTable,
		createPrescriptionsTable,
		createPrescriptionMedicinesTable,
		createDispensationsTable,
		createSharedAccessTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createPrescriptionsIndexes,
		createDispensationsIndexes,
		createSharedAccessIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	log.Info("Database schema created successfully")
	return nil
}

// SQL DDL statements for table creation
const (
	createDoctorsTable = `
		CREATE TABLE IF NOT EXISTS doctors (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT UNIQUE,
			name VARCHAR(200) NOT NULL,
			email VARCHAR(200),
			phone VARCHAR(50),
			public_key VARCHAR(200),
			last_activity_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createPatientsTable = `
		CREATE TABLE IF NOT EXISTS patients (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT UNIQUE,
			name VARCHAR(200) NOT NULL,
			email VARCHAR(200),
			phone VARCHAR(50),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createPharmaciesTable = `
		CREATE TABLE IF NOT EXISTS pharmacies (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT UNIQUE,
			name VARCHAR(200) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createMedicinesTable = `
		CREATE TABLE IF NOT EXISTS medicines (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(200) NOT NULL
		);`

	createPrescriptionsTable = `
		CREATE TABLE IF NOT EXISTS prescriptions (
			id BIGSERIAL PRIMARY KEY,
			patient_id BIGINT NOT NULL REFERENCES patients(id),
			doctor_id BIGINT NOT NULL REFERENCES doctors(id),
			issued_at TIMESTAMP WITH TIME ZONE NOT NULL,
			fingerprint CHAR(66) NOT NULL,
			detail TEXT
		);`

	createPrescriptionMedicinesTable = `
		CREATE TABLE IF NOT EXISTS prescription_medicines (
			prescription_id BIGINT NOT NULL REFERENCES prescriptions(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			medicine_id BIGINT NOT NULL REFERENCES medicines(id),
			dosage TEXT NOT NULL,
			PRIMARY KEY (prescription_id, position)
		);`

	createDispensationsTable = `
		CREATE TABLE IF NOT EXISTS dispensations (
			id BIGSERIAL PRIMARY KEY,
			pharmacy_id BIGINT NOT NULL REFERENCES pharmacies(id),
			prescription_id BIGINT NOT NULL REFERENCES prescriptions(id),
			dispensed_at TIMESTAMP WITH TIME ZONE NOT NULL
		);`

	createSharedAccessTable = `
		CREATE TABLE IF NOT EXISTS shared_access (
			id UUID PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			recipient_name VARCHAR(200) NOT NULL,
			recipient_type VARCHAR(100) NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			prescription_ids TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`
)

// SQL DDL statements for index creation
const (
	createPrescriptionsIndexes = `
		CREATE INDEX IF NOT EXISTS idx_prescriptions_patient_id ON prescriptions(patient_id);
		CREATE INDEX IF NOT EXISTS idx_prescriptions_doctor_id ON prescriptions(doctor_id);
		CREATE INDEX IF NOT EXISTS idx_prescriptions_issued_at ON prescriptions(issued_at);`

	createDispensationsIndexes = `
		CREATE INDEX IF NOT EXISTS idx_dispensations_prescription_id ON dispensations(prescription_id);
		CREATE INDEX IF NOT EXISTS idx_dispensations_pharmacy_id ON dispensations(pharmacy_id);`

	createSharedAccessIndexes = `
		CREATE INDEX IF NOT EXISTS idx_shared_access_owner_id ON shared_access(owner_id);
		CREATE INDEX IF NOT EXISTS idx_shared_access_expires_at ON shared_access(expires_at);
		CREATE INDEX IF NOT EXISTS idx_shared_access_recipient ON shared_access(recipient_name, recipient_type);`
)
