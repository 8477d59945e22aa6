package repository

import (
	"context"
	"testing"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupReadingsRepo(t *testing.T) (sqlmock.Sqlmock, *ReadingsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return mock, NewReadingsRepository(db, zap.NewNop())
}

func sampleReading() *models.NormalizedReading {
	sys, dia, pulse := 137, 95, 74
	return &models.NormalizedReading{
		PatientID: "P1",
		Device: models.DeviceIdentity{
			Family:    models.FamilySubDevice,
			Primary:   "DC:DA:0C:11:22:33",
			Secondary: "c12488906de0",
		},
		Type:       models.ReadingBloodPressure,
		Systolic:   &sys,
		Diastolic:  &dia,
		Pulse:      &pulse,
		CapturedAt: time.Unix(1716000000, 0).UTC(),
		ReceivedAt: time.Unix(1716000060, 0).UTC(),
	}
}

func TestReadingsInsert_Success(t *testing.T) {
	mock, repo := setupReadingsRepo(t)

	mock.ExpectExec(`INSERT INTO medical_readings`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Insert(context.Background(), sampleReading())

	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadingsInsert_DuplicateIsIdempotent(t *testing.T) {
	mock, repo := setupReadingsRepo(t)

	// ON CONFLICT DO NOTHING：重复投递时 0 行受影响，不算错误
	mock.ExpectExec(`INSERT INTO medical_readings`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(context.Background(), sampleReading())

	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadingsInsert_InvalidReadingType(t *testing.T) {
	_, repo := setupReadingsRepo(t)

	reading := sampleReading()
	reading.Type = "mystery"

	inserted, err := repo.Insert(context.Background(), reading)

	assert.False(t, inserted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid reading type")
}
