package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"go.uber.org/zap"
)

// ReadingsRepository 规范化读数仓库
//
// medical_readings 表上有 (device_key, captured_at) 唯一约束，
// 插入用 ON CONFLICT DO NOTHING 实现重复投递下的幂等。
type ReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingsRepository 创建读数仓库
func NewReadingsRepository(db *sql.DB, logger *zap.Logger) *ReadingsRepository {
	return &ReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 插入一条规范化读数
//
// 返回 inserted=false 表示同 (device_key, captured_at) 的读数已存在
// （传输层重复投递），不算错误。
func (r *ReadingsRepository) Insert(ctx context.Context, reading *models.NormalizedReading) (bool, error) {
	if !models.ValidReadingType(reading.Type) {
		return false, fmt.Errorf("invalid reading type: %s", reading.Type)
	}

	query := `
		INSERT INTO medical_readings (
			patient_id,
			device_key,
			device_family,
			gateway_identifier,
			reading_type,
			systolic,
			diastolic,
			pulse,
			glucose,
			glucose_mark,
			weight,
			spo2,
			heart_rate,
			temperature,
			captured_at,
			received_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (device_key, captured_at) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		reading.PatientID,
		reading.Device.Key(),
		string(reading.Device.Family),
		reading.Device.Primary,
		string(reading.Type),
		reading.Systolic,
		reading.Diastolic,
		reading.Pulse,
		reading.Glucose,
		reading.GlucoseMark,
		reading.Weight,
		reading.SpO2,
		reading.HeartRate,
		reading.Temperature,
		reading.CapturedAt,
		reading.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert medical reading: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		r.logger.Debug("Duplicate reading skipped",
			zap.String("device_key", reading.Device.Key()),
			zap.Time("captured_at", reading.CapturedAt),
		)
		return false, nil
	}

	return true, nil
}
