package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"go.uber.org/zap"
)

// DeviceStatusRepository 设备最新状态仓库
//
// device_status 表每台设备一行，latest-wins 覆盖。
// 同一 device_id 的并发写由上层的单飞锁串行化，这里不做加锁。
type DeviceStatusRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceStatusRepository 创建设备状态仓库
func NewDeviceStatusRepository(db *sql.DB, logger *zap.Logger) *DeviceStatusRepository {
	return &DeviceStatusRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert 覆盖写入设备最新状态
//
// battery / signal 为 nil 时保留已有值（心跳可能只带部分字段）。
func (r *DeviceStatusRepository) Upsert(ctx context.Context, snapshot *models.DeviceStatusSnapshot) error {
	if snapshot.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		INSERT INTO device_status (
			device_id,
			device_type,
			online_status,
			battery_level,
			signal_strength,
			last_updated,
			patient_id
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (device_id) DO UPDATE SET
			device_type     = EXCLUDED.device_type,
			online_status   = EXCLUDED.online_status,
			battery_level   = COALESCE(EXCLUDED.battery_level, device_status.battery_level),
			signal_strength = COALESCE(EXCLUDED.signal_strength, device_status.signal_strength),
			last_updated    = EXCLUDED.last_updated,
			patient_id      = COALESCE(EXCLUDED.patient_id, device_status.patient_id)
	`

	_, err := r.db.ExecContext(ctx, query,
		snapshot.DeviceID,
		snapshot.DeviceType,
		snapshot.Online,
		snapshot.Battery,
		snapshot.Signal,
		snapshot.LastUpdated,
		snapshot.PatientID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device status: %w", err)
	}

	return nil
}
