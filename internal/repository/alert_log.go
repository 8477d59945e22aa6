package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertLogRepository 紧急告警日志仓库（只追加）
//
// 冷却窗口内被抑制的事件同样落库（notified=false），保留完整事件序列。
type AlertLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertLogRepository 创建告警日志仓库
func NewAlertLogRepository(db *sql.DB, logger *zap.Logger) *AlertLogRepository {
	return &AlertLogRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 写入一条告警记录
func (r *AlertLogRepository) Insert(ctx context.Context, alert *models.EmergencyAlert, notified bool) (string, error) {
	alertID := uuid.New().String()

	query := `
		INSERT INTO emergency_alert_log (
			alert_id,
			device_id,
			alert_kind,
			patient_id,
			raised_at,
			dedup_key,
			notified
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		alertID,
		alert.DeviceID,
		string(alert.Kind),
		alert.PatientID,
		alert.RaisedAt,
		alert.DedupKey,
		notified,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert emergency alert: %w", err)
	}

	return alertID, nil
}
