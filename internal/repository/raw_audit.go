package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RawAuditRepository 原始消息审计仓库
//
// 无法归属到病人的消息（解析失败、模式校验失败）原样落库，
// 供运营排查，只追加不修改。
type RawAuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRawAuditRepository 创建审计仓库
func NewRawAuditRepository(db *sql.DB, logger *zap.Logger) *RawAuditRepository {
	return &RawAuditRepository{
		db:     db,
		logger: logger,
	}
}

// InsertUnattributed 写入一条无归属的原始消息
func (r *RawAuditRepository) InsertUnattributed(ctx context.Context, msg *models.RawTelemetryMessage, reason string) (string, error) {
	auditID := uuid.New().String()

	query := `
		INSERT INTO raw_message_audit (
			audit_id,
			topic,
			payload,
			received_at,
			reason
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		auditID,
		msg.Topic,
		msg.Payload,
		msg.ReceivedAt,
		reason,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert raw message audit: %w", err)
	}

	return auditID, nil
}
