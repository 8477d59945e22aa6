package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const cooldownKeyPrefix = "stardust:alert:cooldown:"

// Evaluator 紧急告警评估器
//
// 每台设备每种告警类型一个状态机：Idle → AlertRaised → Cooldown → Idle。
// 状态落在 Redis：SET NX EX 成功即 Idle → AlertRaised（触发一次通知），
// 失败说明处于 Cooldown（事件落库但不再通知），键过期回到 Idle。
type Evaluator struct {
	redisClient  *redis.Client
	notifier     *Notifier
	alertLogRepo *repository.AlertLogRepository
	window       time.Duration
	logger       *zap.Logger
}

// NewEvaluator 创建告警评估器
func NewEvaluator(
	redisClient *redis.Client,
	notifier *Notifier,
	alertLogRepo *repository.AlertLogRepository,
	window time.Duration,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		redisClient:  redisClient,
		notifier:     notifier,
		alertLogRepo: alertLogRepo,
		window:       window,
		logger:       logger,
	}
}

// Evaluate 处理一条紧急事件
//
// 返回 notified 表示本次是否真正触发了通知；通知失败不算处理失败，
// 只记日志（NotificationDeliveryError 非致命）。
func (e *Evaluator) Evaluate(ctx context.Context, event models.EmergencyEvent, binding *models.PatientBinding) (bool, error) {
	alert := &models.EmergencyAlert{
		DeviceID: event.IMEI,
		Kind:     event.Alert,
		RaisedAt: time.Now().UTC(),
		DedupKey: dedupKey(event.IMEI, event.Alert),
	}
	if binding != nil {
		alert.PatientID = binding.PatientID
	}

	// Idle → AlertRaised 的转移由 SET NX 原子判定
	acquired, err := e.redisClient.SetNX(ctx, cooldownKeyPrefix+alert.DedupKey,
		alert.RaisedAt.Unix(), e.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check alert cooldown: %w", err)
	}

	if !acquired {
		// Cooldown 内的重复事件：落库但不通知
		if _, err := e.alertLogRepo.Insert(ctx, alert, false); err != nil {
			e.logger.Warn("Failed to record suppressed alert", zap.Error(err))
		}
		e.logger.Info("Emergency event suppressed by cooldown window",
			zap.String("device_id", alert.DeviceID),
			zap.String("alert_kind", string(alert.Kind)),
		)
		return false, nil
	}

	if _, err := e.alertLogRepo.Insert(ctx, alert, true); err != nil {
		e.logger.Warn("Failed to record alert", zap.Error(err))
	}

	if err := e.notifier.Send(ctx, alert); err != nil {
		e.logger.Error("Alert notification failed",
			zap.String("device_id", alert.DeviceID),
			zap.String("alert_kind", string(alert.Kind)),
			zap.Error(err),
		)
		// 通知失败不回滚冷却窗口：避免通道故障时风暴式重发
		return true, nil
	}

	e.logger.Info("Emergency alert notified",
		zap.String("device_id", alert.DeviceID),
		zap.String("alert_kind", string(alert.Kind)),
		zap.String("patient_id", alert.PatientID),
	)
	return true, nil
}

func dedupKey(deviceID string, kind models.AlertKind) string {
	return deviceID + ":" + string(kind)
}
