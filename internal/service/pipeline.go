package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/alert"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/broadcast"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/classifier"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/normalizer"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/repository"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/resolver"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/txlog"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// Pipeline 消息处理管线
//
// 一条原始消息的完整处理：分类 → 病人解析 → 规范化 →
// {读数/状态持久化, 交易日志, 数据流广播} → 紧急告警评估。
// 所有失败就地处理，单条消息的失败不影响监听循环和其他在途消息。
type Pipeline struct {
	classifier     *classifier.Classifier
	resolver       *resolver.Resolver
	normalizer     *normalizer.Normalizer
	readingsRepo   *repository.ReadingsRepository
	statusRepo     *repository.DeviceStatusRepository
	auditRepo      *repository.RawAuditRepository
	txLogger       *txlog.Logger
	broadcaster    *broadcast.Broadcaster
	alertEvaluator *alert.Evaluator
	logger         *zap.Logger

	// 同一 device_id 的状态写入经此单飞锁串行化，防止丢失更新
	deviceLocks cmap.ConcurrentMap[string, *sync.Mutex]

	persistTimeout time.Duration
	persistRetries int
}

// NewPipeline 创建处理管线
func NewPipeline(
	cls *classifier.Classifier,
	res *resolver.Resolver,
	norm *normalizer.Normalizer,
	readingsRepo *repository.ReadingsRepository,
	statusRepo *repository.DeviceStatusRepository,
	auditRepo *repository.RawAuditRepository,
	txLogger *txlog.Logger,
	broadcaster *broadcast.Broadcaster,
	alertEvaluator *alert.Evaluator,
	persistTimeout time.Duration,
	persistRetries int,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		classifier:     cls,
		resolver:       res,
		normalizer:     norm,
		readingsRepo:   readingsRepo,
		statusRepo:     statusRepo,
		auditRepo:      auditRepo,
		txLogger:       txLogger,
		broadcaster:    broadcaster,
		alertEvaluator: alertEvaluator,
		deviceLocks:    cmap.New[*sync.Mutex](),
		persistTimeout: persistTimeout,
		persistRetries: persistRetries,
		logger:         logger,
	}
}

// Process 处理一条原始遥测消息（终态：成功、丢弃或审计）
func (p *Pipeline) Process(ctx context.Context, msg *models.RawTelemetryMessage) {
	p.broadcaster.Emit(broadcast.Event{
		Stage:  broadcast.StageReceived,
		Status: "ok",
		Topic:  msg.Topic,
	})

	classified, err := p.classifier.Classify(msg)
	if err != nil {
		p.handleClassifyError(ctx, msg, err)
		return
	}

	p.broadcaster.Emit(broadcast.Event{
		Stage:      broadcast.StageClassified,
		Status:     "ok",
		DeviceType: string(classified.Kind()),
		Topic:      msg.Topic,
	})

	switch m := classified.(type) {
	case models.AttributeReport:
		p.processAttributeReport(ctx, msg, m)
	case models.BatchVitalSigns:
		p.processBatch(ctx, msg, m)
	case models.Heartbeat:
		p.processHeartbeat(ctx, msg, m)
	case models.EmergencyEvent:
		p.processEmergency(ctx, msg, m)
	default:
		p.logger.Error("Classifier returned unknown variant",
			zap.String("kind", string(classified.Kind())),
		)
	}
}

// handleClassifyError 分类失败的就地处置
//
// 解码失败只丢弃；模式校验失败额外写一条审计。
func (p *Pipeline) handleClassifyError(ctx context.Context, msg *models.RawTelemetryMessage, err error) {
	var schemaErr *models.SchemaValidationError
	if errors.As(err, &schemaErr) {
		p.logger.Warn("Message failed schema validation, dropped",
			zap.String("topic", msg.Topic),
			zap.String("reason", schemaErr.Reason),
		)
		p.auditUnattributed(ctx, msg, schemaErr.Reason)
	} else {
		p.logger.Warn("Message failed transport decode, dropped",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
	}

	p.broadcaster.Emit(broadcast.Event{
		Stage:  broadcast.StageError,
		Status: "dropped",
		Topic:  msg.Topic,
		Error:  err.Error(),
	})
}

// processAttributeReport 网关属性上报
//
// device_list 的每个子设备条目独立解析与落库：同一属性下不同子设备
// 可能归属不同病人。整条消息无任何条目可归属时，写恰好一条审计。
func (p *Pipeline) processAttributeReport(ctx context.Context, msg *models.RawTelemetryMessage, report models.AttributeReport) {
	modality, ok := normalizer.AttributeModality(report.Attribute)
	if !ok {
		reason := fmt.Sprintf("unknown device attribute: %q", report.Attribute)
		p.logger.Warn("Attribute report dropped", zap.String("reason", reason))
		p.auditUnattributed(ctx, msg, reason)
		p.broadcaster.Emit(broadcast.Event{
			Stage:  broadcast.StageError,
			Status: "dropped",
			Topic:  msg.Topic,
			Error:  reason,
		})
		return
	}

	anyResolved := false
	anyQueryFailed := false
	for _, entry := range report.Entries {
		identity := report.Identity(entry)

		binding, err := p.resolver.Resolve(ctx, identity, modality)
		if err != nil {
			var unresolved *models.UnresolvedDeviceError
			if !errors.As(err, &unresolved) {
				// 查询层故障，不代表设备未登记
				anyQueryFailed = true
				p.logger.Error("Resolver query failed",
					zap.String("device", identity.Key()),
					zap.Error(err),
				)
			}
			continue
		}
		anyResolved = true

		p.broadcaster.Emit(broadcast.Event{
			Stage:      broadcast.StageResolved,
			Status:     "ok",
			DeviceType: report.Attribute,
			Topic:      msg.Topic,
			PatientID:  binding.PatientID,
		})

		single := models.AttributeReport{
			GatewayMAC: report.GatewayMAC,
			Attribute:  report.Attribute,
			Entries:    []models.SubDeviceEntry{entry},
			ReportedAt: report.ReportedAt,
		}

		readings, err := p.normalizer.NormalizeAttributeReport(single, binding, msg.ReceivedAt)
		if err != nil {
			p.logger.Warn("Attribute entry failed normalization",
				zap.String("attribute", report.Attribute),
				zap.String("ble_addr", entry.BLEAddr),
				zap.Error(err),
			)
			p.auditUnattributed(ctx, msg, err.Error())
			continue
		}

		p.broadcaster.Emit(broadcast.Event{
			Stage:      broadcast.StageNormalized,
			Status:     "ok",
			DeviceType: report.Attribute,
			Topic:      msg.Topic,
			PatientID:  binding.PatientID,
		})

		for i := range readings {
			p.writeReading(ctx, msg, &readings[i])
		}

		snapshot := &models.DeviceStatusSnapshot{
			DeviceID:    entry.BLEAddr,
			DeviceType:  report.Attribute,
			Online:      true,
			Battery:     entry.Battery,
			Signal:      entry.RSSI,
			LastUpdated: msg.ReceivedAt,
			PatientID:   binding.PatientID,
		}
		p.writeStatus(ctx, msg, snapshot)
	}

	if !anyResolved {
		// 查询过故障就不能定性为"未登记"，只上报错误事件
		if anyQueryFailed {
			p.broadcaster.Emit(broadcast.Event{
				Stage:      broadcast.StageError,
				Status:     "failed",
				DeviceType: report.Attribute,
				Topic:      msg.Topic,
				Error:      "resolver query failed",
			})
			return
		}
		p.auditUnresolved(ctx, msg, models.DeviceIdentity{
			Family:  models.FamilySubDevice,
			Primary: report.GatewayMAC,
		})
	}
}

// processBatch 手表批量体征
func (p *Pipeline) processBatch(ctx context.Context, msg *models.RawTelemetryMessage, batch models.BatchVitalSigns) {
	identity := batch.Identity()

	binding, err := p.resolver.Resolve(ctx, identity, models.ReadingHeartRate)
	if err != nil {
		p.handleResolveError(ctx, msg, identity, err)
		return
	}

	p.broadcaster.Emit(broadcast.Event{
		Stage:      broadcast.StageResolved,
		Status:     "ok",
		DeviceType: "watch",
		Topic:      msg.Topic,
		PatientID:  binding.PatientID,
	})

	readings := p.normalizer.NormalizeBatch(batch, binding, msg.ReceivedAt)

	p.broadcaster.Emit(broadcast.Event{
		Stage:          broadcast.StageNormalized,
		Status:         "ok",
		DeviceType:     "watch",
		Topic:          msg.Topic,
		PayloadSummary: fmt.Sprintf("%d entries", len(readings)),
		PatientID:      binding.PatientID,
	})

	for i := range readings {
		p.writeReading(ctx, msg, &readings[i])
	}

	snapshot := &models.DeviceStatusSnapshot{
		DeviceID:    batch.IMEI,
		DeviceType:  "watch",
		Online:      true,
		LastUpdated: msg.ReceivedAt,
		PatientID:   binding.PatientID,
	}
	p.writeStatus(ctx, msg, snapshot)
}

// processHeartbeat 心跳只刷新设备状态，不产出读数
func (p *Pipeline) processHeartbeat(ctx context.Context, msg *models.RawTelemetryMessage, hb models.Heartbeat) {
	identity := hb.Identity()

	binding, err := p.resolver.Resolve(ctx, identity, "")
	if err != nil {
		p.handleResolveError(ctx, msg, identity, err)
		return
	}

	deviceType := "watch"
	if identity.Family == models.FamilyGateway {
		deviceType = "gateway"
	}

	snapshot := &models.DeviceStatusSnapshot{
		DeviceID:    identity.Key(),
		DeviceType:  deviceType,
		Online:      true,
		Battery:     hb.Battery,
		Signal:      hb.SignalGSM,
		LastUpdated: msg.ReceivedAt,
		PatientID:   binding.PatientID,
	}
	p.writeStatus(ctx, msg, snapshot)
}

// processEmergency 紧急事件
//
// 即便解析不到病人绑定也要进入告警评估：SOS/跌倒通知不依赖病人归属，
// 无归属的事件同时照常落审计。
func (p *Pipeline) processEmergency(ctx context.Context, msg *models.RawTelemetryMessage, event models.EmergencyEvent) {
	identity := event.Identity()

	binding, err := p.resolver.Resolve(ctx, identity, "")
	if err != nil {
		var unresolved *models.UnresolvedDeviceError
		if errors.As(err, &unresolved) {
			p.auditUnresolved(ctx, msg, identity)
			binding = nil
		} else {
			p.logger.Error("Resolver query failed for emergency event",
				zap.String("device", identity.Key()),
				zap.Error(err),
			)
			binding = nil
		}
	}

	notified, err := p.alertEvaluator.Evaluate(ctx, event, binding)
	if err != nil {
		p.logger.Error("Emergency evaluation failed",
			zap.String("device", identity.Key()),
			zap.Error(err),
		)
		p.broadcaster.Emit(broadcast.Event{
			Stage:      broadcast.StageError,
			Status:     "failed",
			DeviceType: "watch",
			Topic:      msg.Topic,
			Error:      err.Error(),
		})
		return
	}

	status := "suppressed"
	if notified {
		status = "notified"
	}
	patientID := ""
	if binding != nil {
		patientID = binding.PatientID
	}
	p.broadcaster.Emit(broadcast.Event{
		Stage:      broadcast.StageStored,
		Status:     status,
		DeviceType: "watch",
		Topic:      msg.Topic,
		PatientID:  patientID,
	})
}

// handleResolveError 解析失败的就地处置（审计 + 错误事件）
func (p *Pipeline) handleResolveError(ctx context.Context, msg *models.RawTelemetryMessage, identity models.DeviceIdentity, err error) {
	var unresolved *models.UnresolvedDeviceError
	if errors.As(err, &unresolved) {
		p.auditUnresolved(ctx, msg, identity)
		return
	}

	p.logger.Error("Resolver query failed",
		zap.String("device", identity.Key()),
		zap.Error(err),
	)
	p.broadcaster.Emit(broadcast.Event{
		Stage:  broadcast.StageError,
		Status: "failed",
		Topic:  msg.Topic,
		Error:  err.Error(),
	})
}

// auditUnresolved 无法归属的消息写审计库；不产出读数、不更新状态、
// 不写 data_storage 类型的交易日志
func (p *Pipeline) auditUnresolved(ctx context.Context, msg *models.RawTelemetryMessage, identity models.DeviceIdentity) {
	p.logger.Warn("No patient binding, message audited",
		zap.String("device", identity.Key()),
		zap.String("family", string(identity.Family)),
		zap.String("topic", msg.Topic),
	)

	p.auditUnattributed(ctx, msg, fmt.Sprintf("unresolved device: %s", identity.Key()))

	p.broadcaster.Emit(broadcast.Event{
		Stage:  broadcast.StageError,
		Status: "unresolved",
		Topic:  msg.Topic,
		Error:  fmt.Sprintf("no patient binding for %s", identity.Key()),
	})
}

func (p *Pipeline) auditUnattributed(ctx context.Context, msg *models.RawTelemetryMessage, reason string) {
	auditCtx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	defer cancel()

	if _, err := p.auditRepo.InsertUnattributed(auditCtx, msg, reason); err != nil {
		p.logger.Error("Failed to write raw message audit", zap.Error(err))
	}
}

// writeReading 幂等写入读数，有限重试后上报 PersistenceError
func (p *Pipeline) writeReading(ctx context.Context, msg *models.RawTelemetryMessage, reading *models.NormalizedReading) {
	var inserted bool
	err := p.withRetry(ctx, func(callCtx context.Context) error {
		var insertErr error
		inserted, insertErr = p.readingsRepo.Insert(callCtx, reading)
		return insertErr
	})
	if err != nil {
		perr := &models.PersistenceError{Op: "write_reading", Err: err}
		p.logger.Error("Reading persistence failed",
			zap.String("device_key", reading.Device.Key()),
			zap.Error(perr),
		)
		p.txLogger.Log("insert", string(reading.Type), "medical_readings",
			reading.PatientID, reading.Device.Key(), perr.Error(), "failed")
		p.broadcaster.Emit(broadcast.Event{
			Stage:     broadcast.StageError,
			Status:    "failed",
			Topic:     msg.Topic,
			PatientID: reading.PatientID,
			Error:     perr.Error(),
		})
		return
	}

	if !inserted {
		// 重复投递：读数已存在，幂等跳过
		p.txLogger.Log("insert", string(reading.Type), "medical_readings",
			reading.PatientID, reading.Device.Key(), "duplicate delivery skipped", "skipped")
		return
	}

	p.txLogger.Log("insert", string(reading.Type), "medical_readings",
		reading.PatientID, reading.Device.Key(), "", "success")
	p.broadcaster.Emit(broadcast.Event{
		Stage:      broadcast.StageStored,
		Status:     "ok",
		DeviceType: string(reading.Type),
		Topic:      msg.Topic,
		PatientID:  reading.PatientID,
	})
}

// writeStatus 覆盖写设备状态，同一设备的写入经单飞锁串行化
func (p *Pipeline) writeStatus(ctx context.Context, msg *models.RawTelemetryMessage, snapshot *models.DeviceStatusSnapshot) {
	mu := p.lockFor(snapshot.DeviceID)
	mu.Lock()
	defer mu.Unlock()

	err := p.withRetry(ctx, func(callCtx context.Context) error {
		return p.statusRepo.Upsert(callCtx, snapshot)
	})
	if err != nil {
		perr := &models.PersistenceError{Op: "write_status", Err: err}
		p.logger.Error("Device status persistence failed",
			zap.String("device_id", snapshot.DeviceID),
			zap.Error(perr),
		)
		p.txLogger.Log("upsert", "device_status", "device_status",
			snapshot.PatientID, snapshot.DeviceID, perr.Error(), "failed")
		return
	}

	p.txLogger.Log("upsert", "device_status", "device_status",
		snapshot.PatientID, snapshot.DeviceID, "", "success")
}

// lockFor 取同一 device_id 共享的互斥锁
func (p *Pipeline) lockFor(deviceID string) *sync.Mutex {
	p.deviceLocks.SetIfAbsent(deviceID, &sync.Mutex{})
	mu, _ := p.deviceLocks.Get(deviceID)
	return mu
}

// withRetry 带超时的有限重试（线性退避）
//
// retries 不足 1 时按 1 执行：op 至少调用一次，不然写入会被
// 静默跳过而日志却记成功。
func (p *Pipeline) withRetry(ctx context.Context, op func(context.Context) error) error {
	retries := p.persistRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.persistTimeout)
		lastErr = op(callCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
	}
	return lastErr
}
