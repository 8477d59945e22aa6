package broadcast

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Stage 管线处理阶段
type Stage string

const (
	StageReceived   Stage = "received"
	StageClassified Stage = "classified"
	StageResolved   Stage = "resolved"
	StageNormalized Stage = "normalized"
	StageStored     Stage = "stored"
	StageError      Stage = "error"
)

// Event 数据流事件（推送给实时看板）
type Event struct {
	Stage          Stage     `json:"stage"`
	Status         string    `json:"status"`
	DeviceType     string    `json:"device_type"`
	Topic          string    `json:"topic"`
	PayloadSummary string    `json:"payload_summary,omitempty"`
	PatientID      string    `json:"patient_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Broadcaster 数据流事件广播器
//
// 每个处理阶段向实时服务推送一条事件。事件丢失可接受，
// 发送失败不重试、不回推管线关键路径。
type Broadcaster struct {
	httpClient *resty.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// New 创建广播器
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Broadcaster {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Broadcaster{
		httpClient: client,
		timeout:    timeout,
		logger:     logger,
	}
}

// Emit 异步推送一条阶段事件
func (b *Broadcaster) Emit(event Event) {
	event.Timestamp = time.Now().UTC()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		resp, err := b.httpClient.R().
			SetContext(ctx).
			SetBody(&event).
			Post("/data-flow/emit")

		if err != nil {
			b.logger.Debug("Data-flow event dropped",
				zap.String("stage", string(event.Stage)),
				zap.Error(err),
			)
			return
		}
		if resp.IsError() {
			b.logger.Debug("Data-flow event rejected",
				zap.String("stage", string(event.Stage)),
				zap.Int("status_code", resp.StatusCode()),
			)
		}
	}()
}
