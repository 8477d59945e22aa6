package txlog

import (
	"context"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Logger 交易审计日志客户端
//
// 每次存储操作向审计服务上报一条记录。审计是便利而非正确性依赖：
// 发送在独立协程里进行，带短超时，失败只记本地日志，绝不阻塞管线。
type Logger struct {
	httpClient *resty.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// New 创建交易日志客户端
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Logger {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Logger{
		httpClient: client,
		timeout:    timeout,
		logger:     logger,
	}
}

// Log 异步上报一条审计记录（fire-and-forget）
func (l *Logger) Log(operation, dataType, collection, patientID, deviceID, details, status string) {
	entry := models.TransactionLogEntry{
		Operation:  operation,
		DataType:   dataType,
		Collection: collection,
		PatientID:  patientID,
		DeviceID:   deviceID,
		Status:     status,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()

		resp, err := l.httpClient.R().
			SetContext(ctx).
			SetBody(&entry).
			Post("/transactions/log")

		if err != nil {
			l.logger.Warn("Transaction log delivery failed",
				zap.String("operation", operation),
				zap.String("collection", collection),
				zap.Error(err),
			)
			return
		}
		if resp.IsError() {
			l.logger.Warn("Transaction log rejected",
				zap.String("operation", operation),
				zap.Int("status_code", resp.StatusCode()),
			)
		}
	}()
}
