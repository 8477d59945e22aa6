package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier 告警通知客户端（机器人消息API）
//
// 发送失败最多重试一次，仍失败返回 NotificationDeliveryError，
// 由调用方记日志，不影响消息处理。
type Notifier struct {
	httpClient *resty.Client
	token      string
	recipient  string
	logger     *zap.Logger
}

// NewNotifier 创建通知客户端
func NewNotifier(baseURL, token, recipient string, logger *zap.Logger) *Notifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		httpClient: client,
		token:      token,
		recipient:  recipient,
		logger:     logger,
	}
}

// notifyRequest 机器人发送请求体
type notifyRequest struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// Send 发送一条告警消息
func (n *Notifier) Send(ctx context.Context, alert *models.EmergencyAlert) error {
	message := fmt.Sprintf("[%s] device %s raised %s at %s",
		alertSeverity(alert.Kind),
		alert.DeviceID,
		alert.Kind,
		alert.RaisedAt.UTC().Format(time.RFC3339),
	)
	if alert.PatientID != "" {
		message += fmt.Sprintf(" (patient %s)", alert.PatientID)
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(&notifyRequest{
			Token:     n.token,
			Recipient: n.recipient,
			Message:   message,
		}).
		Post("/send")

	if err != nil {
		return &models.NotificationDeliveryError{Err: err}
	}
	if resp.IsError() {
		return &models.NotificationDeliveryError{
			Err: fmt.Errorf("bot API returned status %d", resp.StatusCode()),
		}
	}

	return nil
}

func alertSeverity(kind models.AlertKind) string {
	if kind == models.AlertSOS {
		return "EMERGENCY"
	}
	return "ALERT"
}
