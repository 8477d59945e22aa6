package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/config"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/pkg/mqttclient"

	"go.uber.org/zap"
)

// Processor 消息处理器（由 service.Pipeline 实现）
type Processor interface {
	Process(ctx context.Context, msg *models.RawTelemetryMessage)
}

// MQTTConsumer 传输层监听器
//
// 每个设备族主题集一份订阅；收到的消息包成 RawTelemetryMessage
// 丢进有界工作池并发处理。传输层按 at-most-once 对待：
// 重连期间不在内存里保留消息。
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqttclient.Client
	pool       *WorkerPool
	pipeline   Processor
	logger     *zap.Logger

	// procCtx 在途消息的处理上下文；关停宽限期结束后取消
	procCtx    context.Context
	procCancel context.CancelFunc
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttclient.Client,
	pipeline Processor,
	logger *zap.Logger,
) *MQTTConsumer {
	procCtx, procCancel := context.WithCancel(context.Background())

	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		pool:       NewWorkerPool(cfg.Listener.Workers, cfg.Listener.QueueSize),
		pipeline:   pipeline,
		logger:     logger,
		procCtx:    procCtx,
		procCancel: procCancel,
	}
}

// Start 订阅全部主题集
func (c *MQTTConsumer) Start(ctx context.Context) error {
	topics := append([]string{}, c.config.Listener.GatewayTopics...)
	topics = append(topics, c.config.Listener.WearableTopics...)

	if len(topics) == 0 {
		return fmt.Errorf("no topics configured")
	}

	for _, topic := range topics {
		if err := c.mqttClient.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
		c.logger.Info("Subscribed to topic", zap.String("topic", topic))
	}

	c.logger.Info("MQTT consumer started",
		zap.Int("workers", c.config.Listener.Workers),
		zap.Int("queue_size", c.config.Listener.QueueSize),
	)

	<-ctx.Done()
	return nil
}

// handleMessage MQTT回调：包消息、入队
//
// 队列满时在此阻塞（paho 回调并发执行，形成对 broker 的背压）。
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) {
	msg := &models.RawTelemetryMessage{
		Topic:      topic,
		ReceivedAt: time.Now().UTC(),
		Payload:    payload,
	}

	submitted := c.pool.Submit(func() {
		c.pipeline.Process(c.procCtx, msg)
	})
	if !submitted {
		// 关停中：丢弃，等传输层重投递
		c.logger.Warn("Worker pool closed, message dropped",
			zap.String("topic", topic),
		)
	}
}

// Stop 停止消费
//
// 先退订（不再接收新消息），再给在途任务一个宽限期收尾，
// 超时后取消处理上下文，未完成的消息依赖传输层重投递。
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	topics := append([]string{}, c.config.Listener.GatewayTopics...)
	topics = append(topics, c.config.Listener.WearableTopics...)

	if len(topics) > 0 {
		if err := c.mqttClient.Unsubscribe(topics...); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}

	drained := c.pool.Shutdown(c.config.Listener.ShutdownGrace)
	if !drained {
		c.logger.Warn("Shutdown grace expired with tasks in flight, cancelling")
	}
	c.procCancel()

	c.logger.Info("MQTT consumer stopped")
	return nil
}
