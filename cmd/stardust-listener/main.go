package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/config"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/consumer"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/service"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// 加载配置（必填项缺失直接失败）
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, "stardust-listener")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting stardust telemetry listener",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.Strings("gateway_topics", cfg.Listener.GatewayTopics),
		zap.Strings("wearable_topics", cfg.Listener.WearableTopics),
		zap.Int("workers", cfg.Listener.Workers),
	)

	// 创建服务
	listenerService, err := service.NewListenerService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create listener service", zap.Error(err))
	}

	mqttConsumer := consumer.NewMQTTConsumer(cfg, listenerService.MQTTClient(), listenerService.Pipeline, zapLogger)
	listenerService.SetConsumer(mqttConsumer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := listenerService.Start(ctx); err != nil {
			zapLogger.Fatal("Failed to start listener service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := listenerService.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
