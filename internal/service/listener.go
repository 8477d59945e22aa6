package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/alert"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/broadcast"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/classifier"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/config"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/normalizer"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/repository"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/resolver"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/txlog"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/pkg/database"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/pkg/mqttclient"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/pkg/redisutil"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Consumer 传输层消费者（由 consumer.MQTTConsumer 实现）
type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ListenerService 遥测监听服务
//
// 显式构造并持有全部外部客户端（存储、broker、通知），
// 统一 Start/Stop 生命周期，无全局可变状态。
type ListenerService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttclient.Client
	Pipeline    *Pipeline
	consumer    Consumer
}

// NewListenerService 创建监听服务并装配管线
func NewListenerService(cfg *config.Config, logger *zap.Logger) (*ListenerService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redisutil.NewClient(&cfg.Redis)
	if err := redisutil.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient, err := mqttclient.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	// Repository
	patientRepo := repository.NewPatientRepository(db, logger)
	registryRepo := repository.NewDeviceRegistryRepository(db, logger)
	readingsRepo := repository.NewReadingsRepository(db, logger)
	statusRepo := repository.NewDeviceStatusRepository(db, logger)
	auditRepo := repository.NewRawAuditRepository(db, logger)
	alertLogRepo := repository.NewAlertLogRepository(db, logger)

	// 绑定缓存（TTL=0 时关闭）
	var bindingCache *resolver.BindingCache
	if cfg.Resolver.CacheTTL > 0 {
		bindingCache = resolver.NewBindingCache(redisClient, cfg.Resolver.CacheTTL, logger)
	}

	res := resolver.New(patientRepo, registryRepo, bindingCache, logger)

	// 出站客户端
	txLogger := txlog.New(cfg.API.TransactionLogURL, cfg.API.Timeout, logger)
	broadcaster := broadcast.New(cfg.API.DataFlowURL, cfg.API.Timeout, logger)
	notifier := alert.NewNotifier(cfg.Alert.BotURL, cfg.Alert.BotToken, cfg.Alert.Recipient, logger)
	alertEvaluator := alert.NewEvaluator(redisClient, notifier, alertLogRepo, cfg.Alert.CooldownWindow, logger)

	pipeline := NewPipeline(
		classifier.New(logger),
		res,
		normalizer.New(logger),
		readingsRepo,
		statusRepo,
		auditRepo,
		txLogger,
		broadcaster,
		alertEvaluator,
		cfg.Listener.PersistTimeout,
		cfg.Listener.PersistRetries,
		logger,
	)

	return &ListenerService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		Pipeline:    pipeline,
	}, nil
}

// SetConsumer 挂接传输层消费者（打破 consumer ↔ service 的构造依赖）
func (s *ListenerService) SetConsumer(c Consumer) {
	s.consumer = c
}

// MQTTClient 暴露给消费者装配用
func (s *ListenerService) MQTTClient() *mqttclient.Client {
	return s.mqttClient
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *ListenerService) Start(ctx context.Context) error {
	if s.consumer == nil {
		return fmt.Errorf("no consumer attached")
	}

	s.logger.Info("Starting telemetry listener service components")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	return nil
}

// Stop 优雅关停：先停消费，再关外部客户端
func (s *ListenerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping telemetry listener service")

	if s.consumer != nil {
		if err := s.consumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping consumer", zap.Error(err))
		}
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Telemetry listener service stopped")
	return nil
}
