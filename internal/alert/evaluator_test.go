package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type evaluatorFixture struct {
	mr        *miniredis.Miniredis
	mock      sqlmock.Sqlmock
	evaluator *Evaluator
	sent      *int64
}

func setupEvaluator(t *testing.T, window time.Duration, botStatus int) *evaluatorFixture {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var sent int64
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&sent, 1)
		w.WriteHeader(botStatus)
	}))
	t.Cleanup(bot.Close)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	notifier := NewNotifier(bot.URL, "test-token", "ops-room", logger)
	alertLogRepo := repository.NewAlertLogRepository(db, logger)

	return &evaluatorFixture{
		mr:        mr,
		mock:      mock,
		evaluator: NewEvaluator(redisClient, notifier, alertLogRepo, window, logger),
		sent:      &sent,
	}
}

func sosEvent() models.EmergencyEvent {
	return models.EmergencyEvent{IMEI: "865067123456789", Alert: models.AlertSOS}
}

func TestEvaluate_CooldownSuppressesDuplicates(t *testing.T) {
	f := setupEvaluator(t, 5*time.Minute, http.StatusOK)
	ctx := context.Background()

	// 三条事件各落一条日志（第二条 notified=false）
	for i := 0; i < 3; i++ {
		f.mock.ExpectExec(`INSERT INTO emergency_alert_log`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	// 第一条：Idle → AlertRaised，触发通知
	notified, err := f.evaluator.Evaluate(ctx, sosEvent(), nil)
	require.NoError(t, err)
	assert.True(t, notified)

	// 第二条：Cooldown 内，抑制
	notified, err = f.evaluator.Evaluate(ctx, sosEvent(), nil)
	require.NoError(t, err)
	assert.False(t, notified)
	assert.Equal(t, int64(1), atomic.LoadInt64(f.sent))

	// 窗口过期：回到 Idle，再次通知
	f.mr.FastForward(6 * time.Minute)

	notified, err = f.evaluator.Evaluate(ctx, sosEvent(), nil)
	require.NoError(t, err)
	assert.True(t, notified)
	assert.Equal(t, int64(2), atomic.LoadInt64(f.sent))
}

func TestEvaluate_DifferentKindsDedupIndependently(t *testing.T) {
	f := setupEvaluator(t, 5*time.Minute, http.StatusOK)
	ctx := context.Background()

	f.mock.ExpectExec(`INSERT INTO emergency_alert_log`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO emergency_alert_log`).WillReturnResult(sqlmock.NewResult(0, 1))

	notified, err := f.evaluator.Evaluate(ctx, sosEvent(), nil)
	require.NoError(t, err)
	assert.True(t, notified)

	// 同设备不同类型：各自独立的冷却窗口
	fall := models.EmergencyEvent{IMEI: "865067123456789", Alert: models.AlertFall}
	notified, err = f.evaluator.Evaluate(ctx, fall, nil)
	require.NoError(t, err)
	assert.True(t, notified)

	assert.Equal(t, int64(2), atomic.LoadInt64(f.sent))
}

func TestEvaluate_NotificationFailureIsNonFatal(t *testing.T) {
	f := setupEvaluator(t, 5*time.Minute, http.StatusBadGateway)
	ctx := context.Background()

	f.mock.ExpectExec(`INSERT INTO emergency_alert_log`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// 通知通道故障：告警仍视为已触发，冷却窗口保持
	notified, err := f.evaluator.Evaluate(ctx, sosEvent(), nil)
	require.NoError(t, err)
	assert.True(t, notified)

	// resty 配置了一次有界重试
	assert.Equal(t, int64(2), atomic.LoadInt64(f.sent))
}

func TestEvaluate_BindingAttachesPatient(t *testing.T) {
	_ = setupEvaluator(t, time.Minute, http.StatusOK)
	ctx := context.Background()

	var gotBody map[string]any
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(bot.Close)

	notifier := NewNotifier(bot.URL, "test-token", "ops-room", zap.NewNop())
	binding := &models.PatientBinding{PatientID: "P1", Tier: models.TierDirect}

	err := notifier.Send(ctx, &models.EmergencyAlert{
		DeviceID:  "865067123456789",
		Kind:      models.AlertSOS,
		PatientID: binding.PatientID,
		RaisedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Equal(t, "test-token", gotBody["token"])
	assert.Contains(t, gotBody["message"], "patient P1")
}
