package consumer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/config"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingProcessor struct {
	processed int64
	lastTopic atomic.Value
}

func (p *countingProcessor) Process(_ context.Context, msg *models.RawTelemetryMessage) {
	p.lastTopic.Store(msg.Topic)
	atomic.AddInt64(&p.processed, 1)
}

func consumerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Listener.Workers = 2
	cfg.Listener.QueueSize = 8
	cfg.Listener.ShutdownGrace = time.Second
	return cfg
}

func TestHandleMessage_DispatchesToPipeline(t *testing.T) {
	proc := &countingProcessor{}
	c := NewMQTTConsumer(consumerConfig(), nil, proc, zap.NewNop())

	c.handleMessage("iMEDE_watch/hb", []byte(`{"IMEI": "865067123456789", "type": "HB_Msg"}`))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&proc.processed) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "iMEDE_watch/hb", proc.lastTopic.Load())
}

func TestHandleMessage_DroppedAfterStop(t *testing.T) {
	proc := &countingProcessor{}
	c := NewMQTTConsumer(consumerConfig(), nil, proc, zap.NewNop())

	require.NoError(t, c.Stop(context.Background()))

	// 关停后不再接收：消息丢弃，等传输层重投递
	c.handleMessage("iMEDE_watch/hb", []byte(`{}`))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&proc.processed))
}
