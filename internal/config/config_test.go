package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "mqtt://broker.local:1883")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("TRANSACTION_LOG_URL", "http://api.local")
	t.Setenv("DATA_FLOW_URL", "http://realtime.local")
	t.Setenv("ALERT_BOT_URL", "http://bot.local")
	t.Setenv("ALERT_BOT_TOKEN", "token")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"ESP32_BLE_GW_TX", "dusun_sub"}, cfg.Listener.GatewayTopics)
	assert.Equal(t, []string{"iMEDE_watch/#"}, cfg.Listener.WearableTopics)
	assert.Equal(t, 8, cfg.Listener.Workers)
	assert.Equal(t, 256, cfg.Listener.QueueSize)
	assert.Equal(t, 5*time.Minute, cfg.Alert.CooldownWindow)
	assert.Equal(t, 5*time.Minute, cfg.Resolver.CacheTTL)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_TOPICS", "gw_up, gw_up2")
	t.Setenv("LISTENER_WORKERS", "16")
	t.Setenv("ALERT_COOLDOWN", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"gw_up", "gw_up2"}, cfg.Listener.GatewayTopics)
	assert.Equal(t, 16, cfg.Listener.Workers)
	assert.Equal(t, 90*time.Second, cfg.Alert.CooldownWindow)
}

func TestLoad_FailsFastOnMissingMandatory(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		want  string
	}{
		{"missing broker", "MQTT_BROKER", "MQTT_BROKER is required"},
		{"missing db password", "DB_PASSWORD", "DB_PASSWORD is required"},
		{"missing txlog url", "TRANSACTION_LOG_URL", "TRANSACTION_LOG_URL is required"},
		{"missing dataflow url", "DATA_FLOW_URL", "DATA_FLOW_URL is required"},
		{"missing bot token", "ALERT_BOT_TOKEN", "ALERT_BOT_URL and ALERT_BOT_TOKEN are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_RejectsZeroWorkers(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTENER_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LISTENER_WORKERS must be positive")
}

func TestLoad_RejectsNonPositivePersistRetries(t *testing.T) {
	for _, value := range []string{"0", "-1"} {
		t.Run(value, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("PERSIST_RETRIES", value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "PERSIST_RETRIES must be positive")
		})
	}
}
