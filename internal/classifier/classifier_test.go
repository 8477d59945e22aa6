package classifier

import (
	"errors"
	"testing"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rawMsg(topic string, payload string) *models.RawTelemetryMessage {
	return &models.RawTelemetryMessage{
		Topic:      topic,
		ReceivedAt: time.Now().UTC(),
		Payload:    []byte(payload),
	}
}

func TestClassify_AttributeReport(t *testing.T) {
	c := New(zap.NewNop())

	payload := `{
		"from": "BLE", "to": "CLOUD", "time": 1716000000,
		"mac": "DC:DA:0C:11:22:33", "type": "reportAttribute",
		"data": {
			"attribute": "BP_BIOLIGHT",
			"mac": "DC:DA:0C:11:22:33",
			"value": {
				"device_list": [
					{"scan_time": 1716000000, "ble_addr": "c12488906de0", "bp_high": 137, "bp_low": 95, "PR": 74}
				]
			}
		}
	}`

	classified, err := c.Classify(rawMsg("ESP32_BLE_GW_TX", payload))
	require.NoError(t, err)

	report, ok := classified.(models.AttributeReport)
	require.True(t, ok)
	assert.Equal(t, models.KindAttributeReport, report.Kind())
	assert.Equal(t, "DC:DA:0C:11:22:33", report.GatewayMAC)
	assert.Equal(t, "BP_BIOLIGHT", report.Attribute)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "c12488906de0", report.Entries[0].BLEAddr)
	assert.Equal(t, int64(1716000000), report.Entries[0].ScanTime)
	assert.NotEmpty(t, report.Entries[0].Raw)
}

func TestClassify_AttributeReport_MissingBLEAddr(t *testing.T) {
	c := New(zap.NewNop())

	payload := `{
		"mac": "DC:DA:0C:11:22:33", "type": "reportAttribute",
		"data": {"attribute": "BP_BIOLIGHT", "value": {"device_list": [{"bp_high": 137}]}}
	}`

	_, err := c.Classify(rawMsg("ESP32_BLE_GW_TX", payload))

	var schemaErr *models.SchemaValidationError
	require.True(t, errors.As(err, &schemaErr))
	assert.Contains(t, schemaErr.Reason, "ble_addr")
}

func TestClassify_BatchVitalSigns_PreservesOrder(t *testing.T) {
	c := New(zap.NewNop())

	payload := `{
		"IMEI": "865067123456789", "timeStamps": "2026",
		"num_datas": 3,
		"data": [
			{"timestamp": 1716000300, "heartRate": 72, "spO2": 98},
			{"timestamp": 1716000100, "heartRate": 75},
			{"timestamp": 1716000200, "bodyTemperature": 36.6}
		]
	}`

	classified, err := c.Classify(rawMsg("iMEDE_watch/AP55", payload))
	require.NoError(t, err)

	batch, ok := classified.(models.BatchVitalSigns)
	require.True(t, ok)
	assert.Equal(t, "865067123456789", batch.IMEI)
	require.Len(t, batch.Entries, 3)

	// 数组原序保留，不按时间戳重排
	assert.Equal(t, int64(1716000300), batch.Entries[0].Timestamp)
	assert.Equal(t, int64(1716000100), batch.Entries[1].Timestamp)
	assert.Equal(t, int64(1716000200), batch.Entries[2].Timestamp)
}

func TestClassify_Heartbeat_Wearable(t *testing.T) {
	c := New(zap.NewNop())

	payload := `{"IMEI": "865067123456789", "type": "HB_Msg", "battery": 85, "signalGSM": 78}`

	classified, err := c.Classify(rawMsg("iMEDE_watch/hb", payload))
	require.NoError(t, err)

	hb, ok := classified.(models.Heartbeat)
	require.True(t, ok)
	assert.Equal(t, "865067123456789", hb.IMEI)
	require.NotNil(t, hb.Battery)
	assert.Equal(t, 85, *hb.Battery)
	require.NotNil(t, hb.SignalGSM)
	assert.Equal(t, 78, *hb.SignalGSM)
}

func TestClassify_Heartbeat_Gateway(t *testing.T) {
	c := New(zap.NewNop())

	payload := `{"mac": "DC:DA:0C:11:22:33", "type": "HB_Msg"}`

	classified, err := c.Classify(rawMsg("ESP32_BLE_GW_TX", payload))
	require.NoError(t, err)

	hb, ok := classified.(models.Heartbeat)
	require.True(t, ok)
	assert.Equal(t, "DC:DA:0C:11:22:33", hb.MAC)
	assert.Empty(t, hb.IMEI)
}

func TestClassify_EmergencyTopics(t *testing.T) {
	c := New(zap.NewNop())

	tests := []struct {
		name  string
		topic string
		kind  models.AlertKind
	}{
		{"sos uppercase", "iMEDE_watch/SOS", models.AlertSOS},
		{"sos lowercase", "imede_watch/sos", models.AlertSOS},
		{"fall down", "iMEDE_watch/fallDown", models.AlertFall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"IMEI": "865067123456789"}`
			classified, err := c.Classify(rawMsg(tt.topic, payload))
			require.NoError(t, err)

			event, ok := classified.(models.EmergencyEvent)
			require.True(t, ok)
			assert.Equal(t, tt.kind, event.Alert)
			assert.Equal(t, "865067123456789", event.IMEI)
		})
	}
}

func TestClassify_EmergencyMissingIMEI(t *testing.T) {
	c := New(zap.NewNop())

	_, err := c.Classify(rawMsg("iMEDE_watch/SOS", `{"battery": 10}`))

	var decodeErr *models.TransportDecodeError
	require.True(t, errors.As(err, &decodeErr))
}

func TestClassify_MalformedJSON(t *testing.T) {
	c := New(zap.NewNop())

	_, err := c.Classify(rawMsg("ESP32_BLE_GW_TX", `not json at all`))

	var decodeErr *models.TransportDecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "ESP32_BLE_GW_TX", decodeErr.Topic)
}

func TestClassify_UnknownShape(t *testing.T) {
	c := New(zap.NewNop())

	_, err := c.Classify(rawMsg("ESP32_BLE_GW_TX", `{"hello": "world"}`))

	var schemaErr *models.SchemaValidationError
	require.True(t, errors.As(err, &schemaErr))
}
