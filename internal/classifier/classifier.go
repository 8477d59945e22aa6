package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"go.uber.org/zap"
)

// Classifier 载荷分类器
//
// 将原始遥测消息解码为封闭的标签变体之一：
// AttributeReport / BatchVitalSigns / Heartbeat / EmergencyEvent。
// 分类规则按固定顺序判定，未命中任何规则返回 SchemaValidationError。
type Classifier struct {
	logger *zap.Logger
}

// New 创建分类器
func New(logger *zap.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// gatewayData 网关信封的 data 段
type gatewayData struct {
	Attribute string `json:"attribute"`
	MAC       string `json:"mac"`
	Value     struct {
		DeviceList []json.RawMessage `json:"device_list"`
	} `json:"value"`
}

// Classify 对一条原始消息做分类
//
// 判定顺序：
//  1. 主题含 SOS / fall（不区分大小写）→ EmergencyEvent
//  2. data.attribute + data.value.device_list → AttributeReport
//  3. data[] 数组 + num_datas 且含体征键 → BatchVitalSigns
//  4. type == "HB_Msg" → Heartbeat
//  5. 其余 → SchemaValidationError
func (c *Classifier) Classify(msg *models.RawTelemetryMessage) (models.ClassifiedMessage, error) {
	// 紧急事件按主题关键字判定
	lowerTopic := strings.ToLower(msg.Topic)
	if strings.Contains(lowerTopic, "sos") {
		return c.classifyEmergency(msg, models.AlertSOS)
	}
	if strings.Contains(lowerTopic, "fall") {
		return c.classifyEmergency(msg, models.AlertFall)
	}

	// 信封必须是JSON对象
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &probe); err != nil {
		return nil, &models.TransportDecodeError{Topic: msg.Topic, Err: err}
	}

	// 网关族：data.attribute + device_list
	if rawData, ok := probe["data"]; ok && len(rawData) > 0 && rawData[0] == '{' {
		var env models.GatewayEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			return nil, &models.TransportDecodeError{Topic: msg.Topic, Err: err}
		}

		var data gatewayData
		if err := json.Unmarshal(env.Data, &data); err == nil &&
			data.Attribute != "" && len(data.Value.DeviceList) > 0 {
			return c.classifyAttributeReport(msg, &env, &data)
		}
	}

	// 手表族：data[] 数组 + num_datas
	var wearable models.WearableEnvelope
	if err := json.Unmarshal(msg.Payload, &wearable); err == nil &&
		wearable.NumDatas > 0 && len(wearable.Data) > 0 && wearable.Data[0] == '[' {
		return c.classifyBatch(msg, &wearable)
	}

	// 心跳：type == "HB_Msg"，无体征载荷
	if kind := decodeString(probe["type"]); kind == "HB_Msg" {
		return c.classifyHeartbeat(msg, probe)
	}

	return nil, &models.SchemaValidationError{
		Topic:  msg.Topic,
		Reason: "payload matches no known device-family shape",
	}
}

// classifyAttributeReport 解出网关属性上报的各子设备条目
func (c *Classifier) classifyAttributeReport(msg *models.RawTelemetryMessage, env *models.GatewayEnvelope, data *gatewayData) (models.ClassifiedMessage, error) {
	if env.MAC == "" {
		return nil, &models.TransportDecodeError{
			Topic: msg.Topic,
			Err:   fmt.Errorf("attribute report missing gateway mac"),
		}
	}

	report := models.AttributeReport{
		GatewayMAC: env.MAC,
		Attribute:  data.Attribute,
		ReportedAt: env.Time,
	}

	for i, raw := range data.Value.DeviceList {
		var entry models.SubDeviceEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, &models.SchemaValidationError{
				Topic:  msg.Topic,
				Reason: fmt.Sprintf("device_list[%d] is not an object", i),
			}
		}
		if entry.BLEAddr == "" {
			return nil, &models.SchemaValidationError{
				Topic:  msg.Topic,
				Reason: fmt.Sprintf("device_list[%d] missing ble_addr", i),
			}
		}
		entry.Raw = raw
		report.Entries = append(report.Entries, entry)
	}

	return report, nil
}

// classifyBatch 解出手表批量体征条目，保持数组原序
func (c *Classifier) classifyBatch(msg *models.RawTelemetryMessage, env *models.WearableEnvelope) (models.ClassifiedMessage, error) {
	if env.IMEI == "" {
		return nil, &models.TransportDecodeError{
			Topic: msg.Topic,
			Err:   fmt.Errorf("batch vital signs missing IMEI"),
		}
	}

	var entries []models.BatchEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return nil, &models.SchemaValidationError{
			Topic:  msg.Topic,
			Reason: "data[] entries are not valid vital-sign objects",
		}
	}

	if len(entries) == 0 {
		return nil, &models.SchemaValidationError{
			Topic:  msg.Topic,
			Reason: "num_datas set but data[] is empty",
		}
	}

	return models.BatchVitalSigns{IMEI: env.IMEI, Entries: entries}, nil
}

// classifyHeartbeat 心跳消息，mac 与 IMEI 至少须有其一
func (c *Classifier) classifyHeartbeat(msg *models.RawTelemetryMessage, probe map[string]json.RawMessage) (models.ClassifiedMessage, error) {
	hb := models.Heartbeat{
		IMEI: decodeString(probe["IMEI"]),
		MAC:  decodeString(probe["mac"]),
	}

	if hb.IMEI == "" && hb.MAC == "" {
		return nil, &models.TransportDecodeError{
			Topic: msg.Topic,
			Err:   fmt.Errorf("heartbeat missing both mac and IMEI"),
		}
	}

	if raw, ok := probe["battery"]; ok {
		var battery int
		if err := json.Unmarshal(raw, &battery); err == nil {
			hb.Battery = &battery
		}
	}
	if raw, ok := probe["signalGSM"]; ok {
		var signal int
		if err := json.Unmarshal(raw, &signal); err == nil {
			hb.SignalGSM = &signal
		}
	}

	return hb, nil
}

// classifyEmergency 紧急事件，IMEI 必填
func (c *Classifier) classifyEmergency(msg *models.RawTelemetryMessage, kind models.AlertKind) (models.ClassifiedMessage, error) {
	var env models.WearableEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, &models.TransportDecodeError{Topic: msg.Topic, Err: err}
	}
	if env.IMEI == "" {
		return nil, &models.TransportDecodeError{
			Topic: msg.Topic,
			Err:   fmt.Errorf("emergency event missing IMEI"),
		}
	}

	return models.EmergencyEvent{IMEI: env.IMEI, Alert: kind}, nil
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
