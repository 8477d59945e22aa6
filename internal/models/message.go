package models

import (
	"encoding/json"
	"time"
)

// DeviceFamily 设备族
type DeviceFamily string

const (
	FamilyGateway   DeviceFamily = "gateway"    // BLE网关（AVA4盒子）
	FamilySubDevice DeviceFamily = "sub_device" // 网关下挂的BLE子设备
	FamilyWearable  DeviceFamily = "wearable"   // 蜂窝手表（Kati）
)

// RawTelemetryMessage 原始遥测消息
//
// 从MQTT收到的一条未处理消息。处理结束（成功、丢弃或审计）后即丢弃，
// 不做持久化。
type RawTelemetryMessage struct {
	Topic      string    `json:"topic"`
	ReceivedAt time.Time `json:"received_at"`
	Payload    []byte    `json:"payload"`
}

// DeviceIdentity 设备身份
//
// Primary 为网关MAC或手表IMEI；Secondary 为BLE子设备地址（仅子设备族）。
type DeviceIdentity struct {
	Family    DeviceFamily `json:"family"`
	Primary   string       `json:"primary_identifier"`
	Secondary string       `json:"secondary_identifier,omitempty"`
}

// Key 返回用于幂等与单飞锁的设备键
func (d DeviceIdentity) Key() string {
	if d.Secondary != "" {
		return d.Secondary
	}
	return d.Primary
}

// MessageKind 消息类型
type MessageKind string

const (
	KindAttributeReport MessageKind = "attribute_report"
	KindBatchVitalSigns MessageKind = "batch_vital_signs"
	KindHeartbeat       MessageKind = "heartbeat"
	KindEmergencyEvent  MessageKind = "emergency_event"
)

// ClassifiedMessage 分类后的消息（封闭的标签变体）
type ClassifiedMessage interface {
	Kind() MessageKind
}

// GatewayEnvelope 网关上行信封（ESP32_BLE_GW_TX / dusun_sub）
type GatewayEnvelope struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Time int64           `json:"time"`
	MAC  string          `json:"mac"`
	IMEI string          `json:"IMEI"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WearableEnvelope 手表上行信封（iMEDE_watch 系列主题）
type WearableEnvelope struct {
	IMEI       string          `json:"IMEI"`
	Type       string          `json:"type"`
	TimeStamps string          `json:"timeStamps"`
	NumDatas   int             `json:"num_datas"`
	Battery    *int            `json:"battery"`
	SignalGSM  *int            `json:"signalGSM"`
	Data       json.RawMessage `json:"data"`
}

// SubDeviceEntry 网关 device_list 中的一个子设备条目
//
// ble_addr 与 scan_time 提前解出；测量字段因属性而异，保留原始JSON
// 由 normalizer 按属性表解码。
type SubDeviceEntry struct {
	BLEAddr  string          `json:"ble_addr"`
	ScanTime int64           `json:"scan_time"`
	Battery  *int            `json:"battery"`
	RSSI     *int            `json:"rssi"`
	Raw      json.RawMessage `json:"-"`
}

// AttributeReport 网关属性上报（一个属性 + 若干子设备条目）
type AttributeReport struct {
	GatewayMAC string
	Attribute  string
	Entries    []SubDeviceEntry
	ReportedAt int64
}

func (AttributeReport) Kind() MessageKind { return KindAttributeReport }

// BatchBloodPressure 批量条目中的血压值
type BatchBloodPressure struct {
	Systolic  int `json:"bp_sys"`
	Diastolic int `json:"bp_dia"`
}

// BatchEntry 手表批量体征中的一个采样点
type BatchEntry struct {
	Timestamp       int64               `json:"timestamp"`
	HeartRate       *int                `json:"heartRate"`
	BloodPressure   *BatchBloodPressure `json:"bloodPressure"`
	SpO2            *int                `json:"spO2"`
	BodyTemperature *float64            `json:"bodyTemperature"`
}

// BatchVitalSigns 手表批量体征上报
type BatchVitalSigns struct {
	IMEI    string
	Entries []BatchEntry
}

func (BatchVitalSigns) Kind() MessageKind { return KindBatchVitalSigns }

// Heartbeat 心跳消息（HB_Msg）
type Heartbeat struct {
	IMEI      string
	MAC       string
	Battery   *int
	SignalGSM *int
}

func (Heartbeat) Kind() MessageKind { return KindHeartbeat }

// AlertKind 紧急事件类型
type AlertKind string

const (
	AlertSOS  AlertKind = "SOS"
	AlertFall AlertKind = "fall"
)

// EmergencyEvent 手表紧急事件（SOS / 跌倒）
type EmergencyEvent struct {
	IMEI  string
	Alert AlertKind
}

func (EmergencyEvent) Kind() MessageKind { return KindEmergencyEvent }

// Identity 从分类结果推导设备身份
func (m AttributeReport) Identity(entry SubDeviceEntry) DeviceIdentity {
	return DeviceIdentity{
		Family:    FamilySubDevice,
		Primary:   m.GatewayMAC,
		Secondary: entry.BLEAddr,
	}
}

// Identity 手表身份
func (m BatchVitalSigns) Identity() DeviceIdentity {
	return DeviceIdentity{Family: FamilyWearable, Primary: m.IMEI}
}

// Identity 心跳来源身份（手表或网关）
func (m Heartbeat) Identity() DeviceIdentity {
	if m.IMEI != "" {
		return DeviceIdentity{Family: FamilyWearable, Primary: m.IMEI}
	}
	return DeviceIdentity{Family: FamilyGateway, Primary: m.MAC}
}

// Identity 紧急事件来源身份
func (m EmergencyEvent) Identity() DeviceIdentity {
	return DeviceIdentity{Family: FamilyWearable, Primary: m.IMEI}
}
