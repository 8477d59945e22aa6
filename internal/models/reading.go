package models

import "time"

// ReadingType 规范化读数类型（封闭枚举）
type ReadingType string

const (
	ReadingBloodPressure ReadingType = "blood_pressure"
	ReadingGlucose       ReadingType = "glucose"
	ReadingWeight        ReadingType = "weight"
	ReadingSpO2          ReadingType = "spo2"
	ReadingHeartRate     ReadingType = "heart_rate"
	ReadingTemperature   ReadingType = "temperature"
)

// ValidReadingType 校验读数类型是否在封闭枚举内
func ValidReadingType(t ReadingType) bool {
	switch t {
	case ReadingBloodPressure, ReadingGlucose, ReadingWeight,
		ReadingSpO2, ReadingHeartRate, ReadingTemperature:
		return true
	}
	return false
}

// ResolutionTier 病人绑定的解析层级
type ResolutionTier string

const (
	TierDirect   ResolutionTier = "direct"   // 病人档案上的设备MAC字段直接匹配
	TierRegistry ResolutionTier = "registry" // 设备注册表（机构级映射）匹配
)

// PatientBinding 病人绑定
//
// 仅在单条消息的处理过程中存活，不单独持久化；
// 随读数与状态快照落库。
type PatientBinding struct {
	PatientID    string
	Tier         ResolutionTier
	MatchedField string
}

// NormalizedReading 规范化医疗读数
//
// 一条原始消息可产出 0..N 条读数（批量上报）。
// 不变量：CapturedAt <= ReceivedAt；Type 必须在封闭枚举内。
// 值字段按读数类型填充，未涉及的保持 nil。
type NormalizedReading struct {
	PatientID   string         `json:"patient_id"`
	Device      DeviceIdentity `json:"device"`
	Type        ReadingType    `json:"reading_type"`
	Systolic    *int           `json:"systolic,omitempty"`
	Diastolic   *int           `json:"diastolic,omitempty"`
	Pulse       *int           `json:"pulse,omitempty"`
	Glucose     *float64       `json:"glucose,omitempty"`      // mmol/L
	GlucoseMark *string        `json:"glucose_mark,omitempty"` // 餐前/餐后标记
	Weight      *float64       `json:"weight,omitempty"`       // kg
	SpO2        *int           `json:"spo2,omitempty"`
	HeartRate   *int           `json:"heart_rate,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"` // 摄氏度
	CapturedAt  time.Time      `json:"captured_at"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// DeviceStatusSnapshot 设备最新状态快照
//
// 每台物理设备一条，心跳/上报时原地覆盖（latest-wins）。
type DeviceStatusSnapshot struct {
	DeviceID    string    `json:"device_id"`
	DeviceType  string    `json:"device_type"`
	Online      bool      `json:"online_status"`
	Battery     *int      `json:"battery_level,omitempty"`
	Signal      *int      `json:"signal_strength,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	PatientID   string    `json:"patient_id,omitempty"`
}

// TransactionLogEntry 交易审计日志条目（只追加）
type TransactionLogEntry struct {
	Operation  string    `json:"operation"`
	DataType   string    `json:"data_type"`
	Collection string    `json:"collection"`
	PatientID  string    `json:"patient_id,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	Status     string    `json:"status"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EmergencyAlert 紧急告警记录
type EmergencyAlert struct {
	DeviceID  string    `json:"device_id"`
	Kind      AlertKind `json:"alert_kind"`
	PatientID string    `json:"patient_id,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`
	DedupKey  string    `json:"dedup_key"`
}
