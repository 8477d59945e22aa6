// Package normalizer 将分类后的设备载荷转换为规范化医疗读数
//
// 每种设备属性对应一个封闭的模式表条目（读数类型 + 字段解码 + 单位换算），
// 未知属性名是类型化错误，不做静默兜底。
package normalizer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"go.uber.org/zap"
)

// attributeSchema 单个设备属性的模式表条目
type attributeSchema struct {
	readingType models.ReadingType
	decode      func(raw json.RawMessage, reading *models.NormalizedReading) error
}

// attributeTable 网关BLE子设备属性 → 规范化模式（封闭表）
var attributeTable = map[string]attributeSchema{
	"BP_BIOLIGHT":      {models.ReadingBloodPressure, decodeBloodPressure},
	"WBP BIOLIGHT":     {models.ReadingBloodPressure, decodeBloodPressure},
	"Contour_Elite":    {models.ReadingGlucose, decodeGlucose},
	"AccuChek_Instant": {models.ReadingGlucose, decodeGlucose},
	"JUMPER_BodyFat":   {models.ReadingWeight, decodeWeight},
	"Oximeter JUMPER":  {models.ReadingSpO2, decodeOximeter},
	"IR_TEMO_JUMPER":   {models.ReadingTemperature, decodeTemperature},
}

// AttributeModality 查属性对应的读数类型（供解析器选择匹配列）
func AttributeModality(attribute string) (models.ReadingType, bool) {
	schema, ok := attributeTable[attribute]
	if !ok {
		return "", false
	}
	return schema.readingType, true
}

// Normalizer 医疗读数规范化器
type Normalizer struct {
	logger *zap.Logger
}

// New 创建规范化器
func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// NormalizeAttributeReport 转换网关属性上报
//
// device_list 的每个条目产出一条读数；captured_at 取条目自带的
// scan_time，设备时钟超前时收敛到 received_at。
func (n *Normalizer) NormalizeAttributeReport(report models.AttributeReport, binding *models.PatientBinding, receivedAt time.Time) ([]models.NormalizedReading, error) {
	schema, ok := attributeTable[report.Attribute]
	if !ok {
		return nil, &models.SchemaValidationError{
			Reason: fmt.Sprintf("unknown device attribute: %q", report.Attribute),
		}
	}

	var readings []models.NormalizedReading
	for i, entry := range report.Entries {
		reading := models.NormalizedReading{
			PatientID:  binding.PatientID,
			Device:     report.Identity(entry),
			Type:       schema.readingType,
			CapturedAt: clampCaptured(entry.ScanTime, receivedAt),
			ReceivedAt: receivedAt,
		}

		if err := schema.decode(entry.Raw, &reading); err != nil {
			return nil, &models.SchemaValidationError{
				Reason: fmt.Sprintf("device_list[%d] (%s): %v", i, report.Attribute, err),
			}
		}

		readings = append(readings, reading)
	}

	return readings, nil
}

// NormalizeBatch 转换手表批量体征
//
// 每个采样点产出一条读数，保持输入数组的相对顺序；
// captured_at 取采样点自带时间戳，此阶段不做去重（去重在持久层）。
func (n *Normalizer) NormalizeBatch(batch models.BatchVitalSigns, binding *models.PatientBinding, receivedAt time.Time) []models.NormalizedReading {
	identity := batch.Identity()

	readings := make([]models.NormalizedReading, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		reading := models.NormalizedReading{
			PatientID:  binding.PatientID,
			Device:     identity,
			Type:       models.ReadingHeartRate,
			CapturedAt: clampCaptured(entry.Timestamp, receivedAt),
			ReceivedAt: receivedAt,
		}

		// 过滤无效值（0 或 255 为设备的无效占位）
		if entry.HeartRate != nil && *entry.HeartRate > 0 && *entry.HeartRate < 255 {
			hr := *entry.HeartRate
			reading.HeartRate = &hr
		}
		if entry.SpO2 != nil && *entry.SpO2 > 0 && *entry.SpO2 <= 100 {
			spo2 := *entry.SpO2
			reading.SpO2 = &spo2
		}
		if entry.BodyTemperature != nil && *entry.BodyTemperature > 0 {
			temp := *entry.BodyTemperature
			reading.Temperature = &temp
		}
		if entry.BloodPressure != nil {
			sys := entry.BloodPressure.Systolic
			dia := entry.BloodPressure.Diastolic
			reading.Systolic = &sys
			reading.Diastolic = &dia
		}

		readings = append(readings, reading)
	}

	return readings
}

// clampCaptured 保证 captured_at <= received_at
func clampCaptured(unixSeconds int64, receivedAt time.Time) time.Time {
	if unixSeconds <= 0 {
		return receivedAt
	}
	captured := time.Unix(unixSeconds, 0).UTC()
	if captured.After(receivedAt) {
		return receivedAt
	}
	return captured
}

// ============================================
// 属性字段解码
// ============================================

func decodeBloodPressure(raw json.RawMessage, reading *models.NormalizedReading) error {
	var fields struct {
		High  *int `json:"bp_high"`
		Low   *int `json:"bp_low"`
		Pulse *int `json:"PR"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if fields.High == nil || fields.Low == nil {
		return fmt.Errorf("missing bp_high/bp_low")
	}

	reading.Systolic = fields.High
	reading.Diastolic = fields.Low
	reading.Pulse = fields.Pulse
	return nil
}

func decodeGlucose(raw json.RawMessage, reading *models.NormalizedReading) error {
	var fields struct {
		Glucose *float64 `json:"blood_glucose"`
		Marker  *string  `json:"marker"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if fields.Glucose == nil {
		return fmt.Errorf("missing blood_glucose")
	}

	// 血糖仪按 mg/dL 上报，统一换算为 mmol/L
	mmol := *fields.Glucose / 18.0
	reading.Glucose = &mmol
	reading.GlucoseMark = fields.Marker
	return nil
}

func decodeWeight(raw json.RawMessage, reading *models.NormalizedReading) error {
	var fields struct {
		Weight *float64 `json:"weight"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if fields.Weight == nil || *fields.Weight <= 0 {
		return fmt.Errorf("missing or non-positive weight")
	}

	reading.Weight = fields.Weight
	return nil
}

func decodeOximeter(raw json.RawMessage, reading *models.NormalizedReading) error {
	var fields struct {
		SpO2  *int `json:"spo2"`
		Pulse *int `json:"pulse"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if fields.SpO2 == nil {
		return fmt.Errorf("missing spo2")
	}

	reading.SpO2 = fields.SpO2
	reading.Pulse = fields.Pulse
	return nil
}

func decodeTemperature(raw json.RawMessage, reading *models.NormalizedReading) error {
	var fields struct {
		Temp *float64 `json:"temp"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if fields.Temp == nil {
		return fmt.Errorf("missing temp")
	}

	reading.Temperature = fields.Temp
	return nil
}
