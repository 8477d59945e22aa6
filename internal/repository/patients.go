package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// 病人档案上允许用于设备匹配的列（封闭集合，列名不接受外部输入）
var patientDeviceColumns = map[string]bool{
	"blood_pressure_mac": true,
	"blood_glucose_mac":  true,
	"body_scale_mac":     true,
	"oximeter_mac":       true,
	"body_temp_mac":      true,
	"watch_imei":         true,
}

// PatientRepository 病人档案仓库（直接层匹配）
type PatientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPatientRepository 创建病人档案仓库
func NewPatientRepository(db *sql.DB, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{
		db:     db,
		logger: logger,
	}
}

// FindByDeviceField 按模态MAC字段查找病人
//
// field 必须在 patientDeviceColumns 封闭集合内；未命中返回 ("", nil)。
func (r *PatientRepository) FindByDeviceField(ctx context.Context, field string, identifier string) (string, error) {
	if !patientDeviceColumns[field] {
		return "", fmt.Errorf("invalid patient device field: %s", field)
	}
	if identifier == "" {
		return "", fmt.Errorf("identifier is required")
	}

	query := fmt.Sprintf(`
		SELECT patient_id
		FROM patients
		WHERE %s = $1
		LIMIT 1
	`, field)

	var patientID string
	err := r.db.QueryRowContext(ctx, query, identifier).Scan(&patientID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to query patient by %s: %w", field, err)
	}

	return patientID, nil
}
