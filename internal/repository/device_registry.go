package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// 设备注册表上允许用于匹配的列（封闭集合）
var registryDeviceColumns = map[string]bool{
	"mac_bps":       true,
	"mac_gluc":      true,
	"mac_fat":       true,
	"mac_oxymeter":  true,
	"mac_body_temp": true,
	"gateway_mac":   true,
	"imei":          true,
}

// DeviceRegistryRepository 设备注册表仓库（机构级映射，注册层匹配）
//
// 网关可能上报尚未写入病人档案、但已在机构级注册并关联病人的子设备地址，
// 注册层为这类设备兜底。
type DeviceRegistryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRegistryRepository 创建设备注册表仓库
func NewDeviceRegistryRepository(db *sql.DB, logger *zap.Logger) *DeviceRegistryRepository {
	return &DeviceRegistryRepository{
		db:     db,
		logger: logger,
	}
}

// FindPatientByField 按注册表字段查找关联病人
//
// 未命中返回 ("", nil)；注册记录存在但未关联病人同样视为未命中。
func (r *DeviceRegistryRepository) FindPatientByField(ctx context.Context, field string, identifier string) (string, error) {
	if !registryDeviceColumns[field] {
		return "", fmt.Errorf("invalid registry device field: %s", field)
	}
	if identifier == "" {
		return "", fmt.Errorf("identifier is required")
	}

	query := fmt.Sprintf(`
		SELECT patient_id
		FROM device_registry
		WHERE %s = $1 AND patient_id IS NOT NULL
		LIMIT 1
	`, field)

	var patientID string
	err := r.db.QueryRowContext(ctx, query, identifier).Scan(&patientID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to query device registry by %s: %w", field, err)
	}

	return patientID, nil
}
