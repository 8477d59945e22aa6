package resolver

import (
	"context"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/repository"

	"go.uber.org/zap"
)

// fieldMapping 模态对应的匹配列（病人档案列 / 设备注册表列）
//
// 各设备族的MAC字段命名在历史脚本里出现过多种拼法，这里固定为
// 唯一的封闭映射，解析只认这一份。
type fieldMapping struct {
	patientColumn  string
	registryColumn string
}

var modalityFields = map[models.ReadingType]fieldMapping{
	models.ReadingBloodPressure: {"blood_pressure_mac", "mac_bps"},
	models.ReadingGlucose:       {"blood_glucose_mac", "mac_gluc"},
	models.ReadingWeight:        {"body_scale_mac", "mac_fat"},
	models.ReadingSpO2:          {"oximeter_mac", "mac_oxymeter"},
	models.ReadingTemperature:   {"body_temp_mac", "mac_body_temp"},
	models.ReadingHeartRate:     {"watch_imei", "imei"},
}

// familyFields 无模态消息（心跳等）按设备族选择匹配列
var familyFields = map[models.DeviceFamily]fieldMapping{
	models.FamilyWearable: {"watch_imei", "imei"},
	models.FamilyGateway:  {"", "gateway_mac"}, // 病人档案不存网关MAC，直接层跳过
}

// Strategy 单个解析策略
//
// 命中返回绑定；未命中返回 (nil, nil)；查询出错返回 error。
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, identity models.DeviceIdentity, mapping fieldMapping) (*models.PatientBinding, error)
}

// Resolver 设备身份解析器
//
// 两级策略按固定顺序尝试：先直接层（病人档案），后注册层（设备注册表），
// 首个命中即返回，不再尝试后续层级。两级均未命中返回 UnresolvedDeviceError。
type Resolver struct {
	strategies []Strategy
	cache      *BindingCache
	logger     *zap.Logger
}

// New 创建解析器（cache 可为 nil，表示不启用缓存）
func New(patientRepo *repository.PatientRepository, registryRepo *repository.DeviceRegistryRepository, cache *BindingCache, logger *zap.Logger) *Resolver {
	return &Resolver{
		strategies: []Strategy{
			&directStrategy{repo: patientRepo},
			&registryStrategy{repo: registryRepo},
		},
		cache:  cache,
		logger: logger,
	}
}

// Resolve 将设备身份解析为病人绑定
//
// modality 为空时按设备族选择匹配列（心跳消息无模态）。
// 缓存仅是加速，不作权威：缓存出错或未命中均回落到策略链。
func (r *Resolver) Resolve(ctx context.Context, identity models.DeviceIdentity, modality models.ReadingType) (*models.PatientBinding, error) {
	mapping, ok := r.fieldsFor(identity, modality)
	if !ok {
		return nil, &models.UnresolvedDeviceError{Identity: identity}
	}

	cacheKey := string(modality) + ":" + identity.Key()
	if r.cache != nil {
		if binding, err := r.cache.Get(ctx, cacheKey); err == nil && binding != nil {
			return binding, nil
		}
	}

	for _, s := range r.strategies {
		binding, err := s.Resolve(ctx, identity, mapping)
		if err != nil {
			return nil, err
		}
		if binding != nil {
			r.logger.Debug("Patient binding resolved",
				zap.String("device", identity.Key()),
				zap.String("tier", string(binding.Tier)),
				zap.String("matched_field", binding.MatchedField),
			)
			if r.cache != nil {
				if err := r.cache.Set(ctx, cacheKey, binding); err != nil {
					r.logger.Warn("Failed to cache patient binding", zap.Error(err))
				}
			}
			return binding, nil
		}
	}

	return nil, &models.UnresolvedDeviceError{Identity: identity}
}

// fieldsFor 选出本次解析使用的匹配列
func (r *Resolver) fieldsFor(identity models.DeviceIdentity, modality models.ReadingType) (fieldMapping, bool) {
	if modality != "" {
		mapping, ok := modalityFields[modality]
		return mapping, ok
	}
	mapping, ok := familyFields[identity.Family]
	return mapping, ok
}

// directStrategy 直接层：病人档案上的模态MAC字段
type directStrategy struct {
	repo *repository.PatientRepository
}

func (s *directStrategy) Name() string { return "direct" }

func (s *directStrategy) Resolve(ctx context.Context, identity models.DeviceIdentity, mapping fieldMapping) (*models.PatientBinding, error) {
	if mapping.patientColumn == "" {
		return nil, nil
	}

	patientID, err := s.repo.FindByDeviceField(ctx, mapping.patientColumn, identity.Key())
	if err != nil {
		return nil, err
	}
	if patientID == "" {
		return nil, nil
	}

	return &models.PatientBinding{
		PatientID:    patientID,
		Tier:         models.TierDirect,
		MatchedField: mapping.patientColumn,
	}, nil
}

// registryStrategy 注册层：机构级设备注册表
type registryStrategy struct {
	repo *repository.DeviceRegistryRepository
}

func (s *registryStrategy) Name() string { return "registry" }

func (s *registryStrategy) Resolve(ctx context.Context, identity models.DeviceIdentity, mapping fieldMapping) (*models.PatientBinding, error) {
	if mapping.registryColumn == "" {
		return nil, nil
	}

	patientID, err := s.repo.FindPatientByField(ctx, mapping.registryColumn, identity.Key())
	if err != nil {
		return nil, err
	}
	if patientID == "" {
		return nil, nil
	}

	return &models.PatientBinding{
		PatientID:    patientID,
		Tier:         models.TierRegistry,
		MatchedField: mapping.registryColumn,
	}, nil
}
