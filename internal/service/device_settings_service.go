package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartclock/internal/store"

	"go.uber.org/zap"
)

const timezoneKey = "smartclock:device:timezone"

// DeviceSettingsService 设备设置（当前只有时区）
type DeviceSettingsService interface {
	GetTimezone(ctx context.Context) string
	SetTimezone(ctx context.Context, timezone string) error
	ResetTimezone(ctx context.Context) error
	Location(ctx context.Context, override string) (*time.Location, error)
}

type deviceSettingsService struct {
	kv              store.KV
	defaultTimezone string
	logger          *zap.Logger
}

// NewDeviceSettingsService 创建设置服务，defaultTimezone 在 KV 中没有值时使用
func NewDeviceSettingsService(kv store.KV, defaultTimezone string, logger *zap.Logger) DeviceSettingsService {
	return &deviceSettingsService{
		kv:              kv,
		defaultTimezone: defaultTimezone,
		logger:          logger,
	}
}

// GetTimezone KV 不可用时回退到默认时区
func (s *deviceSettingsService) GetTimezone(ctx context.Context) string {
	tz, err := s.kv.Get(ctx, timezoneKey)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			s.logger.Warn("Failed to read device timezone, using default", zap.Error(err))
		}
		return s.defaultTimezone
	}
	return tz
}

func (s *deviceSettingsService) SetTimezone(ctx context.Context, timezone string) error {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		return invalidInput("timezone is required")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return invalidInput("unknown timezone %q", timezone)
	}
	if err := s.kv.Set(ctx, timezoneKey, timezone, 0); err != nil {
		s.logger.Error("Failed to save device timezone", zap.Error(err))
		return fmt.Errorf("%w: save timezone: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("Device timezone updated", zap.String("timezone", timezone))
	return nil
}

// ResetTimezone 删除已保存的时区，恢复默认值
func (s *deviceSettingsService) ResetTimezone(ctx context.Context) error {
	if err := s.kv.Delete(ctx, timezoneKey); err != nil {
		s.logger.Error("Failed to reset device timezone", zap.Error(err))
		return fmt.Errorf("%w: reset timezone: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("Device timezone reset", zap.String("timezone", s.defaultTimezone))
	return nil
}

// Location 解析时区：override 非空时优先，否则使用已保存的设置
func (s *deviceSettingsService) Location(ctx context.Context, override string) (*time.Location, error) {
	name := strings.TrimSpace(override)
	if name == "" {
		name = s.GetTimezone(ctx)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalidInput("unknown timezone %q", name)
	}
	return loc, nil
}
