package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartclock/internal/domain"
	"smartclock/internal/metrics"
	"smartclock/internal/repository"

	"go.uber.org/zap"
)

// AlarmService 闹钟服务接口
type AlarmService interface {
	ListAlarms(ctx context.Context) ([]domain.Alarm, error)
	CreateAlarm(ctx context.Context, req CreateAlarmRequest) (*domain.Alarm, error)
	UpdateAlarm(ctx context.Context, req UpdateAlarmRequest) (*domain.Alarm, error)
	DeleteAlarm(ctx context.Context, id string) error
	NextAlarm(ctx context.Context, now time.Time) (*NextAlarmResponse, error)
}

// alarmService 实现
type alarmService struct {
	alarmsRepo repository.AlarmsRepository
	logger     *zap.Logger
}

// NewAlarmService 创建 AlarmService 实例
func NewAlarmService(alarmsRepo repository.AlarmsRepository, logger *zap.Logger) AlarmService {
	return &alarmService{
		alarmsRepo: alarmsRepo,
		logger:     logger,
	}
}

// CreateAlarmRequest 创建闹钟请求（指针为 nil 表示请求中缺少该字段）
type CreateAlarmRequest struct {
	Hour       *int    `json:"hour"`
	Minute     *int    `json:"minute"`
	DaysOfWeek []int   `json:"daysOfWeek"`
	Enabled    *bool   `json:"enabled"`
	Label      *string `json:"label"`

	nulls []string // 显式写成 null 的字段
}

func (r *CreateAlarmRequest) UnmarshalJSON(data []byte) error {
	type plain CreateAlarmRequest
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	nulls, err := nullFields(data)
	r.nulls = nulls
	return err
}

// UpdateAlarmRequest 部分更新请求
type UpdateAlarmRequest struct {
	ID         string  `json:"-"`
	Hour       *int    `json:"hour"`
	Minute     *int    `json:"minute"`
	DaysOfWeek []int   `json:"daysOfWeek"` // nil 表示不修改
	Enabled    *bool   `json:"enabled"`
	Label      *string `json:"label"`

	nulls []string
}

func (r *UpdateAlarmRequest) UnmarshalJSON(data []byte) error {
	type plain UpdateAlarmRequest
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	nulls, err := nullFields(data)
	r.nulls = nulls
	return err
}

var alarmFields = []string{"hour", "minute", "daysOfWeek", "enabled", "label"}

// nullFields null 会被解码成 nil，与“未提供”无法区分，这里单独记录
func nullFields(data []byte) ([]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var out []string
	for _, field := range alarmFields {
		for key, value := range raw {
			if strings.EqualFold(key, field) && bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
				out = append(out, field)
				break
			}
		}
	}
	return out, nil
}

// rejectNulls 出现的字段必须是合法值，null 不算缺省
func rejectNulls(fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "hour":
		return invalidInput("hour must be an integer in 0-23")
	case "minute":
		return invalidInput("minute must be an integer in 0-59")
	case "daysOfWeek":
		return invalidInput("daysOfWeek must be an array")
	case "enabled":
		return invalidInput("enabled must be a boolean")
	default:
		return invalidInput("label must be a string")
	}
}

// NextAlarmResponse 下一次响铃
type NextAlarmResponse struct {
	Alarm domain.Alarm `json:"alarm"`
	At    time.Time    `json:"at"`
}

// ListAlarms 按 (hour, minute) 升序返回全部闹钟
func (s *alarmService) ListAlarms(ctx context.Context) ([]domain.Alarm, error) {
	alarms, err := s.alarmsRepo.ListAlarms(ctx)
	metrics.IncAlarmOp("list", err)
	if err != nil {
		s.logger.Error("Failed to list alarms", zap.Error(err))
		return nil, fmt.Errorf("%w: list alarms: %v", ErrStoreUnavailable, err)
	}
	if alarms == nil {
		alarms = []domain.Alarm{}
	}
	return alarms, nil
}

// CreateAlarm 校验后写入，返回带新 ID 的完整闹钟
func (s *alarmService) CreateAlarm(ctx context.Context, req CreateAlarmRequest) (*domain.Alarm, error) {
	// 参数验证
	if err := rejectNulls(req.nulls); err != nil {
		return nil, err
	}
	if req.Hour == nil {
		return nil, invalidInput("hour is required")
	}
	if req.Minute == nil {
		return nil, invalidInput("minute is required")
	}
	if req.DaysOfWeek == nil {
		return nil, invalidInput("daysOfWeek must be an array")
	}
	if req.Enabled == nil {
		return nil, invalidInput("enabled must be a boolean")
	}
	if err := validateFields(req.Hour, req.Minute, req.DaysOfWeek); err != nil {
		return nil, err
	}

	alarm := domain.Alarm{
		Hour:       *req.Hour,
		Minute:     *req.Minute,
		DaysOfWeek: domain.NormalizeDays(req.DaysOfWeek),
		Enabled:    *req.Enabled,
	}
	if req.Label != nil {
		alarm.Label = *req.Label
	}

	id, err := s.alarmsRepo.CreateAlarm(ctx, alarm)
	metrics.IncAlarmOp("create", err)
	if err != nil {
		s.logger.Error("Failed to create alarm", zap.Error(err))
		return nil, fmt.Errorf("%w: create alarm: %v", ErrStoreUnavailable, err)
	}
	alarm.ID = id

	s.logger.Info("Alarm created",
		zap.String("id", id),
		zap.Int("hour", alarm.Hour),
		zap.Int("minute", alarm.Minute),
	)
	return &alarm, nil
}

// UpdateAlarm 只修改请求中出现的字段
func (s *alarmService) UpdateAlarm(ctx context.Context, req UpdateAlarmRequest) (*domain.Alarm, error) {
	if err := rejectNulls(req.nulls); err != nil {
		return nil, err
	}
	patch := domain.AlarmPatch{
		Hour:       req.Hour,
		Minute:     req.Minute,
		DaysOfWeek: req.DaysOfWeek,
		Enabled:    req.Enabled,
		Label:      req.Label,
	}
	// 空更新直接拒绝，与 ID 是否合法无关
	if patch.IsEmpty() {
		return nil, invalidInput("No valid fields to update")
	}
	if req.ID == "" {
		return nil, invalidInput("id is required")
	}
	id, ok := domain.CanonicalAlarmID(req.ID)
	if !ok {
		return nil, invalidInput("Invalid alarm ID format")
	}
	if err := validateFields(req.Hour, req.Minute, req.DaysOfWeek); err != nil {
		return nil, err
	}
	if patch.DaysOfWeek != nil {
		patch.DaysOfWeek = domain.NormalizeDays(patch.DaysOfWeek)
	}

	updated, err := s.alarmsRepo.UpdateAlarm(ctx, id, patch)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.IncAlarmOp("update", nil)
		return nil, fmt.Errorf("%w: alarm %s", ErrNotFound, id)
	}
	metrics.IncAlarmOp("update", err)
	if err != nil {
		s.logger.Error("Failed to update alarm", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: update alarm: %v", ErrStoreUnavailable, err)
	}
	return updated, nil
}

// DeleteAlarm 删除闹钟，0 条命中视为不存在
func (s *alarmService) DeleteAlarm(ctx context.Context, rawID string) error {
	if rawID == "" {
		return invalidInput("id is required")
	}
	id, ok := domain.CanonicalAlarmID(rawID)
	if !ok {
		return invalidInput("Invalid alarm ID format")
	}

	n, err := s.alarmsRepo.DeleteAlarm(ctx, id)
	metrics.IncAlarmOp("delete", err)
	if err != nil {
		s.logger.Error("Failed to delete alarm", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("%w: delete alarm: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: alarm %s", ErrNotFound, id)
	}

	s.logger.Info("Alarm deleted", zap.String("id", id))
	return nil
}

// NextAlarm 返回 now 之后最早响铃的已启用闹钟（使用 now 的时区）
func (s *alarmService) NextAlarm(ctx context.Context, now time.Time) (*NextAlarmResponse, error) {
	alarms, err := s.ListAlarms(ctx)
	if err != nil {
		return nil, err
	}

	var next *NextAlarmResponse
	for _, a := range alarms {
		at, ok := a.NextOccurrence(now)
		if !ok {
			continue
		}
		if next == nil || at.Before(next.At) {
			next = &NextAlarmResponse{Alarm: a, At: at}
		}
	}
	if next == nil {
		return nil, fmt.Errorf("%w: no enabled alarm", ErrNotFound)
	}
	return next, nil
}

func validateFields(hour, minute *int, days []int) error {
	if hour != nil && (*hour < 0 || *hour > 23) {
		return invalidInput("hour must be an integer in 0-23")
	}
	if minute != nil && (*minute < 0 || *minute > 59) {
		return invalidInput("minute must be an integer in 0-59")
	}
	if days != nil {
		if len(days) == 0 {
			return invalidInput("daysOfWeek must not be empty")
		}
		for _, d := range days {
			if d < 0 || d > 6 {
				return invalidInput("daysOfWeek values must be in 0-6")
			}
		}
	}
	return nil
}
