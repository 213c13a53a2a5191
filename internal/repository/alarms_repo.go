package repository

import (
	"context"
	"errors"

	"smartclock/internal/domain"
)

// ErrNotFound 存储中不存在该记录
var ErrNotFound = errors.New("not found")

// AlarmsRepository 闹钟存储接口
//
// 所有实现遵循同一返回约定：
//   - ListAlarms 按 (hour, minute) 升序返回全部闹钟
//   - CreateAlarm 由存储分配 ID 并返回
//   - UpdateAlarm 返回更新后的完整闹钟；不存在时返回 ErrNotFound
//   - DeleteAlarm 返回删除条数（0 表示不存在）
//
// 其余错误均视为存储不可用。ID 格式由上层校验。
type AlarmsRepository interface {
	ListAlarms(ctx context.Context) ([]domain.Alarm, error)
	CreateAlarm(ctx context.Context, alarm domain.Alarm) (string, error)
	UpdateAlarm(ctx context.Context, id string, patch domain.AlarmPatch) (*domain.Alarm, error)
	DeleteAlarm(ctx context.Context, id string) (int64, error)
}
