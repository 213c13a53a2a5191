package repository

import (
	"context"
	"sync"

	"smartclock/internal/domain"
)

// MemoryAlarmsRepo 内存实现（STORE_DRIVER=memory，以及测试）
type MemoryAlarmsRepo struct {
	mu     sync.RWMutex
	alarms map[string]domain.Alarm
}

func NewMemoryAlarmsRepo() *MemoryAlarmsRepo {
	return &MemoryAlarmsRepo{alarms: map[string]domain.Alarm{}}
}

func (r *MemoryAlarmsRepo) ListAlarms(_ context.Context) ([]domain.Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Alarm, 0, len(r.alarms))
	for _, a := range r.alarms {
		out = append(out, cloneAlarm(a))
	}
	domain.SortAlarms(out)
	return out, nil
}

func (r *MemoryAlarmsRepo) CreateAlarm(_ context.Context, alarm domain.Alarm) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alarm.ID = domain.NewAlarmID()
	r.alarms[alarm.ID] = cloneAlarm(alarm)
	return alarm.ID, nil
}

func (r *MemoryAlarmsRepo) UpdateAlarm(_ context.Context, id string, patch domain.AlarmPatch) (*domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alarms[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(&a)
	r.alarms[id] = a
	out := cloneAlarm(a)
	return &out, nil
}

func (r *MemoryAlarmsRepo) DeleteAlarm(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.alarms[id]; !ok {
		return 0, nil
	}
	delete(r.alarms, id)
	return 1, nil
}

func cloneAlarm(a domain.Alarm) domain.Alarm {
	a.DaysOfWeek = append([]int{}, a.DaysOfWeek...)
	return a
}
