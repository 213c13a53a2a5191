package domain

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Alarm 周期性闹钟
type Alarm struct {
	ID         string `json:"id"`
	Hour       int    `json:"hour"`       // 0-23
	Minute     int    `json:"minute"`     // 0-59
	DaysOfWeek []int  `json:"daysOfWeek"` // 0=Sunday ... 6=Saturday
	Enabled    bool   `json:"enabled"`
	Label      string `json:"label"`
}

// AlarmPatch 部分更新：nil 表示未提供，不修改
type AlarmPatch struct {
	Hour       *int
	Minute     *int
	DaysOfWeek []int
	Enabled    *bool
	Label      *string
}

// IsEmpty 没有任何字段
func (p AlarmPatch) IsEmpty() bool {
	return p.Hour == nil && p.Minute == nil && p.DaysOfWeek == nil && p.Enabled == nil && p.Label == nil
}

// Apply 将已提供的字段写入 a
func (p AlarmPatch) Apply(a *Alarm) {
	if p.Hour != nil {
		a.Hour = *p.Hour
	}
	if p.Minute != nil {
		a.Minute = *p.Minute
	}
	if p.DaysOfWeek != nil {
		a.DaysOfWeek = append([]int(nil), p.DaysOfWeek...)
	}
	if p.Enabled != nil {
		a.Enabled = *p.Enabled
	}
	if p.Label != nil {
		a.Label = *p.Label
	}
}

// CanonicalAlarmID 标识符必须是 24 位十六进制（ObjectID），统一成小写后各存储按同一形式比较
func CanonicalAlarmID(id string) (string, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return "", false
	}
	return oid.Hex(), true
}

// NewAlarmID 生成与 MongoDB 一致形状的标识符（非 Mongo 存储使用）
func NewAlarmID() string {
	return primitive.NewObjectID().Hex()
}

// NormalizeDays 去重并升序
func NormalizeDays(days []int) []int {
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// SortAlarms 按 (hour, minute) 升序
func SortAlarms(alarms []Alarm) {
	sort.SliceStable(alarms, func(i, j int) bool {
		if alarms[i].Hour != alarms[j].Hour {
			return alarms[i].Hour < alarms[j].Hour
		}
		return alarms[i].Minute < alarms[j].Minute
	})
}

// NextOccurrence 返回 after 之后（不含）闹钟下一次响铃时间，使用 after 所在时区。
// 未启用或没有星期时返回 false。
func (a Alarm) NextOccurrence(after time.Time) (time.Time, bool) {
	if !a.Enabled || len(a.DaysOfWeek) == 0 {
		return time.Time{}, false
	}
	days := make(map[time.Weekday]bool, len(a.DaysOfWeek))
	for _, d := range a.DaysOfWeek {
		days[time.Weekday(d)] = true
	}
	loc := after.Location()
	y, m, d := after.Date()
	for offset := 0; offset <= 7; offset++ {
		candidate := time.Date(y, m, d+offset, a.Hour, a.Minute, 0, 0, loc)
		if !days[candidate.Weekday()] {
			continue
		}
		if candidate.After(after) {
			return candidate, true
		}
	}
	return time.Time{}, false
}
