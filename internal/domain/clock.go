package domain

import (
	"fmt"
	"regexp"
	"time"
)

var clockPattern = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)

// DeviceClock 设备上报的时间（HH:MM:SS，无日期）
type DeviceClock struct {
	Hour   int
	Minute int
	Second int
}

// ParseDeviceClock 严格解析 HH:MM:SS
func ParseDeviceClock(s string) (DeviceClock, error) {
	if !clockPattern.MatchString(s) {
		return DeviceClock{}, fmt.Errorf("invalid device time %q: want HH:MM:SS", s)
	}
	c := DeviceClock{
		Hour:   twoDigits(s[0:2]),
		Minute: twoDigits(s[3:5]),
		Second: twoDigits(s[6:8]),
	}
	if c.Hour > 23 || c.Minute > 59 || c.Second > 59 {
		return DeviceClock{}, fmt.Errorf("invalid device time %q: out of range", s)
	}
	return c, nil
}

// Add 按秒推进，跨越午夜回绕
func (c DeviceClock) Add(d time.Duration) DeviceClock {
	const day = 24 * 60 * 60
	secs := (c.Hour*3600 + c.Minute*60 + c.Second + int(d/time.Second)) % day
	if secs < 0 {
		secs += day
	}
	return DeviceClock{Hour: secs / 3600, Minute: secs % 3600 / 60, Second: secs % 60}
}

// On 将时钟放到 date 所在日期与时区
func (c DeviceClock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, c.Second, 0, date.Location())
}

// Nearest 在 ref 前一天、当天、后一天中取离 ref 最近的时刻
// 设备在 23:59:5x 上报、服务端午夜后才收到时仍落在前一天
func (c DeviceClock) Nearest(ref time.Time) time.Time {
	best := c.On(ref)
	for _, days := range []int{-1, 1} {
		candidate := c.On(ref.AddDate(0, 0, days))
		if absDuration(candidate.Sub(ref)) < absDuration(best.Sub(ref)) {
			best = candidate
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func twoDigits(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}

func (c DeviceClock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}
