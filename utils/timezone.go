package utils

import (
	"sync/atomic"
	"time"
)

var displayLocation atomic.Pointer[time.Location]

func init() {
	displayLocation.Store(time.UTC)
}

// SetLocation 设置展示用时区，名称无法解析时保持原时区并返回错误
func SetLocation(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == "UTC+8" {
			displayLocation.Store(time.FixedZone("UTC+8", 8*60*60))
			return nil
		}
		return err
	}
	displayLocation.Store(loc)
	return nil
}

// Location 当前展示时区
func Location() *time.Location {
	return displayLocation.Load()
}

// ToConfiguredTimezone 将时间转换为展示时区，零值原样返回
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(Location())
}

// NowUTC 当前 UTC 时间，所有持久化时间戳都用 UTC
func NowUTC() time.Time {
	return time.Now().UTC()
}
