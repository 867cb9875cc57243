package utils

import (
	"testing"
	"time"
)

func TestSetLocation(t *testing.T) {
	defer SetLocation("UTC")

	if err := SetLocation("Asia/Shanghai"); err != nil {
		t.Skipf("系统缺少时区数据: %v", err)
	}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ToConfiguredTimezone(ts).Hour(); got != 8 {
		t.Errorf("期望 8 点, 实际 %d", got)
	}

	if err := SetLocation("Mars/Olympus"); err == nil {
		t.Error("未知时区应返回错误")
	}
	if Location().String() != "Asia/Shanghai" {
		t.Errorf("失败时应保持原时区, 实际 %s", Location())
	}
	if !ToConfiguredTimezone(time.Time{}).IsZero() {
		t.Error("零值时间应原样返回")
	}
}
