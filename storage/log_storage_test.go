package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *LogStorage {
	t.Helper()
	ls, err := NewLogStorage(filepath.Join(t.TempDir(), "logs.db"), Config{BatchSize: 2, FlushInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("创建日志存储失败: %v", err)
	}
	t.Cleanup(func() { ls.Close() })
	return ls
}

func waitForLogs(t *testing.T, ls *LogStorage, params LogQueryParams, want int) []*LogRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		logs, total, err := ls.GetLogs(params)
		if err != nil {
			t.Fatalf("查询日志失败: %v", err)
		}
		if total >= want {
			return logs
		}
		if time.Now().After(deadline) {
			t.Fatalf("期望 %d 条日志, 实际 %d", want, total)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWriteAndQueryLogs(t *testing.T) {
	ls := newTestStorage(t)
	ls.WriteLog("INFO", "[INFO] 📈 开仓: BTC LONG")
	ls.WriteLog("WARN", "[WARN] ⚠️ 信号未通过风控检查")
	ls.WriteLog("INFO", "[INFO] 📉 平仓: BTC")

	logs := waitForLogs(t, ls, LogQueryParams{}, 3)
	if len(logs) != 3 {
		t.Fatalf("期望 3 条, 实际 %d", len(logs))
	}

	warn := waitForLogs(t, ls, LogQueryParams{Level: "warn"}, 1)
	if len(warn) != 1 || warn[0].Level != "WARN" {
		t.Errorf("按级别过滤结果不符: %+v", warn)
	}

	kw := waitForLogs(t, ls, LogQueryParams{Keyword: "平仓"}, 1)
	if len(kw) != 1 {
		t.Errorf("按关键字过滤结果不符: %+v", kw)
	}
}

func TestSubscribeReceivesNewLogs(t *testing.T) {
	ls := newTestStorage(t)
	ch := ls.Subscribe()

	ls.WriteLog("INFO", "hello")
	select {
	case rec := <-ch:
		if rec.Message != "hello" || rec.ID == 0 {
			t.Errorf("订阅收到的日志不符: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("未收到订阅日志")
	}

	ls.Unsubscribe(ch)
	ls.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("取消订阅后通道应关闭")
	}
}

func TestCloseFlushesAndIgnoresLateWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	ls, err := NewLogStorage(path, Config{BatchSize: 100, FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	ls.WriteLog("INFO", "pending")
	if err := ls.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	ls.WriteLog("INFO", "after close")
	if err := ls.Close(); err != nil {
		t.Errorf("重复关闭应无副作用: %v", err)
	}

	reopened, err := NewLogStorage(path, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	_, total, _ := reopened.GetLogs(LogQueryParams{})
	if total != 1 {
		t.Errorf("关闭时应刷新缓冲日志, 实际 %d 条", total)
	}
}

func TestGetLogsAfterID(t *testing.T) {
	ls := newTestStorage(t)
	for _, msg := range []string{"a", "b", "c", "d"} {
		ls.WriteLog("INFO", msg)
	}
	all := waitForLogs(t, ls, LogQueryParams{}, 4)
	if all[0].Message != "d" || all[0].ID <= all[3].ID {
		t.Fatalf("应按 ID 倒序返回: %+v", all)
	}

	missed, total, err := ls.GetLogs(LogQueryParams{AfterID: all[2].ID})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if total != 2 || len(missed) != 2 || missed[1].Message != "c" {
		t.Errorf("afterId 之后应只有 c、d, 实际 %d 条 %+v", total, missed)
	}
}

func TestSubscribeEvictsOldestWhenFull(t *testing.T) {
	ls := newTestStorage(t)
	first := ls.Subscribe()
	for i := 0; i < maxSubscribers; i++ {
		ls.Subscribe()
	}
	if _, ok := <-first; ok {
		t.Error("超过订阅上限时最早的订阅应被关闭")
	}
	ls.Unsubscribe(first)
}
