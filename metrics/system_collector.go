package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"signaldesk/logger"
)

// SystemMetrics 进程资源快照
type SystemMetrics struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryMB      float64   `json:"memoryMb"`
	MemoryPercent float64   `json:"memoryPercent"` // 占系统内存的百分比
	Goroutines    int       `json:"goroutines"`
	ProcessID     int       `json:"processId"`
}

// SystemMetricsCollector 定期采集进程资源并写入 Prometheus
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration
	proc     *process.Process
	mu       sync.RWMutex
	latest   *SystemMetrics
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(interval time.Duration) (*SystemMetricsCollector, error) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("获取进程失败: %w", err)
	}
	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
		proc:     proc,
	}, nil
}

// Start 启动采集，ctx 取消后停止
func (smc *SystemMetricsCollector) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(smc.interval)
		defer ticker.Stop()

		smc.collect()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				smc.collect()
			}
		}
	}()
}

// Latest 最近一次采集结果，尚未采集时返回 nil
func (smc *SystemMetricsCollector) Latest() *SystemMetrics {
	smc.mu.RLock()
	defer smc.mu.RUnlock()
	return smc.latest
}

func (smc *SystemMetricsCollector) collect() {
	sm, err := smc.Collect()
	if err != nil {
		logger.Debug("⚠️ 采集系统指标失败: %v", err)
		return
	}
	smc.mu.Lock()
	smc.latest = sm
	smc.mu.Unlock()
}

// Collect 立即采集一次并更新 Prometheus 指标
func (smc *SystemMetricsCollector) Collect() (*SystemMetrics, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()
	smc.pm.SetGoroutineCount(goroutines)
	smc.pm.SetMemoryAlloc(m.Alloc)

	cpuPercent, err := smc.proc.CPUPercent()
	if err != nil {
		return nil, fmt.Errorf("获取CPU占用率失败: %w", err)
	}
	memInfo, err := smc.proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("获取内存信息失败: %w", err)
	}
	smc.pm.SetProcessResources(cpuPercent, memInfo.RSS)

	var memoryPercent float64
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		memoryPercent = float64(memInfo.RSS) / float64(vm.Total) * 100
	}

	return &SystemMetrics{
		Timestamp:     time.Now().UTC(),
		CPUPercent:    cpuPercent,
		MemoryMB:      float64(memInfo.RSS) / 1024 / 1024,
		MemoryPercent: memoryPercent,
		Goroutines:    goroutines,
		ProcessID:     os.Getpid(),
	}, nil
}
