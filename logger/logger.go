package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（最详细）
	INFO                  // 一般信息
	WARN                  // 警告信息
	ERROR                 // 错误信息
	FATAL                 // 致命错误（程序无法继续）
)

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	logDir = "logs"

	// 应用日志（DEBUG 级别时启用）和 gin 访问日志
	appFile = &rotatingFile{prefix: "app-signaldesk"}
	webFile = &rotatingFile{prefix: "web-gin"}

	globalLocation *time.Location = time.Local
	locationMu     sync.RWMutex

	// 日志存储写入器（通过函数指针避免循环依赖）
	storageWriter func(level, message string)
	storageMu     sync.RWMutex
)

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串，无法识别时返回 INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// rotatingFile 按日期切分的日志文件
type rotatingFile struct {
	mu     sync.Mutex
	prefix string
	file   *os.File
	out    *log.Logger
	date   string
}

// ensure 保证当前日期的文件已打开，调用方必须持有 mu
func (f *rotatingFile) ensure(now time.Time) error {
	today := now.Format("2006-01-02")
	if f.out != nil && f.date == today {
		return nil
	}
	if f.file != nil {
		f.file.Close()
		f.file = nil
		f.out = nil
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志文件夹失败: %w", err)
	}
	name := filepath.Join(logDir, fmt.Sprintf("%s-%s.log", f.prefix, today))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	f.file = file
	f.date = today
	f.out = log.New(file, "", 0)
	return nil
}

func (f *rotatingFile) write(message string) {
	now := time.Now().In(location())
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensure(now); err != nil {
		return
	}
	f.out.Printf("%s %s", now.Format("2006/01/02 15:04:05"), message)
}

func (f *rotatingFile) open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensure(time.Now().In(location()))
}

func (f *rotatingFile) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		f.file.Close()
	}
	f.file = nil
	f.out = nil
	f.date = ""
}

func location() *time.Location {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return globalLocation
}

// SetLevel 设置全局日志级别，DEBUG 级别同时写入文件
func SetLevel(level LogLevel) {
	mu.Lock()
	globalLevel = level
	mu.Unlock()

	if level == DEBUG {
		if err := appFile.open(); err != nil {
			log.Printf("[WARN] %v，将只输出到控制台", err)
		}
	} else {
		appFile.close()
	}
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// SetLocation 设置日志时区
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	defer locationMu.Unlock()
	globalLocation = loc
}

// SetDir 设置日志目录（测试和容器部署使用）
func SetDir(dir string) {
	appFile.close()
	webFile.close()
	logDir = dir
}

// InitLogStorage 注册日志存储写入器
func InitLogStorage(writer func(level, message string)) {
	storageMu.Lock()
	defer storageMu.Unlock()
	storageWriter = writer
}

// InitWebLogger 初始化 gin 访问日志文件
func InitWebLogger() error {
	if err := webFile.open(); err != nil {
		return err
	}
	log.Printf("[INFO] Web 日志文件已启用: %s", filepath.Join(logDir, webFile.prefix+"-*.log"))
	return nil
}

// WriteWebLog 写入 Web 访问日志（供 gin 中间件使用）
func WriteWebLog(message string) {
	webFile.write(message)
}

// Close 关闭日志文件（程序退出时调用）
func Close() {
	appFile.close()
	webFile.close()
	InitLogStorage(nil)
}

func logf(level LogLevel, format string, args ...interface{}) {
	current := GetLevel()
	if level < current {
		return
	}
	message := fmt.Sprintf("[%s] "+format, append([]interface{}{level.String()}, args...)...)
	log.Print(message)

	if current == DEBUG {
		appFile.write(message)
	}

	storageMu.RLock()
	writer := storageWriter
	storageMu.RUnlock()
	if writer != nil {
		// 异步写入，存储故障不影响主流程
		go func() {
			defer func() { _ = recover() }()
			writer(level.String(), message)
		}()
	}
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	Close()
	os.Exit(1)
}
