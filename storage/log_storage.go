package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signaldesk/utils"
)

const (
	maxSubscribers  = 100
	subscriberQueue = 100
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// Config 日志存储配置
type Config struct {
	BufferSize    int           // 写入队列长度，队列满时丢弃
	BatchSize     int           // 达到该条数立即刷盘
	FlushInterval time.Duration // 定期刷盘间隔
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// LogRecord 日志记录。ID 单调递增，WebSocket 断线重连后可用 afterId 补齐
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// LogQueryParams 日志查询参数
type LogQueryParams struct {
	StartTime time.Time
	EndTime   time.Time
	Level     string
	Keyword   string
	AfterID   int64 // 只返回 ID 大于该值的日志
	Limit     int
	Offset    int
}

// where 拼出过滤条件和参数
func (p LogQueryParams) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if !p.StartTime.IsZero() {
		add("timestamp >= ?", p.StartTime)
	}
	if !p.EndTime.IsZero() {
		add("timestamp <= ?", p.EndTime)
	}
	if p.Level != "" {
		add("level = ?", strings.ToUpper(p.Level))
	}
	if p.Keyword != "" {
		add("message LIKE ?", "%"+p.Keyword+"%")
	}
	if p.AfterID > 0 {
		add("id > ?", p.AfterID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type subscriber struct {
	ch  chan *LogRecord
	seq uint64
}

// LogStorage 基于 SQLite 的日志存储，供 /api/logs 查询和 WebSocket 实时推送
type LogStorage struct {
	db     *sql.DB
	config Config

	mu      sync.RWMutex // 保护 closed 和 pending 的关闭
	closed  bool
	pending chan LogRecord
	done    chan struct{}

	subMu   sync.Mutex
	subs    map[<-chan *LogRecord]*subscriber
	nextSeq uint64
}

// NewLogStorage 打开（必要时创建）日志数据库并启动后台刷盘
func NewLogStorage(path string, config Config) (*LogStorage, error) {
	config = config.withDefaults()
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建日志数据库目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开日志数据库失败: %w", err)
	}
	// 单连接，写入全部由刷盘协程串行完成
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建日志表失败: %w", err)
	}

	ls := &LogStorage{
		db:      db,
		config:  config,
		pending: make(chan LogRecord, config.BufferSize),
		done:    make(chan struct{}),
		subs:    make(map[<-chan *LogRecord]*subscriber),
	}
	go ls.run()
	return ls, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
`

// WriteLog 异步写入，队列满或已关闭时丢弃。签名与 logger.InitLogStorage 的写入器一致
func (ls *LogStorage) WriteLog(level, message string) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if ls.closed {
		return
	}
	select {
	case ls.pending <- LogRecord{Timestamp: utils.NowUTC(), Level: level, Message: message}:
	default:
	}
}

// run 攒批写入，写入成功后推送给订阅者
func (ls *LogStorage) run() {
	defer close(ls.done)

	batch := make([]LogRecord, 0, ls.config.BatchSize)
	ticker := time.NewTicker(ls.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// 写入失败时丢弃这一批，日志存储不影响交易流程
		if err := ls.insert(batch); err == nil {
			ls.publish(batch)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-ls.pending:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= ls.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// insert 在一个事务内写入整批日志并回填 ID
func (ls *LogStorage) insert(batch []LogRecord) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO logs (timestamp, level, message) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range batch {
		res, err := stmt.Exec(batch[i].Timestamp, batch[i].Level, batch[i].Message)
		if err != nil {
			return err
		}
		batch[i].ID, _ = res.LastInsertId()
	}
	return tx.Commit()
}

// Subscribe 订阅新写入的日志。订阅数超过上限时最早的订阅被关闭
func (ls *LogStorage) Subscribe() <-chan *LogRecord {
	ls.subMu.Lock()
	defer ls.subMu.Unlock()

	if len(ls.subs) >= maxSubscribers {
		var oldest *subscriber
		for _, s := range ls.subs {
			if oldest == nil || s.seq < oldest.seq {
				oldest = s
			}
		}
		delete(ls.subs, oldest.ch)
		close(oldest.ch)
	}
	ls.nextSeq++
	s := &subscriber{ch: make(chan *LogRecord, subscriberQueue), seq: ls.nextSeq}
	ls.subs[s.ch] = s
	return s.ch
}

// Unsubscribe 取消订阅并关闭通道，重复调用无副作用
func (ls *LogStorage) Unsubscribe(ch <-chan *LogRecord) {
	ls.subMu.Lock()
	defer ls.subMu.Unlock()
	if s, ok := ls.subs[ch]; ok {
		delete(ls.subs, ch)
		close(s.ch)
	}
}

// publish 慢订阅者直接跳过，不阻塞刷盘
func (ls *LogStorage) publish(batch []LogRecord) {
	ls.subMu.Lock()
	defer ls.subMu.Unlock()
	for i := range batch {
		rec := batch[i]
		for _, s := range ls.subs {
			select {
			case s.ch <- &rec:
			default:
			}
		}
	}
}

// GetLogs 查询日志，按 ID 倒序，返回当前页和符合条件的总数
func (ls *LogStorage) GetLogs(params LogQueryParams) ([]*LogRecord, int, error) {
	where, args := params.where()

	var total int
	if err := ls.db.QueryRow("SELECT COUNT(*) FROM logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("查询日志总数失败: %w", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	rows, err := ls.db.Query(
		"SELECT id, timestamp, level, message FROM logs"+where+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, limit, params.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("查询日志失败: %w", err)
	}
	defer rows.Close()

	logs := make([]*LogRecord, 0, limit)
	for rows.Next() {
		rec := &LogRecord{}
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Level, &rec.Message); err != nil {
			return nil, 0, fmt.Errorf("读取日志失败: %w", err)
		}
		logs = append(logs, rec)
	}
	return logs, total, rows.Err()
}

// CleanOldLogs 清理超过指定天数的日志，返回删除条数
func (ls *LogStorage) CleanOldLogs(days int) (int64, error) {
	cutoff := utils.NowUTC().AddDate(0, 0, -days)
	res, err := ls.db.Exec(`DELETE FROM logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理日志失败: %w", err)
	}
	return res.RowsAffected()
}

// Close 写完队列中剩余的日志，关闭所有订阅和数据库
func (ls *LogStorage) Close() error {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return nil
	}
	ls.closed = true
	close(ls.pending)
	ls.mu.Unlock()

	<-ls.done

	ls.subMu.Lock()
	for ch, s := range ls.subs {
		delete(ls.subs, ch)
		close(s.ch)
	}
	ls.subMu.Unlock()

	return ls.db.Close()
}
