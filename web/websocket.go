package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signaldesk/event"
	"signaldesk/logger"
	"signaldesk/metrics"
	"signaldesk/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// maxMessageSize 客户端消息只有订阅指令
const maxMessageSize = 1024

// wsMessage 推送通道消息
type wsMessage struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Kind      event.Kind  `json:"kind,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// wsConn 一个推送连接。只有 writePump 写 conn
type wsConn struct {
	conn    *websocket.Conn
	client  *event.Client
	hub     *event.Hub
	control chan wsMessage
	cfg     WebSocketConfig
}

// handleWebSocket 推送通道
// GET /ws?subscribe_logs=true
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("⚠️ WebSocket 升级失败: %v", err)
		return
	}

	hub := s.opts.Hub
	ws := &wsConn{
		conn:    conn,
		client:  hub.ConnectBuffered(s.opts.WebSocket.SendBuffer),
		hub:     hub,
		control: make(chan wsMessage, 16),
		cfg:     s.opts.WebSocket,
	}
	metrics.GetPrometheusMetrics().SetWebSocketClients(hub.ClientCount())
	logger.Debug("🔌 推送连接已建立: %s (%s)", ws.client.ID(), c.ClientIP())

	var logCh <-chan *storage.LogRecord
	if c.Query("subscribe_logs") == "true" && s.opts.Logs != nil {
		logCh = s.opts.Logs.Subscribe()
		defer s.opts.Logs.Unsubscribe(logCh)
	}

	go ws.writePump(logCh)
	ws.readPump()

	hub.Disconnect(ws.client.ID())
	metrics.GetPrometheusMetrics().SetWebSocketClients(hub.ClientCount())
	logger.Debug("🔌 推送连接已断开: %s (丢弃事件 %d)", ws.client.ID(), ws.client.Dropped())
}

// readPump 处理订阅指令，连接断开时返回
func (ws *wsConn) readPump() {
	ws.conn.SetReadLimit(maxMessageSize)
	ws.conn.SetReadDeadline(time.Now().Add(ws.cfg.PongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(ws.cfg.PongWait))
	})

	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.reply(wsMessage{Type: "error", Message: "invalid message"})
			continue
		}
		ws.handle(msg.Type)
	}
}

func (ws *wsConn) handle(msgType string) {
	id := ws.client.ID()
	switch {
	case msgType == "ping":
		ws.reply(wsMessage{Type: "pong"})
	case strings.HasPrefix(msgType, "subscribe_"):
		topic := strings.TrimPrefix(msgType, "subscribe_")
		if err := ws.hub.Subscribe(id, topic); err != nil {
			ws.reply(wsMessage{Type: "error", Message: err.Error()})
			return
		}
		ws.reply(wsMessage{Type: "subscribed", Topic: topic})
	case strings.HasPrefix(msgType, "unsubscribe_"):
		topic := strings.TrimPrefix(msgType, "unsubscribe_")
		if err := ws.hub.Unsubscribe(id, topic); err != nil {
			ws.reply(wsMessage{Type: "error", Message: err.Error()})
			return
		}
		ws.reply(wsMessage{Type: "unsubscribed", Topic: topic})
	default:
		ws.reply(wsMessage{Type: "error", Message: "unknown message type: " + msgType})
	}
}

// reply 回复控制消息，写协程跟不上时丢弃
func (ws *wsConn) reply(msg wsMessage) {
	select {
	case ws.control <- msg:
	default:
	}
}

// writePump 写入事件、控制消息、日志和心跳，事件通道关闭时返回
func (ws *wsConn) writePump(logCh <-chan *storage.LogRecord) {
	ticker := time.NewTicker(ws.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		ws.conn.Close()
	}()

	events := ws.client.Events()
	for {
		var msg wsMessage
		select {
		case ev, ok := <-events:
			if !ok {
				ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteWait))
				ws.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			ts := ev.Timestamp
			msg = wsMessage{Type: "event", Kind: ev.Kind, Topic: ev.Topic, Payload: ev.Payload, Timestamp: &ts}
		case msg = <-ws.control:
		case rec, ok := <-logCh:
			if !ok {
				logCh = nil
				continue
			}
			msg = wsMessage{Type: "log", Data: rec}
		case <-ticker.C:
			ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteWait))
		if err := ws.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
