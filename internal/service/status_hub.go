package service

import (
	"context"
	"encoding/json"
	"net/http"
	"quizmark_backend/internal/grading"
	"quizmark_backend/pkg/logger"
	"quizmark_backend/pkg/monitoring"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	subscriberBuf  = 16

	statusChannel = "quizmark:analysis_status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusEvent 推送给订阅者的分析状态
type StatusEvent struct {
	QuizID string        `json:"quizId"`
	State  grading.State `json:"state"`
}

// StatusHub 把分析状态变化推送给正在查看该试卷的客户端。
// 配置了 Redis 时经由频道广播，多实例部署下每个实例都能收到。
type StatusHub struct {
	Redis *redis.Client

	mu          sync.RWMutex
	subscribers map[string]map[chan []byte]struct{}
}

func NewStatusHub(rdb *redis.Client) *StatusHub {
	return &StatusHub{
		Redis:       rdb,
		subscribers: make(map[string]map[chan []byte]struct{}),
	}
}

// Run 转发其他实例发布的状态，ctx 结束时返回；没有 Redis 时立即返回
func (h *StatusHub) Run(ctx context.Context) {
	if h.Redis == nil {
		return
	}
	pubsub := h.Redis.Subscribe(ctx, statusChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Log.Error("PubSub unmarshal error", zap.Error(err))
				continue
			}
			h.deliver(ev.QuizID, []byte(msg.Payload))
		}
	}
}

// Publish 广播一次状态变化；Redis 不可用时退回本地推送
func (h *StatusHub) Publish(quizID string, st grading.State) {
	payload, err := json.Marshal(StatusEvent{QuizID: quizID, State: st})
	if err != nil {
		logger.Log.Error("Failed to encode status event", zap.Error(err))
		return
	}
	if h.Redis != nil {
		err := h.Redis.Publish(context.Background(), statusChannel, payload).Err()
		if err == nil {
			return
		}
		logger.Log.Warn("Redis publish failed, delivering locally", zap.Error(err))
	}
	h.deliver(quizID, payload)
}

// 订阅者处理不过来时丢弃，客户端随后会收到更新的状态
func (h *StatusHub) deliver(quizID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers[quizID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribe 注册一个本地订阅者；取消后通道被关闭
func (h *StatusHub) Subscribe(quizID string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuf)
	h.mu.Lock()
	if h.subscribers[quizID] == nil {
		h.subscribers[quizID] = make(map[chan []byte]struct{})
	}
	h.subscribers[quizID][ch] = struct{}{}
	h.mu.Unlock()
	monitoring.StatusSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.subscribers[quizID]
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.subscribers, quizID)
			}
			close(ch)
			monitoring.StatusSubscribers.Dec()
		})
	}
}

func (h *StatusHub) Subscribers(quizID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[quizID])
}

// Stop 关闭所有订阅，连接随之结束
func (h *StatusHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	closed := 0
	for quizID, subs := range h.subscribers {
		for ch := range subs {
			close(ch)
			closed++
		}
		delete(h.subscribers, quizID)
	}
	monitoring.StatusSubscribers.Sub(float64(closed))
	logger.Log.Info("Status hub stopped", zap.Int("closedSubscriptions", closed))
}

// ServeStatus 升级为 websocket，先发送当前状态，之后推送每次变化。
// 先订阅再读取当前状态，两者之间发生的变化不会丢失。
func (h *StatusHub) ServeStatus(w http.ResponseWriter, r *http.Request, quizID string, current func() (grading.State, error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", zap.Error(err), zap.String("quiz_id", quizID))
		return
	}
	events, cancel := h.Subscribe(quizID)

	st, err := current()
	if err != nil {
		cancel()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	initial, _ := json.Marshal(StatusEvent{QuizID: quizID, State: st})

	done := make(chan struct{})
	go readUntilClosed(conn, done)
	go writeStatus(conn, initial, events, done, cancel)
}

// readUntilClosed 客户端不发送业务消息，只处理 pong 和关闭
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Debug("Status stream closed", zap.Error(err))
			}
			return
		}
	}
}

func writeStatus(conn *websocket.Conn, initial []byte, events <-chan []byte, done <-chan struct{}, cancel func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
		return
	}
	for {
		select {
		case msg, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
