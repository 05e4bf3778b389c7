package websocket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"licensehub/backend/internal/domain"
)

// Authenticator 验证管理端访问令牌并还原操作者
type Authenticator interface {
	Authenticate(token string) (*domain.Actor, error)
}

// TopicAll 订阅全部许可证事件的通配主题
const TopicAll = "*"

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 没有 Origin 视为同源请求
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义 WebSocket 消息类型
type MessageType string

const (
	MessageTypeEvent       MessageType = "license_event"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义 WebSocket 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	LicenseID string          `json:"license_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个已认证的管理端 WebSocket 连接
type Client struct {
	ID     string
	Actor  domain.Actor
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	topics map[string]bool // 订阅的许可证 ID 或 "*"
	mu     sync.RWMutex
	log    *zap.Logger
}

// Hub 管理全部管理端连接并分发许可证事件。
//
// 实现 service.EventSink：服务层发布的事件推送给订阅了对应
// 许可证或通配主题的连接。
type Hub struct {
	clients        map[string]*Client
	topics         map[string]map[string]*Client // licenseID/"*" -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *Message
	done           chan struct{} // Run 退出后关闭，解除注册/注销发送方的阻塞
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	auth           Authenticator
}

// NewHub 创建事件分发 Hub
func NewHub(allowedOrigins []string, auth Authenticator, logger *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		topics:         make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *Message, 256),
		done:           make(chan struct{}),
		log:            logger,
		allowedOrigins: allowedOrigins,
		auth:           auth,
	}
}

// Run 启动 Hub，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Info("client registered",
				zap.String("id", client.ID),
				zap.String("admin", client.Actor.Email))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for topic := range client.topics {
					h.dropSubscriptionLocked(topic, client.ID)
				}
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.dispatch(msg)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// Publish 接收服务层事件并入队广播，实现 service.EventSink。
//
// 队列满时丢弃事件：事件流是尽力而为的通知通道，不是审计存储。
func (h *Hub) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	msg := &Message{
		Type:      MessageTypeEvent,
		LicenseID: event.LicenseID,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("event broadcast queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("license_id", event.LicenseID))
	}
}

// dispatch 向订阅了事件许可证或通配主题的客户端发送消息
func (h *Hub) dispatch(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make(map[string]*Client)
	for id, client := range h.topics[msg.LicenseID] {
		targets[id] = client
	}
	for id, client := range h.topics[TopicAll] {
		targets[id] = client
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- data:
		default:
			// 客户端阻塞，跳过
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送 ping
func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.topics = make(map[string]map[string]*Client)
}

// dropSubscriptionLocked 移除订阅，调用方须持有 h.mu
func (h *Hub) dropSubscriptionLocked(topic, clientID string) {
	if clients, exists := h.topics[topic]; exists {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// authenticateClient 认证连接请求
func (h *Hub) authenticateClient(c *gin.Context) (*Client, error) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
	}

	actor, err := h.auth.Authenticate(token)
	if err != nil {
		return nil, err
	}

	return &Client{
		ID:     generateClientID(),
		Actor:  *actor,
		topics: make(map[string]bool),
		log:    h.log,
	}, nil
}

// HandleWebSocket 处理 WebSocket 升级请求
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		client, err := hub.authenticateClient(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client.conn = conn
		client.hub = hub
		client.send = make(chan []byte, 256)

		// Hub 已停止时直接断开，不能卡在无人接收的注册通道上
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg.LicenseID)
	case MessageTypeUnsubscribe:
		c.unsubscribe(msg.LicenseID)
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
	}
}

// subscribe 订阅许可证事件，licenseID 为空表示订阅全部
func (c *Client) subscribe(licenseID string) {
	topic := licenseID
	if topic == "" {
		topic = TopicAll
	}

	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if c.hub.topics[topic] == nil {
		c.hub.topics[topic] = make(map[string]*Client)
	}
	c.hub.topics[topic][c.ID] = c
	c.hub.mu.Unlock()

	c.log.Info("subscribed",
		zap.String("clientID", c.ID),
		zap.String("topic", topic),
		zap.String("admin", c.Actor.Email))

	c.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		LicenseID: licenseID,
		Timestamp: time.Now(),
	})
}

// unsubscribe 取消订阅
func (c *Client) unsubscribe(licenseID string) {
	topic := licenseID
	if topic == "" {
		topic = TopicAll
	}

	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()

	c.hub.mu.Lock()
	c.hub.dropSubscriptionLocked(topic, c.ID)
	c.hub.mu.Unlock()

	c.log.Info("unsubscribed",
		zap.String("clientID", c.ID),
		zap.String("topic", topic))
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}

// generateClientID 生成客户端 ID
func generateClientID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(buf)
}
