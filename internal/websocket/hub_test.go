package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"licensehub/backend/internal/domain"
)

// staticAuth 接受任意令牌的认证桩
type staticAuth struct{}

func (staticAuth) Authenticate(string) (*domain.Actor, error) {
	return &domain.Actor{AdminID: "admin-1", Email: "root@licensehub.test"}, nil
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub([]string{"*"}, staticAuth{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return hub, server, cancel
}

func dialHub(t *testing.T, server *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=test-token"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub, server, _ := newHubServer(t)

	conn := dialHub(t, server)
	require.NoError(t, conn.WriteJSON(&Message{Type: MessageTypeSubscribe}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack Message
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, MessageTypeSubscribed, ack.Type)

	hub.Publish(domain.Event{
		Type:      domain.EventActivated,
		LicenseID: "lic-1",
		Domain:    "a.example.com",
		At:        time.Now(),
	})

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, "lic-1", msg.LicenseID)

	var event domain.Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, domain.EventActivated, event.Type)
	assert.Equal(t, "a.example.com", event.Domain)
}

func TestHub_ShutdownClosesConnectedClients(t *testing.T) {
	_, server, cancel := newHubServer(t)

	conn := dialHub(t, server)
	cancel()

	// 停机把所有连接的 send 通道关闭，客户端很快收到关闭帧
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_ConnectAfterShutdownDisconnects(t *testing.T) {
	hub, server, cancel := newHubServer(t)

	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop in time")
	}

	// 停机后的握手不能卡在无人接收的注册通道上，服务端应立即断开
	conn := dialHub(t, server)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	start := time.Now()
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "连接应被服务端主动关闭而不是等到读超时")
}
