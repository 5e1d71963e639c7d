package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pairchat/internal/chat"
	"pairchat/internal/mocks"
	"pairchat/internal/models"
)

type headerAuth struct{}

func (headerAuth) UserIDFromRequest(r *http.Request) (int, error) {
	switch r.URL.Query().Get("token") {
	case "alice":
		return 1, nil
	case "bob":
		return 2, nil
	}
	return 0, errors.New("invalid token")
}

type wsFixture struct {
	server   *httptest.Server
	service  *mocks.ChatServiceMock
	hub      *Hub
	registry *Registry
}

func newWSFixture(t *testing.T, perSecond float64, burst int) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	service := &mocks.ChatServiceMock{}
	hub := NewHub(logger)
	registry := NewRegistry(RegistryConfig{GracePeriod: 20 * time.Millisecond, Logger: logger})
	handler := NewChatWebSocketHandler(HandlerConfig{
		Hub:               hub,
		Registry:          registry,
		Service:           service,
		Auth:              headerAuth{},
		Logger:            logger,
		MessagesPerSecond: perSecond,
		Burst:             burst,
	})

	router := gin.New()
	router.GET("/ws", handler.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &wsFixture{server: server, service: service, hub: hub, registry: registry}
}

func (f *wsFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type rawEvent struct {
	Type string         `json:"type"`
	Raw  map[string]any `json:"payload"`
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event rawEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event.Type, event.Raw
}

func TestChatWebSocketRejectsUnauthenticated(t *testing.T) {
	f := newWSFixture(t, 0, 0)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=nobody"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatWebSocketJoinRoomSendsSummaryThenAck(t *testing.T) {
	f := newWSFixture(t, 0, 0)
	f.service.On("EnterChat", mock.Anything, 7, 1).Return(models.ChatSummaryUpdated{ChatID: 7, LastMessage: "hi", SenderID: 2}, nil)
	conn := f.dial(t, "alice")

	require.NoError(t, conn.WriteJSON(Command{Action: ActionJoinRoom, RequestID: "r1", ChatID: 7}))

	eventType, payload := readEvent(t, conn)
	require.Equal(t, models.EventChatSummaryUpdated, eventType)
	require.Equal(t, "hi", payload["last_message"])

	eventType, payload = readEvent(t, conn)
	require.Equal(t, models.EventAck, eventType)
	require.Equal(t, AckOK, payload["status"])
	require.Equal(t, "r1", payload["request_id"])
	require.Eventually(t, func() bool { return f.hub.RoomSize(7) == 1 }, time.Second, 5*time.Millisecond)
}

func TestChatWebSocketSendMessage(t *testing.T) {
	f := newWSFixture(t, 0, 0)
	f.service.On("SubmitMessage", mock.Anything, chat.SubmitRequest{
		ChatID: 7, SenderID: 1, Text: "hello", IdempotencyID: "m-1", Source: chat.SourceWS,
	}).Return(chat.SubmitResult{Message: models.Message{ID: 42, ChatID: 7}}, nil)
	conn := f.dial(t, "alice")

	require.NoError(t, conn.WriteJSON(Command{Action: ActionSendMessage, ChatID: 7, Text: "hello", IdempotencyID: "m-1"}))

	eventType, payload := readEvent(t, conn)
	require.Equal(t, models.EventAck, eventType)
	require.Equal(t, AckOK, payload["status"])
	require.EqualValues(t, 42, payload["message_id"])
}

func TestChatWebSocketUpdateAvatar(t *testing.T) {
	f := newWSFixture(t, 0, 0)
	f.service.On("UpdateAvatar", mock.Anything, 1, "https://cdn.example/a.png").Return(nil).Once()
	conn := f.dial(t, "alice")

	require.NoError(t, conn.WriteJSON(Command{Action: ActionUpdateAvatar, RequestID: "av", Avatar: "https://cdn.example/a.png"}))

	eventType, payload := readEvent(t, conn)
	require.Equal(t, models.EventAck, eventType)
	require.Equal(t, AckOK, payload["status"])
	require.Equal(t, ActionUpdateAvatar, payload["action"])
	f.service.AssertExpectations(t)
}

func TestChatWebSocketMapsServiceErrors(t *testing.T) {
	f := newWSFixture(t, 0, 0)
	f.service.On("SubmitMessage", mock.Anything, mock.MatchedBy(func(req chat.SubmitRequest) bool { return req.ChatID == 1 })).
		Return(nil, chat.ErrBlocked)
	f.service.On("SubmitMessage", mock.Anything, mock.MatchedBy(func(req chat.SubmitRequest) bool { return req.ChatID == 2 })).
		Return(nil, errors.New("pq: connection reset"))
	f.service.On("DeleteMessage", mock.Anything, int64(9), 1).Return(nil, chat.ErrNotFound)
	conn := f.dial(t, "alice")

	require.NoError(t, conn.WriteJSON(Command{Action: ActionSendMessage, ChatID: 1, Text: "x", IdempotencyID: "a"}))
	_, payload := readEvent(t, conn)
	require.Equal(t, AckBlocked, payload["status"])

	require.NoError(t, conn.WriteJSON(Command{Action: ActionSendMessage, ChatID: 2, Text: "x", IdempotencyID: "b"}))
	_, payload = readEvent(t, conn)
	require.Equal(t, AckError, payload["status"])
	require.Equal(t, "internal error", payload["reason"])

	require.NoError(t, conn.WriteJSON(Command{Action: ActionDeleteMessage, MessageID: 9}))
	_, payload = readEvent(t, conn)
	require.Equal(t, AckNotFound, payload["status"])

	require.NoError(t, conn.WriteJSON(Command{Action: "dance"}))
	_, payload = readEvent(t, conn)
	require.Equal(t, "unknown action", payload["reason"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	_, payload = readEvent(t, conn)
	require.Equal(t, "invalid payload", payload["reason"])
}

func TestChatWebSocketRateLimitsSends(t *testing.T) {
	f := newWSFixture(t, 0.001, 1)
	f.service.On("SubmitMessage", mock.Anything, mock.Anything).
		Return(chat.SubmitResult{Message: models.Message{ID: 1, ChatID: 7}}, nil).Once()
	conn := f.dial(t, "alice")

	require.NoError(t, conn.WriteJSON(Command{Action: ActionSendMessage, ChatID: 7, Text: "a", IdempotencyID: "1"}))
	_, payload := readEvent(t, conn)
	require.Equal(t, AckOK, payload["status"])

	require.NoError(t, conn.WriteJSON(Command{Action: ActionSendMessage, ChatID: 7, Text: "b", IdempotencyID: "2"}))
	_, payload = readEvent(t, conn)
	require.Equal(t, AckRateLimited, payload["status"])
	f.service.AssertNumberOfCalls(t, "SubmitMessage", 1)
}

func TestChatWebSocketDisconnectLeavesRoomsAndRegistry(t *testing.T) {
	f := newWSFixture(t, 0, 0)
	f.service.On("EnterChat", mock.Anything, 7, 2).Return(models.ChatSummaryUpdated{ChatID: 7}, nil)
	conn := f.dial(t, "bob")

	require.NoError(t, conn.WriteJSON(Command{Action: ActionJoinRoom, ChatID: 7}))
	readEvent(t, conn)
	readEvent(t, conn)
	require.True(t, f.registry.Online(2))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return f.hub.RoomSize(7) == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !f.registry.Online(2) }, time.Second, 5*time.Millisecond)
}
