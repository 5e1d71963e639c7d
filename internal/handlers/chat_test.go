package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pairchat/internal/chat"
	"pairchat/internal/mocks"
	"pairchat/internal/models"
	"pairchat/internal/observability"
	"pairchat/internal/telemetry"
)

func setupChatRouter(t *testing.T, service ChatService, audits *telemetry.AuditEmitter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(observability.RequestIDMiddleware())
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	NewChatHandler(service, audits, zaptest.NewLogger(t)).Register(r, nil)
	return r
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestStartChatCreatesAndReuses(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	service.On("FindOrCreateChat", mock.Anything, 1, 2).Return(models.Chat{ID: 10}, true, nil).Once()
	service.On("FindOrCreateChat", mock.Anything, 1, 2).Return(models.Chat{ID: 10}, false, nil).Once()

	rec := perform(router, http.MethodPost, "/chats", `{"partner_id":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 10, decode(t, rec)["chat_id"])

	rec = perform(router, http.MethodPost, "/chats", `{"partner_id":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func TestStartChatRequiresPartner(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	rec := perform(router, http.MethodPost, "/chats", `{}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	service.AssertNotCalled(t, "FindOrCreateChat", mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", fmt.Errorf("%w: text is required", chat.ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: chat 5", chat.ErrNotFound), http.StatusNotFound},
		{"forbidden", fmt.Errorf("%w: not a participant", chat.ErrForbidden), http.StatusForbidden},
		{"blocked", chat.ErrBlocked, http.StatusForbidden},
		{"conflict", fmt.Errorf("%w: already blocked", chat.ErrConflict), http.StatusConflict},
		{"internal", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := new(mocks.ChatServiceMock)
			router := setupChatRouter(t, service, nil)
			service.On("SubmitMessage", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			rec := perform(router, http.MethodPost, "/chats/5/messages", `{"text":"hi","idempotency_id":"m-1"}`)

			require.Equal(t, tc.status, rec.Code)
			resp := decode(t, rec)
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "failed to store message", resp["error"])
			} else {
				assert.Equal(t, tc.err.Error(), resp["error"])
			}
		})
	}
}

func TestPostChatMessage(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	expected := chat.SubmitRequest{ChatID: 5, SenderID: 1, Text: "hi", IdempotencyID: "m-1", Source: chat.SourceHTTP}
	service.On("SubmitMessage", mock.Anything, expected).
		Return(chat.SubmitResult{Message: models.Message{ID: 7, ChatID: 5, SenderID: 1, Text: "hi"}}, nil).Once()
	service.On("SubmitMessage", mock.Anything, expected).
		Return(chat.SubmitResult{Message: models.Message{ID: 7, ChatID: 5, SenderID: 1, Text: "hi"}, Duplicate: true}, nil).Once()

	rec := perform(router, http.MethodPost, "/chats/5/messages", `{"text":"hi","idempotency_id":"m-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 7, decode(t, rec)["id"])

	rec = perform(router, http.MethodPost, "/chats/5/messages", `{"text":"hi","idempotency_id":"m-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func TestPostChatMessageRejectsBadInput(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	require.Equal(t, http.StatusBadRequest, perform(router, http.MethodPost, "/chats/bad/messages", `{"text":"hi","idempotency_id":"a"}`).Code)
	require.Equal(t, http.StatusBadRequest, perform(router, http.MethodPost, "/chats/5/messages", `{"text":"hi"}`).Code)
	service.AssertNotCalled(t, "SubmitMessage", mock.Anything, mock.Anything)
}

func TestGetChatMessagesPaging(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	service.On("ListMessages", mock.Anything, 5, 1, 20, int64(100)).
		Return([]models.Message{{ID: 98, ChatID: 5}, {ID: 99, ChatID: 5}}, nil).Once()
	service.On("ListMessages", mock.Anything, 6, 1, 0, int64(0)).Return(nil, nil).Once()

	rec := perform(router, http.MethodGet, "/chats/5/messages?limit=20&before=100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["messages"], 2)

	rec = perform(router, http.MethodGet, "/chats/6/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["messages"])

	require.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/chats/5/messages?before=x", "").Code)
	require.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/chats/abc/messages", "").Code)
	service.AssertExpectations(t)
}

func TestLastMessageID(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	last := int64(42)
	service.On("LastMessageID", mock.Anything, 5, 1).Return(&last, nil).Once()
	service.On("LastMessageID", mock.Anything, 6, 1).Return(nil, nil).Once()

	rec := perform(router, http.MethodGet, "/chats/5/messages/last-id", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 42, decode(t, rec)["last_message_id"])

	rec = perform(router, http.MethodGet, "/chats/6/messages/last-id", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["last_message_id"])
}

func TestMarkRead(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	target := int64(9)
	service.On("MarkRead", mock.Anything, chat.MarkReadRequest{ChatID: 5, UserID: 1, LastReadMessageID: &target}).
		Return(chat.ReadResult{ChatID: 5, LastReadMessageID: 9, Advanced: true}, nil).Once()
	service.On("MarkRead", mock.Anything, chat.MarkReadRequest{ChatID: 5, UserID: 1}).
		Return(chat.ReadResult{ChatID: 5, LastReadMessageID: 9}, nil).Once()

	rec := perform(router, http.MethodPost, "/chats/5/read", `{"last_read_message_id":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["advanced"])

	rec = perform(router, http.MethodPost, "/chats/5/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["advanced"])
	service.AssertExpectations(t)
}

func TestListChatsAndUnread(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	service.On("ListChats", mock.Anything, 1).Return([]models.ChatSummary{{ChatID: 3, PartnerID: 2, UnreadCount: 4}}, nil).Once()
	service.On("UnreadCounts", mock.Anything, 1).Return(map[int]int{3: 4}, nil).Once()

	rec := perform(router, http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["chats"], 1)

	rec = perform(router, http.MethodGet, "/chats/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"3": float64(4)}, decode(t, rec)["unread"])
	service.AssertExpectations(t)
}

func TestListChatsRepoError(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)
	service.On("ListChats", mock.Anything, 1).Return(nil, assert.AnError).Once()

	rec := perform(router, http.MethodGet, "/chats", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to load chats", decode(t, rec)["error"])
}

func TestGetChatAndBlockStatus(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	service.On("ChatInfo", mock.Anything, 5, 1).
		Return(models.ChatInfo{ChatID: 5, Partner: models.User{ID: 2, Username: "bob"}, BlockedByPartner: true}, nil).Once()
	service.On("BlockStatus", mock.Anything, 5, 1).Return(true, nil).Once()

	rec := perform(router, http.MethodGet, "/chats/5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["blocked_by_partner"])

	rec = perform(router, http.MethodGet, "/chats/5/block-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["blocked"])
}

func TestEditMessage(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	service.On("EditMessage", mock.Anything, int64(7), 1, "fixed").Return(models.Message{ID: 7, Text: "fixed"}, nil).Once()

	rec := perform(router, http.MethodPut, "/messages/7", `{"text":"fixed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fixed", decode(t, rec)["text"])

	require.Equal(t, http.StatusBadRequest, perform(router, http.MethodPut, "/messages/0", `{"text":"x"}`).Code)
}

func TestModerationActionsAreAudited(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	audits := telemetry.NewAuditEmitter(publisher, "audit.chat", "pairchat", "test", zaptest.NewLogger(t))
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, audits)

	service.On("DeleteMessage", mock.Anything, int64(7), 1).Return(models.Message{ID: 7, ChatID: 5}, nil).Once()
	service.On("DeleteChat", mock.Anything, 5, 1).Return(nil).Once()
	service.On("Block", mock.Anything, 1, 2).Return(nil).Once()
	service.On("Unblock", mock.Anything, 1, 2).Return(nil).Once()
	service.On("Unblock", mock.Anything, 1, 3).Return(fmt.Errorf("%w: no block", chat.ErrNotFound)).Once()

	var actions []string
	publisher.On("Publish", mock.Anything, "audit.chat", mock.AnythingOfType("telemetry.AuditEnvelope")).
		Run(func(args mock.Arguments) {
			envelope := args.Get(2).(telemetry.AuditEnvelope)
			require.NotEmpty(t, envelope.RequestID)
			require.NotNil(t, envelope.UserID)
			actions = append(actions, envelope.Payload.Action)
		}).Return(nil)

	require.Equal(t, http.StatusNoContent, perform(router, http.MethodDelete, "/messages/7", "").Code)
	require.Equal(t, http.StatusNoContent, perform(router, http.MethodDelete, "/chats/5", "").Code)
	require.Equal(t, http.StatusNoContent, perform(router, http.MethodPost, "/blocks", `{"user_id":2}`).Code)
	require.Equal(t, http.StatusNoContent, perform(router, http.MethodDelete, "/blocks/2", "").Code)
	require.Equal(t, http.StatusNotFound, perform(router, http.MethodDelete, "/blocks/3", "").Code)

	assert.Equal(t, []string{"message_deleted", "chat_deleted", "user_blocked", "user_unblocked"}, actions)
	service.AssertExpectations(t)
}

func TestDebugAuditEmitsPrefixedAction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(envelope telemetry.AuditEnvelope) bool {
		return envelope.Payload.Action == "debug_ping" && envelope.Payload.Text == "hello" && *envelope.UserID == "1"
	})).Return(nil).Once()

	router := gin.New()
	router.Use(observability.RequestIDMiddleware())
	router.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	NewChatHandler(new(mocks.ChatServiceMock), telemetry.NewAuditEmitter(publisher, "audit.chat", "pairchat", "test", nil), zaptest.NewLogger(t)).
		RegisterDebug(router)

	rec := perform(router, http.MethodPost, "/debug/audit", `{"action":"debug_ping","text":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "debug_ping", body["action"])
	require.NotEmpty(t, body["request_id"])
	publisher.AssertExpectations(t)

	require.Equal(t, http.StatusBadRequest, perform(router, http.MethodPost, "/debug/audit", `{"action":"  "}`).Code)

	unconfigured := gin.New()
	NewChatHandler(new(mocks.ChatServiceMock), nil, zaptest.NewLogger(t)).RegisterDebug(unconfigured)
	require.Equal(t, http.StatusServiceUnavailable, perform(unconfigured, http.MethodPost, "/debug/audit", `{"action":"x"}`).Code)
}

func TestUpdateAvatar(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)
	service.On("UpdateAvatar", mock.Anything, 1, "https://cdn.example/a.png").Return(nil).Once()
	service.On("UpdateAvatar", mock.Anything, 1, "ftp://x").Return(fmt.Errorf("%w: bad url", chat.ErrValidation)).Once()

	require.Equal(t, http.StatusNoContent, perform(router, http.MethodPut, "/profile/avatar", `{"avatar":"https://cdn.example/a.png"}`).Code)
	require.Equal(t, http.StatusBadRequest, perform(router, http.MethodPut, "/profile/avatar", `{"avatar":"ftp://x"}`).Code)
	require.Equal(t, http.StatusBadRequest, perform(router, http.MethodPut, "/profile/avatar", `not json`).Code)
	service.AssertExpectations(t)
}
