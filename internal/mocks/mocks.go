package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"pairchat/internal/chat"
	"pairchat/internal/models"
)

// ChatServiceMock is a testify mock of the chat service used by transport adapters.
type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) FindOrCreateChat(ctx context.Context, userID, partnerID int) (models.Chat, bool, error) {
	args := m.Called(ctx, userID, partnerID)
	var c models.Chat
	if val := args.Get(0); val != nil {
		c = val.(models.Chat)
	}
	return c, args.Bool(1), args.Error(2)
}

func (m *ChatServiceMock) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) ChatInfo(ctx context.Context, chatID, userID int) (models.ChatInfo, error) {
	args := m.Called(ctx, chatID, userID)
	var info models.ChatInfo
	if val := args.Get(0); val != nil {
		info = val.(models.ChatInfo)
	}
	return info, args.Error(1)
}

func (m *ChatServiceMock) DeleteChat(ctx context.Context, chatID, userID int) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

func (m *ChatServiceMock) EnterChat(ctx context.Context, chatID, userID int) (models.ChatSummaryUpdated, error) {
	args := m.Called(ctx, chatID, userID)
	var summary models.ChatSummaryUpdated
	if val := args.Get(0); val != nil {
		summary = val.(models.ChatSummaryUpdated)
	}
	return summary, args.Error(1)
}

func (m *ChatServiceMock) SubmitMessage(ctx context.Context, req chat.SubmitRequest) (chat.SubmitResult, error) {
	args := m.Called(ctx, req)
	var result chat.SubmitResult
	if val := args.Get(0); val != nil {
		result = val.(chat.SubmitResult)
	}
	return result, args.Error(1)
}

func (m *ChatServiceMock) EditMessage(ctx context.Context, messageID int64, userID int, text string) (models.Message, error) {
	args := m.Called(ctx, messageID, userID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) DeleteMessage(ctx context.Context, messageID int64, userID int) (models.Message, error) {
	args := m.Called(ctx, messageID, userID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) ListMessages(ctx context.Context, chatID, userID, limit int, beforeID int64) ([]models.Message, error) {
	args := m.Called(ctx, chatID, userID, limit, beforeID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) LastMessageID(ctx context.Context, chatID, userID int) (*int64, error) {
	args := m.Called(ctx, chatID, userID)
	var id *int64
	if val := args.Get(0); val != nil {
		id = val.(*int64)
	}
	return id, args.Error(1)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, req chat.MarkReadRequest) (chat.ReadResult, error) {
	args := m.Called(ctx, req)
	var result chat.ReadResult
	if val := args.Get(0); val != nil {
		result = val.(chat.ReadResult)
	}
	return result, args.Error(1)
}

func (m *ChatServiceMock) UnreadCounts(ctx context.Context, userID int) (map[int]int, error) {
	args := m.Called(ctx, userID)
	var counts map[int]int
	if val := args.Get(0); val != nil {
		counts = val.(map[int]int)
	}
	return counts, args.Error(1)
}

func (m *ChatServiceMock) Block(ctx context.Context, blockerID, blockedID int) error {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Error(0)
}

func (m *ChatServiceMock) Unblock(ctx context.Context, blockerID, blockedID int) error {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Error(0)
}

func (m *ChatServiceMock) BlockStatus(ctx context.Context, chatID, userID int) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatServiceMock) UpdateAvatar(ctx context.Context, userID int, avatar string) error {
	args := m.Called(ctx, userID, avatar)
	return args.Error(0)
}

// Delivery is one event handed to a Fanout.
type Delivery struct {
	Target int
	Event  models.Event
}

// Fanout records room broadcasts and user pushes instead of sending them.
type Fanout struct {
	mu         sync.Mutex
	broadcasts []Delivery
	pushes     []Delivery
}

func (f *Fanout) Broadcast(chatID int, event models.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, Delivery{Target: chatID, Event: event})
	return 1
}

func (f *Fanout) Push(userID int, event models.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, Delivery{Target: userID, Event: event})
	return 1
}

// Broadcasts returns recorded room broadcasts of the given event type.
func (f *Fanout) Broadcasts(eventType string) []Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.broadcasts, eventType)
}

// Pushes returns recorded user pushes of the given event type.
func (f *Fanout) Pushes(eventType string) []Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.pushes, eventType)
}

func filter(deliveries []Delivery, eventType string) []Delivery {
	var out []Delivery
	for _, d := range deliveries {
		if d.Event.Type == eventType {
			out = append(out, d)
		}
	}
	return out
}
