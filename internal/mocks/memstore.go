package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pairchat/internal/models"
	"pairchat/internal/repositories"
)

var (
	_ repositories.ChatRepository    = (*Store)(nil)
	_ repositories.MessageRepository = (*Store)(nil)
	_ repositories.UnreadRepository  = (*Store)(nil)
	_ repositories.BlockRepository   = (*Store)(nil)
	_ repositories.UserRepository    = (*Store)(nil)
)

type pairKey struct{ a, b int }

// PresenceWrite records a SetPresence call.
type PresenceWrite struct {
	UserID   int
	Online   bool
	LastSeen *time.Time
}

// Store is an in-memory implementation of every repository interface. It
// enforces the same uniqueness and upsert rules as the SQL schema so service
// tests can exercise concurrent callers.
type Store struct {
	mu         sync.Mutex
	clock      func() time.Time
	users      map[int]models.User
	chats      map[int]models.Chat
	chatByPair map[pairKey]int
	messages   map[int64]models.Message
	byClientID map[string]int64
	unread     map[pairKey]int
	reads      map[pairKey]int64
	seen       map[pairKey]int64
	blocks     map[pairKey]time.Time
	presence   []PresenceWrite
	nextChat   int
	nextMsg    int64

	// PresenceErr, when set, is returned by SetPresence after recording the call.
	PresenceErr error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		clock:      time.Now,
		users:      map[int]models.User{},
		chats:      map[int]models.Chat{},
		chatByPair: map[pairKey]int{},
		messages:   map[int64]models.Message{},
		byClientID: map[string]int64{},
		unread:     map[pairKey]int{},
		reads:      map[pairKey]int64{},
		seen:       map[pairKey]int64{},
		blocks:     map[pairKey]time.Time{},
	}
}

// AddUser seeds a user profile.
func (s *Store) AddUser(id int, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = models.User{ID: id, Username: username}
}

// MessageCount returns how many messages a chat holds.
func (s *Store) MessageCount(chatID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		if msg.ChatID == chatID {
			count++
		}
	}
	return count
}

// PresenceWrites returns the recorded SetPresence calls in order.
func (s *Store) PresenceWrites() []PresenceWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PresenceWrite(nil), s.presence...)
}

func (s *Store) FindChatByParticipants(_ context.Context, userID int, partnerID int) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, b := repositories.OrderedPair(userID, partnerID)
	id, ok := s.chatByPair[pairKey{a, b}]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return s.chats[id], nil
}

func (s *Store) CreateOrGetChat(_ context.Context, userID int, partnerID int) (models.Chat, bool, error) {
	if userID == partnerID {
		return models.Chat{}, false, errors.New("cannot create chat with self")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, b := repositories.OrderedPair(userID, partnerID)
	if id, ok := s.chatByPair[pairKey{a, b}]; ok {
		return s.chats[id], false, nil
	}
	s.nextChat++
	chat := models.Chat{ID: s.nextChat, User1ID: a, User2ID: b, CreatedAt: s.clock()}
	s.chats[chat.ID] = chat
	s.chatByPair[pairKey{a, b}] = chat.ID
	s.unread[pairKey{chat.ID, a}] = 0
	s.unread[pairKey{chat.ID, b}] = 0
	return chat, true, nil
}

func (s *Store) GetChat(_ context.Context, chatID int) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return chat, nil
}

func (s *Store) ListChats(_ context.Context, userID int) ([]models.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []models.ChatSummary{}
	for _, chat := range s.chats {
		if !chat.HasParticipant(userID) {
			continue
		}
		partner := s.users[chat.PartnerOf(userID)]
		result = append(result, models.ChatSummary{
			ChatID:          chat.ID,
			LastMessage:     chat.LastMessage,
			LastMessageUser: chat.LastMessageUser,
			LastMessageTime: chat.LastMessageTime,
			UnreadCount:     s.unread[pairKey{chat.ID, userID}],
			PartnerID:       chat.PartnerOf(userID),
			PartnerUsername: partner.Username,
			PartnerAvatar:   partner.Avatar,
			PartnerOnline:   partner.Online,
			PartnerLastSeen: partner.LastSeen,
			CreatedAt:       chat.CreatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return activity(result[i]).After(activity(result[j]))
	})
	return result, nil
}

func activity(summary models.ChatSummary) time.Time {
	if summary.LastMessageTime != nil {
		return *summary.LastMessageTime
	}
	return summary.CreatedAt
}

func (s *Store) PartnerIDs(_ context.Context, userID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for _, chat := range s.chats {
		if chat.HasParticipant(userID) {
			ids = append(ids, chat.PartnerOf(userID))
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *Store) RefreshLastMessage(_ context.Context, chatID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	chat.LastMessage, chat.LastMessageUser, chat.LastMessageTime = nil, nil, nil
	if latest, ok := s.latestLocked(chatID); ok {
		text, sender, at := latest.Text, latest.SenderID, latest.CreatedAt
		chat.LastMessage, chat.LastMessageUser, chat.LastMessageTime = &text, &sender, &at
	}
	s.chats[chatID] = chat
	return nil
}

func (s *Store) DeleteChat(_ context.Context, chatID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return repositories.ErrChatNotFound
	}
	delete(s.chats, chatID)
	delete(s.chatByPair, pairKey{chat.User1ID, chat.User2ID})
	for id, msg := range s.messages {
		if msg.ChatID == chatID {
			delete(s.messages, id)
			delete(s.byClientID, msg.ClientID)
		}
	}
	for _, userID := range []int{chat.User1ID, chat.User2ID} {
		delete(s.unread, pairKey{chatID, userID})
		delete(s.reads, pairKey{chatID, userID})
		delete(s.seen, pairKey{chatID, userID})
	}
	return nil
}

func (s *Store) AppendMessage(_ context.Context, in repositories.NewMessage) (repositories.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byClientID[in.ClientID]; ok {
		return repositories.AppendResult{Message: s.messages[id]}, nil
	}
	chat, ok := s.chats[in.ChatID]
	if !ok {
		return repositories.AppendResult{}, errors.New("foreign key violation: chat")
	}

	s.nextMsg++
	msg := models.Message{
		ID:        s.nextMsg,
		ChatID:    in.ChatID,
		SenderID:  in.SenderID,
		ClientID:  in.ClientID,
		Text:      in.Text,
		CreatedAt: s.clock(),
	}
	s.messages[msg.ID] = msg
	s.byClientID[msg.ClientID] = msg.ID

	text, sender, at := msg.Text, msg.SenderID, msg.CreatedAt
	chat.LastMessage, chat.LastMessageUser, chat.LastMessageTime = &text, &sender, &at
	s.chats[chat.ID] = chat

	key := pairKey{in.ChatID, in.RecipientID}
	s.unread[key]++
	return repositories.AppendResult{Message: msg, RecipientUnread: s.unread[key], Inserted: true}, nil
}

func (s *Store) GetMessage(_ context.Context, messageID int64) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (s *Store) GetMessageByClientID(_ context.Context, clientID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byClientID[clientID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return s.messages[id], nil
}

func (s *Store) ListMessages(_ context.Context, chatID int, limit int, beforeID int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var page []models.Message
	for _, msg := range s.messages {
		if msg.ChatID == chatID && (beforeID == 0 || msg.ID < beforeID) {
			page = append(page, msg)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID > page[j].ID })
	if len(page) > limit {
		page = page[:limit]
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if page == nil {
		page = []models.Message{}
	}
	return page, nil
}

func (s *Store) LatestMessage(_ context.Context, chatID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.latestLocked(chatID)
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (s *Store) latestLocked(chatID int) (models.Message, bool) {
	var latest models.Message
	found := false
	for _, msg := range s.messages {
		if msg.ChatID == chatID && (!found || msg.ID > latest.ID) {
			latest, found = msg, true
		}
	}
	return latest, found
}

func (s *Store) UpdateText(_ context.Context, messageID int64, text string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	now := s.clock()
	msg.Text = text
	msg.UpdatedAt = &now
	s.messages[messageID] = msg
	return msg, nil
}

func (s *Store) DeleteMessage(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return repositories.ErrMessageNotFound
	}
	delete(s.messages, messageID)
	delete(s.byClientID, msg.ClientID)
	return nil
}

func (s *Store) DecrementUnread(_ context.Context, chatID int, userID int, messageID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{chatID, userID}
	count, ok := s.unread[key]
	if !ok || messageID <= s.seen[key] {
		return count, nil
	}
	if count > 0 {
		count--
	}
	s.unread[key] = count
	return count, nil
}

func (s *Store) ZeroUnread(_ context.Context, chatID int, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{chatID, userID}
	s.unread[key] = 0
	if latest, ok := s.latestLocked(chatID); ok && latest.ID > s.seen[key] {
		s.seen[key] = latest.ID
	}
	return nil
}

func (s *Store) UnreadCount(_ context.Context, chatID int, userID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[pairKey{chatID, userID}], nil
}

func (s *Store) UnreadCounts(_ context.Context, userID int) (map[int]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[int]int{}
	for key, count := range s.unread {
		if key.b == userID {
			counts[key.a] = count
		}
	}
	return counts, nil
}

func (s *Store) ReadCursor(_ context.Context, chatID int, userID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[pairKey{chatID, userID}], nil
}

func (s *Store) UpsertReadCursorMax(_ context.Context, chatID int, userID int, messageID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{chatID, userID}
	if messageID > s.reads[key] {
		s.reads[key] = messageID
	}
	return s.reads[key], nil
}

func (s *Store) BlockExists(_ context.Context, userID int, otherID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, forward := s.blocks[pairKey{userID, otherID}]
	_, backward := s.blocks[pairKey{otherID, userID}]
	return forward || backward, nil
}

func (s *Store) IsBlocking(_ context.Context, blockerID int, blockedID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[pairKey{blockerID, blockedID}]
	return ok, nil
}

func (s *Store) Block(_ context.Context, blockerID int, blockedID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{blockerID, blockedID}
	if _, ok := s.blocks[key]; ok {
		return repositories.ErrAlreadyBlocked
	}
	s.blocks[key] = s.clock()
	return nil
}

func (s *Store) Unblock(_ context.Context, blockerID int, blockedID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{blockerID, blockedID}
	if _, ok := s.blocks[key]; !ok {
		return repositories.ErrBlockNotFound
	}
	delete(s.blocks, key)
	return nil
}

func (s *Store) GetUser(_ context.Context, userID int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return user, nil
}

func (s *Store) SetPresence(_ context.Context, userID int, online bool, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, PresenceWrite{UserID: userID, Online: online, LastSeen: lastSeen})
	if s.PresenceErr != nil {
		return s.PresenceErr
	}
	if user, ok := s.users[userID]; ok {
		user.Online = online
		if lastSeen != nil {
			seen := *lastSeen
			user.LastSeen = &seen
		}
		s.users[userID] = user
	}
	return nil
}

func (s *Store) SetAvatar(_ context.Context, userID int, avatar *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	user.Avatar = avatar
	s.users[userID] = user
	return nil
}
