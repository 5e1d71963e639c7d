package repositories

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"pairchat/internal/db"
	"pairchat/internal/models"
)

var (
	testDB      *sqlx.DB
	skipReason  string
	resetSchema sync.Mutex
)

// TestMain starts a throwaway Postgres. Without docker, or with -short, the
// SQL tests are skipped.
func TestMain(m *testing.M) {
	code := run(m)
	os.Exit(code)
}

func run(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if os.Getenv("PAIRCHAT_SKIP_CONTAINERS") != "" {
		skipReason = "PAIRCHAT_SKIP_CONTAINERS set"
		return m.Run()
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pairchat",
				"POSTGRES_PASSWORD": "pairchat",
				"POSTGRES_DB":       "pairchat",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		skipReason = fmt.Sprintf("postgres container unavailable: %v", err)
		return m.Run()
	}
	defer container.Terminate(context.Background()) //nolint:errcheck

	host, err := container.Host(ctx)
	if err != nil {
		skipReason = err.Error()
		return m.Run()
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		skipReason = err.Error()
		return m.Run()
	}

	dsn := fmt.Sprintf("postgres://pairchat:pairchat@%s:%s/pairchat?sslmode=disable", host, port.Port())
	testDB, err = db.Connect(ctx, dsn, zap.NewNop())
	if err != nil {
		skipReason = fmt.Sprintf("connect: %v", err)
		return m.Run()
	}
	defer testDB.Close()

	return m.Run()
}

func requireDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping SQL test in short mode")
	}
	if testDB == nil {
		t.Skip(skipReason)
	}
	resetSchema.Lock()
	t.Cleanup(resetSchema.Unlock)
	_, err := testDB.Exec(`TRUNCATE users, chats, messages, chat_unread, chat_reads, user_blocks RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	_, err = testDB.Exec(`INSERT INTO users (username) VALUES ('alice'), ('bob'), ('carol')`)
	require.NoError(t, err)
	return testDB
}

func TestChatRepoCreateOrGetIsCommutative(t *testing.T) {
	database := requireDB(t)
	repo := NewChatRepo(database)
	ctx := context.Background()

	first, created, err := repo.CreateOrGetChat(ctx, 2, 1)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 1, first.User1ID)
	require.Equal(t, 2, first.User2ID)

	second, created, err := repo.CreateOrGetChat(ctx, 1, 2)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	found, err := repo.FindChatByParticipants(ctx, 2, 1)
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)

	_, err = repo.FindChatByParticipants(ctx, 1, 3)
	require.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatRepoConcurrentCreateYieldsOneChat(t *testing.T) {
	database := requireDB(t)
	repo := NewChatRepo(database)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int]struct{}{}
		creates int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := 1, 2
			if i%2 == 0 {
				a, b = b, a
			}
			chat, created, err := repo.CreateOrGetChat(ctx, a, b)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[chat.ID] = struct{}{}
			if created {
				creates++
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, ids, 1)
	require.Equal(t, 1, creates)
}

func TestMessageRepoAppendIsIdempotentAndCountsUnread(t *testing.T) {
	database := requireDB(t)
	chats := NewChatRepo(database)
	messages := NewMessageRepo(database)
	unread := NewUnreadRepo(database)
	ctx := context.Background()

	chat, _, err := chats.CreateOrGetChat(ctx, 1, 2)
	require.NoError(t, err)

	in := NewMessage{ChatID: chat.ID, SenderID: 1, RecipientID: 2, Text: "hi", ClientID: "m-1"}
	first, err := messages.AppendMessage(ctx, in)
	require.NoError(t, err)
	require.True(t, first.Inserted)
	require.Equal(t, 1, first.RecipientUnread)

	retry, err := messages.AppendMessage(ctx, in)
	require.NoError(t, err)
	require.False(t, retry.Inserted)
	require.Equal(t, first.Message.ID, retry.Message.ID)

	count, err := unread.UnreadCount(ctx, chat.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stored, err := chats.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessage)
	require.Equal(t, "hi", *stored.LastMessage)
}

func TestMessageRepoPagingAndRefresh(t *testing.T) {
	database := requireDB(t)
	chats := NewChatRepo(database)
	messages := NewMessageRepo(database)
	ctx := context.Background()

	chat, _, err := chats.CreateOrGetChat(ctx, 1, 2)
	require.NoError(t, err)
	var ids []int64
	for i := 0; i < 5; i++ {
		res, err := messages.AppendMessage(ctx, NewMessage{
			ChatID: chat.ID, SenderID: 1, RecipientID: 2, Text: fmt.Sprintf("m%d", i), ClientID: fmt.Sprintf("c%d", i),
		})
		require.NoError(t, err)
		ids = append(ids, res.Message.ID)
	}

	page, err := messages.ListMessages(ctx, chat.ID, 2, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{ids[3], ids[4]}, []int64{page[0].ID, page[1].ID})

	page, err = messages.ListMessages(ctx, chat.ID, 10, ids[2])
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[0], page[0].ID)

	require.NoError(t, messages.DeleteMessage(ctx, ids[4]))
	require.ErrorIs(t, messages.DeleteMessage(ctx, ids[4]), ErrMessageNotFound)
	require.NoError(t, chats.RefreshLastMessage(ctx, chat.ID))
	stored, err := chats.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, "m3", *stored.LastMessage)

	updated, err := messages.UpdateText(ctx, ids[3], "edited")
	require.NoError(t, err)
	require.NotNil(t, updated.UpdatedAt)
}

func TestUnreadRepoCursorNeverRegresses(t *testing.T) {
	database := requireDB(t)
	chats := NewChatRepo(database)
	unread := NewUnreadRepo(database)
	ctx := context.Background()

	chat, _, err := chats.CreateOrGetChat(ctx, 1, 2)
	require.NoError(t, err)

	cursor, err := unread.UpsertReadCursorMax(ctx, chat.ID, 2, 10)
	require.NoError(t, err)
	require.EqualValues(t, 10, cursor)

	cursor, err = unread.UpsertReadCursorMax(ctx, chat.ID, 2, 4)
	require.NoError(t, err)
	require.EqualValues(t, 10, cursor)

	count, err := unread.DecrementUnread(ctx, chat.ID, 2, 11)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	require.NoError(t, unread.ZeroUnread(ctx, chat.ID, 1))
	counts, err := unread.UnreadCounts(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, map[int]int{chat.ID: 0}, counts)
}

func TestUnreadRepoDecrementSkipsSeenMessages(t *testing.T) {
	database := requireDB(t)
	chats := NewChatRepo(database)
	messages := NewMessageRepo(database)
	unread := NewUnreadRepo(database)
	ctx := context.Background()

	chat, _, err := chats.CreateOrGetChat(ctx, 1, 2)
	require.NoError(t, err)
	seen, err := messages.AppendMessage(ctx, NewMessage{ChatID: chat.ID, SenderID: 1, RecipientID: 2, Text: "old", ClientID: "w-1"})
	require.NoError(t, err)
	require.NoError(t, unread.ZeroUnread(ctx, chat.ID, 2))
	fresh, err := messages.AppendMessage(ctx, NewMessage{ChatID: chat.ID, SenderID: 1, RecipientID: 2, Text: "new", ClientID: "w-2"})
	require.NoError(t, err)
	require.Equal(t, 1, fresh.RecipientUnread)

	count, err := unread.DecrementUnread(ctx, chat.ID, 2, seen.Message.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = unread.DecrementUnread(ctx, chat.ID, 2, fresh.Message.ID)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestMessageRepoConcurrentAppendsKeepNewestSummary(t *testing.T) {
	database := requireDB(t)
	chats := NewChatRepo(database)
	messages := NewMessageRepo(database)
	ctx := context.Background()

	chat, _, err := chats.CreateOrGetChat(ctx, 1, 2)
	require.NoError(t, err)

	const writers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		newest models.Message
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := messages.AppendMessage(ctx, NewMessage{
				ChatID: chat.ID, SenderID: 1, RecipientID: 2, Text: fmt.Sprintf("w%d", i), ClientID: fmt.Sprintf("cw-%d", i),
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			if res.Message.ID > newest.ID {
				newest = res.Message
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	stored, err := chats.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessage)
	require.Equal(t, newest.Text, *stored.LastMessage)
}

func TestBlockAndPresenceRepos(t *testing.T) {
	database := requireDB(t)
	blocks := NewBlockRepo(database)
	users := NewUserRepo(database)
	ctx := context.Background()

	require.NoError(t, blocks.Block(ctx, 1, 2))
	require.ErrorIs(t, blocks.Block(ctx, 1, 2), ErrAlreadyBlocked)

	exists, err := blocks.BlockExists(ctx, 2, 1)
	require.NoError(t, err)
	require.True(t, exists)

	blocking, err := blocks.IsBlocking(ctx, 2, 1)
	require.NoError(t, err)
	require.False(t, blocking)

	require.NoError(t, blocks.Unblock(ctx, 1, 2))
	require.ErrorIs(t, blocks.Unblock(ctx, 1, 2), ErrBlockNotFound)

	seen := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, users.SetPresence(ctx, 1, false, &seen))
	require.NoError(t, users.SetPresence(ctx, 1, true, nil))
	user, err := users.GetUser(ctx, 1)
	require.NoError(t, err)
	require.True(t, user.Online)
	require.NotNil(t, user.LastSeen)
	require.True(t, seen.Equal(*user.LastSeen))

	_, err = users.GetUser(ctx, 99)
	require.ErrorIs(t, err, ErrUserNotFound)

	avatar := "https://cdn.example/alice.png"
	require.NoError(t, users.SetAvatar(ctx, 1, &avatar))
	user, err = users.GetUser(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, avatar, *user.Avatar)
	require.NoError(t, users.SetAvatar(ctx, 1, nil))
	require.ErrorIs(t, users.SetAvatar(ctx, 99, nil), ErrUserNotFound)
}
