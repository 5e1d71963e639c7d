package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pairchat/internal/models"
)

type fakeConn struct {
	id     string
	user   int
	mu     sync.Mutex
	frames []models.Event
	fail   error
	closed bool
}

func newFakeConn(id string, user int) *fakeConn {
	return &fakeConn{id: id, user: user}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) UserID() int { return c.user }

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	c.frames = append(c.frames, event)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) received() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.frames...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type presenceCall struct {
	userID   int
	online   bool
	lastSeen time.Time
}

type recordingListener struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (l *recordingListener) UserOnline(_ context.Context, userID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, presenceCall{userID: userID, online: true})
}

func (l *recordingListener) UserOffline(_ context.Context, userID int, lastSeen time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, presenceCall{userID: userID, lastSeen: lastSeen})
}

func (l *recordingListener) snapshot() []presenceCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]presenceCall(nil), l.calls...)
}
