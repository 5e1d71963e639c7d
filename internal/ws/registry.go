package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/models"
)

const (
	DefaultGracePeriod = 5 * time.Second
	presenceTimeout    = 5 * time.Second
	presenceLanes      = 64
)

// PresenceListener receives durable presence transitions.
type PresenceListener interface {
	UserOnline(ctx context.Context, userID int)
	UserOffline(ctx context.Context, userID int, lastSeen time.Time)
}

type userEntry struct {
	conns map[string]Conn
	timer *time.Timer
	gen   uint64
}

// Registry maps users to their live connections and debounces presence.
// When the last connection of a user drops a grace timer starts; a reconnect
// before it fires cancels it without touching durable presence.
//
// Each entry carries a generation counter that is bumped whenever its timer
// is armed or cancelled. A timer callback only acts when its generation is
// still current, so a cancel that loses the race against a firing timer is a
// no-op. Listener calls for one user are serialized through a lane mutex so
// an offline write can never land after the online write of a reconnect.
type Registry struct {
	mu       sync.Mutex
	users    map[int]*userEntry
	lanes    [presenceLanes]sync.Mutex
	grace    time.Duration
	listener PresenceListener
	clock    func() time.Time
	logger   *zap.Logger
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	GracePeriod time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		users:  make(map[int]*userEntry),
		grace:  cfg.GracePeriod,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if r.grace <= 0 {
		r.grace = DefaultGracePeriod
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// SetPresenceListener attaches the durable presence sink. Call it before the
// registry receives connections.
func (r *Registry) SetPresenceListener(listener PresenceListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = listener
}

func (r *Registry) lane(userID int) *sync.Mutex {
	idx := userID % presenceLanes
	if idx < 0 {
		idx = -idx
	}
	return &r.lanes[idx]
}

// Register adds conn to the user's set and cancels a pending offline timer.
// The first connection of a user who is not in the grace period marks the
// user online.
func (r *Registry) Register(ctx context.Context, userID int, conn Conn) {
	lane := r.lane(userID)
	lane.Lock()
	defer lane.Unlock()

	r.mu.Lock()
	entry, ok := r.users[userID]
	wentOnline := !ok
	if !ok {
		entry = &userEntry{conns: make(map[string]Conn)}
		r.users[userID] = entry
	}
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
		entry.gen++
		r.logger.Debug("presence grace cancelled", zap.Int("user_id", userID))
	}
	entry.conns[conn.ID()] = conn
	listener := r.listener
	r.mu.Unlock()

	if wentOnline && listener != nil {
		listener.UserOnline(ctx, userID)
	}
}

// Unregister removes conn. When it was the user's last connection the grace
// timer starts.
func (r *Registry) Unregister(userID int, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[userID]
	if !ok {
		return
	}
	delete(entry.conns, conn.ID())
	if len(entry.conns) > 0 || entry.timer != nil {
		return
	}
	entry.gen++
	gen := entry.gen
	entry.timer = time.AfterFunc(r.grace, func() { r.expire(userID, gen) })
	r.logger.Debug("presence grace started", zap.Int("user_id", userID), zap.Duration("grace", r.grace))
}

func (r *Registry) expire(userID int, gen uint64) {
	lane := r.lane(userID)
	lane.Lock()
	defer lane.Unlock()

	r.mu.Lock()
	entry, ok := r.users[userID]
	if !ok || entry.gen != gen || len(entry.conns) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.users, userID)
	listener := r.listener
	r.mu.Unlock()

	if listener == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	listener.UserOffline(ctx, userID, r.clock())
}

// ConnectionsOf returns a snapshot of the user's live connections. Unknown
// users have none.
func (r *Registry) ConnectionsOf(userID int) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.users[userID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(entry.conns))
	for _, conn := range entry.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Online reports whether the user is tracked, including the grace period.
func (r *Registry) Online(userID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	return ok
}

// Push sends event to every live connection of the user and returns how many
// accepted it.
func (r *Registry) Push(userID int, event models.Event) int {
	conns := r.ConnectionsOf(userID)
	if len(conns) == 0 {
		return 0
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("marshal user event", zap.String("type", event.Type), zap.Error(err))
		return 0
	}
	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			r.logger.Warn("push to connection failed",
				zap.Int("user_id", userID),
				zap.String("conn_id", conn.ID()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Close shuts the registry down: grace timers are stopped, every live
// connection is closed and every tracked user, connected or in grace, is
// marked offline. Connections that unregister afterwards are ignored.
func (r *Registry) Close() {
	r.mu.Lock()
	users := r.users
	r.users = make(map[int]*userEntry)
	for _, entry := range users {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		entry.gen++
	}
	listener := r.listener
	r.mu.Unlock()

	lastSeen := r.clock()
	for userID, entry := range users {
		for _, conn := range entry.conns {
			conn.Close()
		}
		r.flushOffline(listener, userID, lastSeen)
	}
	r.logger.Info("connection registry closed", zap.Int("users", len(users)))
}

func (r *Registry) flushOffline(listener PresenceListener, userID int, lastSeen time.Time) {
	if listener == nil {
		return
	}
	lane := r.lane(userID)
	lane.Lock()
	defer lane.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	listener.UserOffline(ctx, userID, lastSeen)
}
