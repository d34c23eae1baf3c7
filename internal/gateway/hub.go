package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

// Config carries the gateway's operational tuning knobs. The values are
// deployment choices, not protocol constants.
type Config struct {
	// QueueDepth bounds each session's outbound queue; exceeding it
	// disconnects the session (backpressure policy).
	QueueDepth int
	// PongWait is how long a connection may stay silent before it is
	// considered dead. Pings go out at 9/10 of this interval.
	PongWait time.Duration
	// WriteWait bounds a single socket write.
	WriteWait time.Duration
	// IdentifyWait bounds how long an unauthenticated socket may idle
	// before sending IDENTIFY.
	IdentifyWait time.Duration
	// MaxMessageSize limits inbound frames.
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		QueueDepth:     128,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		IdentifyWait:   30 * time.Second,
		MaxMessageSize: 4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.IdentifyWait <= 0 {
		c.IdentifyWait = d.IdentifyWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// Authenticator validates a bearer token and resolves the owning user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (snowflake.ID, error)
}

// SnapshotSource reads the state needed to build READY and GUILD_CREATE
// from persistence at identify time.
type SnapshotSource interface {
	UserSnapshot(ctx context.Context, userID snowflake.ID) (models.User, error)
	GuildIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
	GuildSnapshot(ctx context.Context, guildID snowflake.ID) (GuildSnapshot, error)
}

// PresenceStore records a user's presence so REST reads can report it.
// Gateway fan-out of PRESENCE_UPDATE does not depend on it.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID snowflake.ID, p models.Presence) error
}

// Hub is the shared state between all gateway connections: the session
// registry and the fan-out bus. It is constructed once at process start
// and passed to each connection handler; there are no ambient globals.
type Hub struct {
	log       *slog.Logger
	cfg       Config
	gate      Authenticator
	snapshots SnapshotSource
	presence  PresenceStore

	reg      *registry
	upgrader websocket.Upgrader

	// lifetime context for all sessions; canceled by Shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(log *slog.Logger, cfg Config, gate Authenticator, snapshots SnapshotSource, presence PresenceStore) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:       log,
		cfg:       cfg.withDefaults(),
		gate:      gate,
		snapshots: snapshots,
		presence:  presence,
		reg:       newRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeWS upgrades the request and runs the connection until it closes. The
// session runs on the hub's lifetime context, not the request's: net/http
// cancels r.Context() as soon as this handler returns, long before the
// client's IDENTIFY arrives, and the identify-time persistence reads must
// still have a live context then.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws_upgrade_failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s := newSession(h, conn)
	go s.run(h.ctx)
}

// Publish delivers an event to every session subscribed to guildID at call
// time. Two publishes for the same guild are serialized on that guild's
// shard lock, so all subscribers observe them in the same relative order.
// Sessions whose queue is full are disconnected, outside the lock.
func (h *Hub) Publish(guildID snowflake.ID, ev Event) {
	sh := h.reg.guildShard(guildID)

	var overflowed []*Session
	sh.mu.Lock()
	for s := range sh.subs[guildID] {
		if !s.enqueue(ev) {
			overflowed = append(overflowed, s)
		}
	}
	sh.mu.Unlock()

	for _, s := range overflowed {
		h.log.Warn("session_backpressure",
			"user_id", s.userID.String(),
			"guild_id", guildID.String(),
			"event", string(ev.Type),
		)
		s.close(ReasonBackpressure)
	}
}

// CloseUser force-closes every live session bound to userID. Called when
// the user is deleted or their credential is revoked mid-session.
func (h *Hub) CloseUser(userID snowflake.ID, reason CloseReason) {
	for _, s := range h.reg.sessionsOf(userID) {
		s.close(reason)
	}
}

// Shutdown cancels the session lifetime context and closes every session;
// part of process teardown.
func (h *Hub) Shutdown(ctx context.Context) {
	h.cancel()
	for _, s := range h.reg.all() {
		s.close(ReasonShutdown)
	}
}

// sessionIdentified runs after the snapshot is queued: presence goes
// ONLINE and the change fans out to the user's guilds.
func (h *Hub) sessionIdentified(s *Session) {
	h.log.Info("session_identified",
		"user_id", s.userID.String(),
		"guilds", len(s.guildIDs),
	)
	h.setPresence(s.userID, models.PresenceOnline)
	for _, gid := range s.guildIDs {
		h.Publish(gid, PresenceUpdateEvent(s.userID, gid, models.PresenceOnline))
	}
}

// sessionClosed runs once per identified session teardown. Presence drops
// to OFFLINE only when the user's last session is gone; other devices keep
// the user online.
func (h *Hub) sessionClosed(s *Session, remaining int) {
	if remaining != 0 {
		return
	}
	h.setPresence(s.userID, models.PresenceOffline)
	for _, gid := range s.guildIDs {
		h.Publish(gid, PresenceUpdateEvent(s.userID, gid, models.PresenceOffline))
	}
}

func (h *Hub) setPresence(userID snowflake.ID, p models.Presence) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.SetPresence(ctx, userID, p); err != nil {
		h.log.Warn("presence_update_failed", "user_id", userID.String(), "error", err)
	}
}
