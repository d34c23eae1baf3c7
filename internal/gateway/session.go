package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"guildchat/internal/auth"
	"guildchat/internal/logging"
	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

// Session states. The only transitions are
// stateConnected -> stateIdentified -> stateClosed and
// stateConnected -> stateClosed; there is no way back from closed.
const (
	stateConnected int32 = iota
	stateIdentified
	stateClosed
)

// CloseReason explains why a session reached stateClosed. It is sent as the
// close-frame text so the failure is observable client-side.
type CloseReason string

const (
	ReasonProtocolViolation CloseReason = "protocol_violation"
	ReasonAuthFailed        CloseReason = "authentication_failed"
	ReasonBackpressure      CloseReason = "backpressure"
	ReasonHeartbeatTimeout  CloseReason = "heartbeat_timeout"
	ReasonSocketError       CloseReason = "socket_error"
	ReasonClientClose       CloseReason = "client_close"
	ReasonUserRemoved       CloseReason = "user_removed"
	ReasonShutdown          CloseReason = "server_shutdown"
)

func (r CloseReason) closeCode() int {
	switch r {
	case ReasonProtocolViolation:
		return websocket.CloseUnsupportedData
	case ReasonAuthFailed:
		return websocket.ClosePolicyViolation
	case ReasonBackpressure:
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseNormalClosure
	}
}

// wsConn is the slice of *websocket.Conn the session uses, kept as an
// interface so tests can drive the state machine without sockets.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// Session is one gateway connection. It is runtime-only state: created on a
// successful IDENTIFY, destroyed on disconnect, never persisted or resumed.
type Session struct {
	hub  *Hub
	conn wsConn

	state atomic.Int32

	// set during identify, immutable afterwards
	userID   snowflake.ID
	guildIDs []snowflake.ID

	out  chan Event
	done chan struct{}

	closeOnce   sync.Once
	closeReason CloseReason
}

func newSession(hub *Hub, conn wsConn) *Session {
	return &Session{
		hub:  hub,
		conn: conn,
		out:  make(chan Event, hub.cfg.QueueDepth),
		done: make(chan struct{}),
	}
}

// UserID returns the authenticated user, or zero before IDENTIFY.
func (s *Session) UserID() snowflake.ID { return s.userID }

// enqueue pushes an event onto the outbound queue without blocking. A false
// return means the queue is full (slow consumer) and the caller must
// disconnect the session rather than drop the event silently.
func (s *Session) enqueue(ev Event) bool {
	select {
	case s.out <- ev:
		return true
	default:
		return false
	}
}

// close moves the session to stateClosed exactly once: registry entries are
// released, the outbound queue is abandoned, and the socket is closed with
// the reason. Safe to call from any goroutine on every exit path.
func (s *Session) close(reason CloseReason) {
	s.closeOnce.Do(func() {
		prev := s.state.Swap(stateClosed)
		s.closeReason = reason

		remaining := s.hub.reg.remove(s)
		close(s.done)

		msg := websocket.FormatCloseMessage(reason.closeCode(), string(reason))
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
		_ = s.conn.Close()

		if prev == stateIdentified {
			s.hub.sessionClosed(s, remaining)
		}
		s.hub.log.Info("session_closed",
			"user_id", s.userID.String(),
			"reason", string(reason),
		)
	})
}

// run owns the connection goroutine: handshake, then the read loop. The
// write pump runs alongside once the session is identified.
func (s *Session) run(ctx context.Context) {
	if err := s.handshake(ctx); err != nil {
		return
	}
	go s.writePump()
	s.readLoop()
}

// handshake waits for the IDENTIFY frame, authenticates it, subscribes the
// session to the user's guilds and queues the READY / GUILD_CREATE
// snapshot. Any other frame first, or an invalid token, is terminal.
func (s *Session) handshake(ctx context.Context) error {
	cfg := s.hub.cfg
	s.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.IdentifyWait))

	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		s.close(ReasonSocketError)
		return err
	}

	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event != string(EventIdentify) {
		s.sendInvalidSession("IDENTIFY expected")
		s.close(ReasonProtocolViolation)
		return errProtocolViolation
	}
	var ident identifyPayload
	if err := json.Unmarshal(msg.Data, &ident); err != nil || ident.Token == "" {
		s.sendInvalidSession("malformed IDENTIFY payload")
		s.close(ReasonProtocolViolation)
		return errProtocolViolation
	}

	// Bound the identify-time persistence reads; ctx is the hub's lifetime,
	// otherwise unbounded.
	ctx, cancel := context.WithTimeout(ctx, cfg.IdentifyWait)
	defer cancel()

	userID, err := s.hub.gate.Authenticate(ctx, ident.Token)
	if err != nil {
		s.hub.log.Warn("identify_rejected", "token", logging.MaskToken(ident.Token), "error", err)
		s.sendInvalidSession(authFailureDetail(err))
		s.close(ReasonAuthFailed)
		return err
	}
	s.userID = userID

	if err := s.subscribeAndSnapshot(ctx); err != nil {
		if errors.Is(err, errSessionClosed) {
			// force-closed mid-handshake; close already cleaned up
			return err
		}
		s.hub.log.Error("snapshot_failed", "user_id", userID.String(), "error", err)
		s.sendInvalidSession("snapshot unavailable")
		s.close(ReasonSocketError)
		return err
	}

	// A plain store would resurrect a session that close moved to
	// stateClosed while the snapshot was being queued.
	if !s.state.CompareAndSwap(stateConnected, stateIdentified) {
		return errSessionClosed
	}
	s.hub.sessionIdentified(s)
	return nil
}

// subscribeAndSnapshot queues READY, then per guild adds the session to the
// fan-out set and queues that guild's GUILD_CREATE under the same lock
// Publish takes. A client therefore never sees an incremental event before
// the snapshot that establishes it.
func (s *Session) subscribeAndSnapshot(ctx context.Context) error {
	user, err := s.hub.snapshots.UserSnapshot(ctx, s.userID)
	if err != nil {
		return err
	}
	guildIDs, err := s.hub.snapshots.GuildIDs(ctx, s.userID)
	if err != nil {
		return err
	}

	snaps := make([]GuildSnapshot, 0, len(guildIDs))
	guilds := make([]models.Guild, 0, len(guildIDs))
	for _, gid := range guildIDs {
		snap, err := s.hub.snapshots.GuildSnapshot(ctx, gid)
		if err != nil {
			return err
		}
		snaps = append(snaps, snap)
		guilds = append(guilds, snap.Guild)
	}

	user.Presence = models.PresenceOnline
	// The queue is empty here, so READY plus one snapshot per guild cannot
	// overflow unless the configured depth is smaller than the guild count.
	if !s.enqueue(ReadyEvent(user, guilds)) {
		return errQueueFull
	}

	s.guildIDs = guildIDs
	if !s.hub.reg.addUser(s) {
		return errSessionClosed
	}
	for _, snap := range snaps {
		snap := snap
		overflow := false
		if !s.hub.reg.subscribe(s, snap.Guild.ID, func() {
			overflow = !s.enqueue(GuildCreateEvent(snap))
		}) {
			return errSessionClosed
		}
		if overflow {
			return errQueueFull
		}
	}
	return nil
}

// readLoop consumes inbound frames after identification. Clients have no
// post-IDENTIFY events; the loop exists to service ping/pong heartbeats and
// to notice the peer going away. Any data frame is a protocol violation.
func (s *Session) readLoop() {
	cfg := s.hub.cfg
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, _, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
				s.close(ReasonHeartbeatTimeout)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.close(ReasonClientClose)
			default:
				s.close(ReasonSocketError)
			}
			return
		}
		// Duplicate IDENTIFY or anything else: drop the connection.
		s.close(ReasonProtocolViolation)
		return
	}
}

// writePump serializes queued events onto the socket and keeps the
// heartbeat going. It exits when the session closes or a write fails.
func (s *Session) writePump() {
	cfg := s.hub.cfg
	pingPeriod := cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.out:
			data, err := json.Marshal(ev)
			if err != nil {
				s.hub.log.Error("event_marshal_failed", "event", string(ev.Type), "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close(ReasonSocketError)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close(ReasonSocketError)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) sendInvalidSession(detail string) {
	data, err := json.Marshal(InvalidSessionEvent(detail))
	if err != nil {
		return
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteWait))
	_ = s.conn.WriteMessage(websocket.TextMessage, data)
}

func authFailureDetail(err error) string {
	switch {
	case errors.Is(err, auth.ErrRevoked):
		return "credential revoked"
	case errors.Is(err, auth.ErrStale):
		return "token superseded by credential change"
	default:
		return "invalid token"
	}
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

var (
	errProtocolViolation = errors.New("gateway: protocol violation")
	errQueueFull         = errors.New("gateway: outbound queue full")
	errSessionClosed     = errors.New("gateway: session force-closed during handshake")
)
