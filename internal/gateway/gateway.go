package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/etmpass/notifications-service/api/responses"
	"github.com/etmpass/notifications-service/internal/realtime"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/metrics"
)

const (
	DefaultAckTimeout = 5 * time.Second

	userHeader     = "X-User-Id"
	userQueryParam = "userId"
	userRoomPrefix = "user:"
)

var (
	ErrUnauthenticated = errors.New("user id is required")
	ErrRateLimited     = errors.New("too many connection attempts")
)

// Presence is the registry the gateway keeps current on connect and disconnect.
type Presence interface {
	Add(userID int64, sessionID string)
	Remove(userID int64, sessionID string)
	Count() int
}

type Params struct {
	Presence       Presence
	Admission      *Admission
	Logger         *logger.Logger
	Metrics        *metrics.DeliveryMetrics
	AckTimeout     time.Duration
	AllowedOrigins []string
	// TrustProxy keys admission on forwarding headers instead of the TCP peer.
	// Enable only behind a proxy that overwrites them.
	TrustProxy bool
}

// Gateway terminates notification WebSockets. Every session joins the room of
// its user; SendToUser fans out to that room and waits for every ack.
type Gateway struct {
	presence   Presence
	admission  *Admission
	logg       *logger.Logger
	metrics    *metrics.DeliveryMetrics
	ackTimeout time.Duration
	trustProxy bool
	upgrader   websocket.Upgrader
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	rooms    map[string]map[string]*session
}

func New(p Params) (*Gateway, error) {
	if p.Presence == nil {
		return nil, errors.New("presence registry is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	admission := p.Admission
	if admission == nil {
		admission = NewAdmission(DefaultConnectPoints, DefaultConnectDuration)
	}
	ackTimeout := p.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}

	g := &Gateway{
		presence:   p.Presence,
		admission:  admission,
		logg:       p.Logger,
		metrics:    p.Metrics,
		ackTimeout: ackTimeout,
		trustProxy: p.TrustProxy,
		now:        time.Now,
		sessions:   make(map[string]*session),
		rooms:      make(map[string]map[string]*session),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(p.AllowedOrigins),
	}
	return g, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := map[string]struct{}{}
	for _, origin := range allowed {
		if o := strings.TrimSpace(origin); o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP admits, authenticates and upgrades a connection attempt.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr := clientIP(r, g.trustProxy)
	ctx = g.logg.WithField(ctx, "remote_addr", addr)

	if !g.admission.Allow(addr) {
		g.metrics.IncConnection("rate_limited")
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeRateLimit, ErrRateLimited, "too many connection attempts"))
		return
	}

	userID, err := userFromHandshake(r)
	if err != nil {
		g.metrics.IncConnection("unauthenticated")
		g.logg.Warn(ctx, "client connected without userId, disconnecting")
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, ErrUnauthenticated, err.Error()))
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.metrics.IncConnection("upgrade_failed")
		g.logg.Warn(g.logg.WithField(ctx, "error", err.Error()), "websocket upgrade failed")
		return
	}

	s := newSession(g, conn, userID, addr)
	g.connect(s)

	go s.writePump()
	go s.readPump()
}

func userFromHandshake(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(userHeader))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get(userQueryParam))
	}
	if raw == "" {
		return 0, ErrUnauthenticated
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func userRoom(userID int64) string {
	return userRoomPrefix + strconv.FormatInt(userID, 10)
}

func (g *Gateway) connect(s *session) {
	g.mu.Lock()
	g.sessions[s.id] = s
	g.joinLocked(s, userRoom(s.userID))
	g.mu.Unlock()

	g.presence.Add(s.userID, s.id)
	g.metrics.IncConnection("accepted")
	g.metrics.SetOnline(g.presence.Count())

	ctx := g.sessionContext(s)
	g.logg.Info(ctx, fmt.Sprintf("user %d connected", s.userID))

	if err := s.emitEvent(EventConnected, statusData{Status: "success", Timestamp: g.now().UTC()}); err != nil {
		g.logg.Warn(ctx, "failed to confirm connection: "+err.Error())
	}
}

func (g *Gateway) disconnect(s *session) {
	g.mu.Lock()
	_, known := g.sessions[s.id]
	delete(g.sessions, s.id)
	for room := range s.rooms {
		g.leaveLocked(s, room)
	}
	g.mu.Unlock()

	s.close()
	if !known {
		return
	}

	g.presence.Remove(s.userID, s.id)
	g.metrics.SetOnline(g.presence.Count())
	g.logg.Info(g.sessionContext(s), fmt.Sprintf("user %d disconnected", s.userID))
}

// joinLocked and leaveLocked require g.mu held for writing.
func (g *Gateway) joinLocked(s *session, room string) {
	members, ok := g.rooms[room]
	if !ok {
		members = make(map[string]*session)
		g.rooms[room] = members
	}
	members[s.id] = s
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

func (g *Gateway) leaveLocked(s *session, room string) {
	if members, ok := g.rooms[room]; ok {
		delete(members, s.id)
		if len(members) == 0 {
			delete(g.rooms, room)
		}
	}
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

func (g *Gateway) handleFrame(s *session, frame Frame) {
	ctx := g.sessionContext(s)
	switch frame.Event {
	case EventAck:
		s.resolveAck(frame.AckID, frame.Data)
	case EventPing:
		_ = s.emitEvent(EventPong, timestampData{Timestamp: g.now().UTC()})
	case EventSubscribe:
		g.subscribe(ctx, s, g.roomFor(s, frame.Data))
	case EventUnsubscribe:
		g.unsubscribe(ctx, s, g.roomFor(s, frame.Data))
	default:
		g.logg.Debug(ctx, "ignoring unknown event "+frame.Event)
	}
}

func (g *Gateway) subscribe(ctx context.Context, s *session, room string) {
	if err := g.checkRoom(s, room); err != nil {
		_ = s.emitEvent(EventError, statusData{Status: "error", Room: room, Message: err.Error(), Timestamp: g.now().UTC()})
		return
	}
	g.mu.Lock()
	g.joinLocked(s, room)
	g.mu.Unlock()

	g.logg.Info(ctx, fmt.Sprintf("user %d subscribed to %s", s.userID, room))
	_ = s.emitEvent(EventSubscribed, statusData{Status: "success", Room: room, Timestamp: g.now().UTC()})
}

// unsubscribe may also leave the user's own room; deliveries to that user
// then find no session and are retried by the engine.
func (g *Gateway) unsubscribe(ctx context.Context, s *session, room string) {
	if err := g.checkRoom(s, room); err != nil {
		_ = s.emitEvent(EventError, statusData{Status: "error", Room: room, Message: err.Error(), Timestamp: g.now().UTC()})
		return
	}
	g.mu.Lock()
	g.leaveLocked(s, room)
	g.mu.Unlock()

	g.logg.Info(ctx, fmt.Sprintf("user %d unsubscribed from %s", s.userID, room))
	_ = s.emitEvent(EventUnsubscribed, statusData{Status: "success", Room: room, Timestamp: g.now().UTC()})
}

// roomFor names the room of a subscribe or unsubscribe frame. A frame
// without a room targets the caller's own user room.
func (g *Gateway) roomFor(s *session, data json.RawMessage) string {
	if room := roomFromData(data); room != "" {
		return room
	}
	return userRoom(s.userID)
}

// checkRoom rejects other users' private rooms.
func (g *Gateway) checkRoom(s *session, room string) error {
	if strings.HasPrefix(room, userRoomPrefix) && room != userRoom(s.userID) {
		return errors.New("cannot join another user's room")
	}
	return nil
}

// SendToUser emits payload to every session of userID in parallel and
// returns true only when all of them ack within the ack timeout. A user with
// no sessions yields (false, nil) without emitting.
func (g *Gateway) SendToUser(ctx context.Context, userID int64, payload realtime.Payload) (bool, error) {
	g.mu.RLock()
	members := make([]*session, 0, len(g.rooms[userRoom(userID)]))
	for _, s := range g.rooms[userRoom(userID)] {
		members = append(members, s)
	}
	g.mu.RUnlock()

	ctx = g.logg.WithFields(ctx, map[string]any{"user_id": userID, "notification_id": payload.ID.String()})
	if len(members) == 0 {
		g.logg.Warn(ctx, fmt.Sprintf("user %d has no active sessions", userID))
		return false, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode notification payload: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, s := range members {
		eg.Go(func() error {
			ackCtx, cancel := context.WithTimeout(egCtx, g.ackTimeout)
			defer cancel()
			if err := s.emitWithAck(ackCtx, EventNotification, data); err != nil {
				return fmt.Errorf("session %s: %w", s.id, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.logg.Error(ctx, "error sending notification", err)
		return false, fmt.Errorf("%w: %v", realtime.ErrDeliveryFailed, err)
	}

	g.logg.Info(ctx, fmt.Sprintf("notification sent to user %d on %d session(s)", userID, len(members)))
	return true, nil
}

// SessionCount returns the number of open sessions.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Close disconnects every open session.
func (g *Gateway) Close() {
	g.mu.RLock()
	open := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		open = append(open, s)
	}
	g.mu.RUnlock()

	for _, s := range open {
		g.disconnect(s)
	}
}

func (g *Gateway) sessionContext(s *session) context.Context {
	ctx := g.logg.WithSessionID(context.Background(), s.id)
	return g.logg.WithUserID(ctx, s.userID)
}
