package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var (
	errSessionClosed = errors.New("session closed")
	errSendBuffer    = errors.New("session send buffer full")
)

type session struct {
	id     string
	userID int64
	addr   string
	conn   *websocket.Conn
	gw     *Gateway
	send   chan Frame
	done   chan struct{}

	mu    sync.Mutex
	acks  map[string]chan error
	rooms map[string]struct{}

	closeOnce sync.Once
}

func newSession(gw *Gateway, conn *websocket.Conn, userID int64, addr string) *session {
	return &session{
		id:     uuid.NewString(),
		userID: userID,
		addr:   addr,
		conn:   conn,
		gw:     gw,
		send:   make(chan Frame, sendBuffer),
		done:   make(chan struct{}),
		acks:   make(map[string]chan error),
		rooms:  make(map[string]struct{}),
	}
}

func (s *session) emit(frame Frame) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		return errSendBuffer
	}
}

func (s *session) emitEvent(event string, data any) error {
	frame, err := newFrame(event, data)
	if err != nil {
		return err
	}
	return s.emit(frame)
}

// emitWithAck sends data and blocks until the client acks it, ctx ends or the
// session closes.
func (s *session) emitWithAck(ctx context.Context, event string, data json.RawMessage) error {
	ackID := uuid.NewString()
	result := make(chan error, 1)

	s.mu.Lock()
	s.acks[ackID] = result
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.acks, ackID)
		s.mu.Unlock()
	}()

	if err := s.emit(Frame{Event: event, AckID: ackID, Data: data}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errSessionClosed
	}
}

func (s *session) resolveAck(ackID string, data json.RawMessage) {
	s.mu.Lock()
	result, ok := s.acks[ackID]
	s.mu.Unlock()
	if !ok {
		return
	}

	var err error
	var body ackData
	if len(data) > 0 {
		if decodeErr := json.Unmarshal(data, &body); decodeErr != nil {
			err = fmt.Errorf("malformed ack: %w", decodeErr)
		}
	}
	if err == nil && body.Error != "" {
		err = errors.New(body.Error)
	}
	select {
	case result <- err:
	default:
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) readPump() {
	defer func() {
		s.gw.disconnect(s)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.gw.logg.Warn(s.gw.sessionContext(s), "unexpected websocket close: "+err.Error())
			}
			return
		}
		s.gw.handleFrame(s, frame)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
