package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session lifecycle states.
const (
	StateConnecting int32 = iota
	StateOpen
	StateClosing
	StateClosed
)

var ErrSessionClosed = errors.New("session closed")

const (
	sendQueueSize = 32
	writeTimeout  = 5 * time.Second
)

// Session wraps one websocket connection as a Channel. Sends are queued and
// flushed by a single writer goroutine so Send never blocks on the socket.
//
// Lifecycle: connecting → open → closing → closed. Registry registration is
// tied to Open, removal to Close.
type Session struct {
	conn  *websocket.Conn
	out   chan Event
	state atomic.Int32

	closeOnce   sync.Once
	done        chan struct{}
	closeReason string // set before done is closed; read only by the pump
}

func NewSession(conn *websocket.Conn) *Session {
	s := &Session{
		conn: conn,
		out:  make(chan Event, sendQueueSize),
		done: make(chan struct{}),
	}
	s.state.Store(StateConnecting)
	return s
}

func (s *Session) State() int32 { return s.state.Load() }

// Open transitions the session to open and starts the writer pump. Call
// exactly once, after registering the session.
func (s *Session) Open() {
	if !s.state.CompareAndSwap(StateConnecting, StateOpen) {
		return
	}
	go s.writePump()
}

// Send queues ev for delivery. Returns ErrSessionClosed once the session has
// left the open state, and drops the event (without error) if the queue is
// full, since delivery is fire-and-forget.
func (s *Session) Send(ev Event) error {
	if s.state.Load() != StateOpen {
		return ErrSessionClosed
	}
	select {
	case s.out <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		// Slow consumer; best-effort delivery drops rather than blocks.
		return nil
	}
}

// Close ends the session with the given reason. The connection allows one
// concurrent writer, and the pump owns the write side, so Close only
// signals; the pump emits the close frame and tears the socket down. Safe
// to call from any goroutine, repeatedly.
func (s *Session) Close(reason string) error {
	s.closeOnce.Do(func() {
		s.closeReason = reason
		wasOpen := s.state.Swap(StateClosing) == StateOpen
		close(s.done)

		if !wasOpen {
			// No pump is running; the socket has no other writer.
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
			_ = s.conn.Close()
			s.state.Store(StateClosed)
		}
	})
	return nil
}

// ReadLoop consumes inbound frames until the peer disconnects, invoking
// handle for each parsed event. It returns once the connection is gone; the
// caller unregisters and closes the session.
func (s *Session) ReadLoop(handle func(Event)) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			_ = s.Send(Event{Type: EventError, Payload: ErrorPayload{
				Code: "invalid_format", Message: "malformed event envelope",
			}})
			continue
		}
		handle(ev)
	}
}

func (s *Session) writePump() {
	defer func() {
		_ = s.conn.Close()
		s.state.Store(StateClosed)
	}()
	for {
		select {
		case ev := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(ev); err != nil {
				_ = s.Close("write failed")
				return
			}
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, s.closeReason)
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}

// DecodePayload unmarshals an inbound event payload into dst. Inbound
// payloads arrive as generic JSON; this round-trips them into the typed
// request structs handlers expect.
func DecodePayload(ev Event, dst any) error {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
