package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agora/pkg/interfaces"
	"agora/pkg/types"
)

var _ interfaces.Connection = (*Connection)(nil)

const (
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
	maxHeld      = 10 * writeBuffer
)

// Connection implements interfaces.Connection
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte
	participantID string
	sessionID     string
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex // TECHNICAL: Protect auth fields

	// Replay gate: while replaying, frames from WriteJSON are held back
	gate      sync.Mutex
	replaying bool
	held      []interface{}
}

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery, waiting at most writeTimeout for buffer
// space. During a history replay the frame is held until EndReplay.
func (c *Connection) WriteJSON(v interface{}) error {
	c.gate.Lock()
	if c.replaying {
		defer c.gate.Unlock()
		if len(c.held) >= maxHeld {
			return ErrReplayBacklog
		}
		c.held = append(c.held, v)
		return nil
	}
	c.gate.Unlock()
	return c.send(v)
}

// BeginReplay holds live frames until EndReplay; call before the
// connection becomes visible to broadcasters
func (c *Connection) BeginReplay() {
	c.gate.Lock()
	c.replaying = true
	c.gate.Unlock()
}

// EndReplay releases the held frames in arrival order. Messages at or below
// last were part of the replay and are dropped.
func (c *Connection) EndReplay(last int) {
	c.gate.Lock()
	defer c.gate.Unlock()
	held := c.held
	c.held = nil
	c.replaying = false
	for _, v := range held {
		if env, ok := v.(Envelope); ok && env.Type == EnvelopeMessage {
			if msg, ok := env.Data.(types.Message); ok && msg.Position <= last {
				continue
			}
		}
		if err := c.send(v); err != nil {
			return
		}
	}
}

// send bypasses the replay gate
func (c *Connection) send(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket; safe to call repeatedly
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetCredentials binds the connection to a participant and a session
func (c *Connection) SetCredentials(participantID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.participantID = participantID
	c.sessionID = sessionID
	c.authenticated = participantID != "" && sessionID != ""
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetParticipantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participantID
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
