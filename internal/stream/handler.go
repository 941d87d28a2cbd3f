package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/playback-sync/internal/observability"
	"github.com/lexiqai/playback-sync/internal/orchestrator"
	"github.com/lexiqai/playback-sync/internal/store"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1024
)

// Client actions
const (
	ActionTogglePlay    = "toggle_play"
	ActionSeek          = "seek"
	ActionScrub         = "scrub"
	ActionSetSyncOffset = "set_sync_offset"
)

// Server message types
const (
	MessageHello = "hello"
	MessageState = "state"
	MessageError = "error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// ClientMessage is an action sent by a rendering client
type ClientMessage struct {
	Action string `json:"action"`
	Ms     int64  `json:"ms,omitempty"`
}

// ServerMessage is pushed to rendering clients
type ServerMessage struct {
	Type           string              `json:"type"`
	ClientID       string              `json:"client_id,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	State          *orchestrator.State `json:"state,omitempty"`
	Error          string              `json:"error,omitempty"`
}

type client struct {
	id      uuid.UUID
	conn    *websocket.Conn
	session *Session
	limit   int64
	logger  zerolog.Logger

	// latest holds only the newest state; slow clients skip intermediate ones.
	// Snapshots at or below lastSent are stale and dropped.
	mu       sync.Mutex
	latest   *orchestrator.State
	lastSent uint64
	wake     chan struct{}

	send chan ServerMessage
	done chan struct{}
}

// Handler serves /sessions/{id}/ws: it attaches the connection to the
// conversation's session, pushes state snapshots and applies client actions
func Handler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["id"]

		session, err := m.Acquire(r.Context(), conversationID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to start playback session")
			http.Error(w, "Failed to start playback session", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			session.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			m.Release(session)
			return
		}

		c := &client{
			id:      uuid.New(),
			conn:    conn,
			session: session,
			limit:   m.config.OffsetLimitMs,
			wake:    make(chan struct{}, 1),
			send:    make(chan ServerMessage, 16),
			done:    make(chan struct{}),
		}
		c.logger = session.logger.With().Str("client_id", c.id.String()).Logger()

		// hello goes out before any state so clients can key on it
		if err := c.write(ServerMessage{Type: MessageHello, ClientID: c.id.String(), ConversationID: conversationID}); err != nil {
			conn.Close()
			m.Release(session)
			return
		}

		observability.StreamClientConnected()
		c.logger.Info().Msg("Stream client connected")

		orch := session.Orchestrator()
		cancel := orch.Watch(c.push)
		c.push(orch.State())

		go c.writePump()
		c.readPump()

		cancel()
		close(c.done)
		m.Release(session)
		observability.StreamClientDisconnected()
		c.logger.Info().Msg("Stream client disconnected")
	}
}

func (c *client) push(st orchestrator.State) {
	c.mu.Lock()
	if st.Version <= c.lastSent || (c.latest != nil && st.Version <= c.latest.Version) {
		c.mu.Unlock()
		return
	}
	c.latest = &st
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) takeLatest() *orchestrator.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.latest
	if st != nil {
		c.lastSent = st.Version
	}
	c.latest = nil
	return st
}

func (c *client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reject("malformed message")
			continue
		}
		c.apply(msg)
	}
}

func (c *client) apply(msg ClientMessage) {
	orch := c.session.Orchestrator()

	switch msg.Action {
	case ActionTogglePlay:
		orch.TogglePlay()
	case ActionSeek:
		orch.SeekTo(msg.Ms)
	case ActionScrub:
		orch.Scrub(msg.Ms)
	case ActionSetSyncOffset:
		orch.SetSyncOffset(orchestrator.ClampOffset(msg.Ms, c.limit))
	default:
		c.reject("unknown action: " + msg.Action)
		return
	}

	c.logger.Debug().Str("action", msg.Action).Int64("ms", msg.Ms).Msg("Client action applied")
}

func (c *client) reject(reason string) {
	observability.RecordStreamError()
	c.logger.Debug().Str("reason", reason).Msg("Rejected client message")

	select {
	case c.send <- ServerMessage{Type: MessageError, Error: reason}:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}

		case <-c.wake:
			st := c.takeLatest()
			if st == nil {
				continue
			}
			if err := c.write(ServerMessage{Type: MessageState, State: st}); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *client) write(msg ServerMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("WebSocket write failed")
		return err
	}
	return nil
}
