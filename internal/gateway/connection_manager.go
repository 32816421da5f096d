package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/luckbox/quizduel/internal/protocol"
)

// ConnectionManager owns every live websocket connection. It is the
// engine's delivery surface: the match and matchmaking layers address
// connections purely by id through the Send/IsConnected pair.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	upgrader websocket.Upgrader
	config   ConnectionConfig
	router   Router

	baseCtx context.Context
}

// Router consumes decoded client events and disconnect notifications.
type Router interface {
	HandleMessage(ctx context.Context, connID string, e protocol.Event)
	HandleDisconnect(connID string)
}

// Connection represents one websocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a websocket connection manager. The
// router is attached afterwards with SetRouter: the router's
// dependencies (matchmaker, arena) are themselves built on top of the
// manager's Send/IsConnected surface.
func NewConnectionManager(ctx context.Context, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		baseCtx: ctx,
	}
}

// SetRouter attaches the message router. Must be called before the
// first UpgradeConnection.
func (cm *ConnectionManager) SetRouter(r Router) {
	cm.router = r
}

// UpgradeConnection upgrades an HTTP request to a websocket and starts
// its read/write pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	cm.conns[connection.ID] = connection
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")

	return nil
}

// unregister removes a connection; the first caller wins, later calls
// are no-ops. The router hears about the disconnect exactly once.
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.conns[conn.ID]
	if exists {
		delete(cm.conns, conn.ID)
		close(conn.Send)
	}
	cm.mu.Unlock()

	if !exists {
		return
	}

	cm.router.HandleDisconnect(conn.ID)

	log.Info().
		Str("connection_id", conn.ID).
		Msg("connection unregistered")
}

// Send marshals an event and queues it for one connection. A full send
// buffer means the client stopped draining; the connection is closed
// and its disconnect path runs.
func (cm *ConnectionManager) Send(connID string, e protocol.Event) {
	cm.mu.RLock()
	conn, ok := cm.conns[connID]
	cm.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("marshal event failed")
		return
	}

	select {
	case conn.Send <- data:
	default:
		log.Warn().
			Str("connection_id", connID).
			Msg("send buffer full, closing connection")
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

// IsConnected reports whether the connection is still registered.
func (cm *ConnectionManager) IsConnected(connID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, ok := cm.conns[connID]
	return ok
}

// Len reports the number of live connections.
func (cm *ConnectionManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// writePump drains the send buffer to the socket and keeps the
// connection alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("write to websocket failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump decodes inbound frames and hands them to the router. A read
// error, a missed pong, or a close frame all end in the same place:
// unregister, which drives the engine's disconnect handling.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close")
			}
			break
		}

		var e protocol.Event
		if err := json.Unmarshal(message, &e); err != nil {
			log.Debug().
				Str("connection_id", c.ID).
				Msg("dropping malformed frame")
			c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
			continue
		}

		c.Manager.router.HandleMessage(c.Manager.baseCtx, c.ID, e)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
