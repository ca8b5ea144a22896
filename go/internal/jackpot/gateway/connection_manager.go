package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
	"github.com/mcdev12/jackpot/go/internal/jackpot/session"
)

// ConnectionManager fans published snapshots out to websocket clients.
// It implements session.Publisher.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	metrics  metrics.Collector

	broadcastCh chan []byte
	latest      atomic.Pointer[session.Snapshot]
	sessionID   atomic.Value // string

	handlerMu sync.RWMutex
	onCommand func(*Connection, ClientCommand)
}

// Connection is one websocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	lastPing    atomic.Int64
}

// ConnectionConfig holds websocket settings.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBufferSize:  64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager. Call Start to begin fan-out.
func NewConnectionManager(config ConnectionConfig, m metrics.Collector) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 64
	}
	cm := &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		metrics:     metrics.OrNoOp(m),
		broadcastCh: make(chan []byte, 256),
	}
	cm.sessionID.Store("")
	return cm
}

// SetCommandHandler installs the handler for client commands.
func (cm *ConnectionManager) SetCommandHandler(h func(*Connection, ClientCommand)) {
	cm.handlerMu.Lock()
	defer cm.handlerMu.Unlock()
	cm.onCommand = h
}

// Start processes broadcasts until ctx is done, then closes every connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			cm.closeAll()
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Publish implements session.Publisher. Round-only changes go out as Round events and
// ledger or payout changes as full snapshots. It never blocks; when the fan-out falls
// behind the message is dropped and clients catch up with the next one.
func (cm *ConnectionManager) Publish(snap session.Snapshot, changed session.Change) {
	cm.latest.Store(&snap)
	cm.sessionID.Store(snap.SessionID)

	data, err := encodeChange(snap, changed)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot for broadcast")
		return
	}

	select {
	case cm.broadcastCh <- data:
	default:
		log.Warn().Str("session_id", snap.SessionID).Msg("broadcast channel full, dropping snapshot")
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket client and sends it the
// latest snapshot.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	connection.lastPing.Store(connection.ConnectedAt.UnixNano())

	if latest := cm.latest.Load(); latest != nil {
		if data, err := encodeSnapshot(*latest); err == nil {
			connection.Send <- data
		} else {
			log.Error().Err(err).Msg("failed to encode snapshot for new connection")
		}
	}
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn] = true
	count := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.RecordViewClients(count)
	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", count).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if _, ok := cm.connections[conn]; !ok {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn)
	close(conn.Send)
	count := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.RecordViewClients(count)
	log.Info().Str("connection_id", conn.ID).Msg("connection unregistered")
}

func (cm *ConnectionManager) handleBroadcast(message []byte) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if !cm.send(conn, message) {
			log.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().Int("connections", len(targets)).Msg("snapshot broadcasted")
}

// send queues message for conn; false means the buffer is full.
func (cm *ConnectionManager) send(conn *Connection, message []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.connections[conn] {
		return true
	}
	select {
	case conn.Send <- message:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()
	for _, conn := range targets {
		cm.unregisterConnection(conn)
	}
}

// ConnectionCount returns the number of live clients.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
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
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.lastPing.Store(time.Now().UnixNano())
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close error")
			}
			break
		}
		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil || cmd.Type == "" {
		c.reply(encodeError(c.Manager.sessionID.Load().(string), "malformed command"))
		return
	}
	log.Debug().Str("connection_id", c.ID).Str("command", cmd.Type).Msg("received client command")

	c.Manager.handlerMu.RLock()
	h := c.Manager.onCommand
	c.Manager.handlerMu.RUnlock()
	if h != nil {
		h(c, cmd)
	}
}

// reply queues a message for this connection only.
func (c *Connection) reply(message []byte) {
	if !c.Manager.send(c, message) {
		log.Warn().Str("connection_id", c.ID).Msg("dropping reply, send buffer full")
	}
}

// LastPing returns when the client last answered a ping.
func (c *Connection) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}
