// Package gateway is the view edge: websocket fan-out of session snapshots, the HTTP
// state and action API, and an optional NATS mirror.
package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service bundles the websocket and HTTP handlers for one session.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	controller        Controller
}

// NewService wires cm and controller together. cm should already be registered as a
// publisher on the session behind controller.
func NewService(cm *ConnectionManager, controller Controller) *Service {
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		stateHandler:      NewStateHandler(controller),
		controller:        controller,
	}
	cm.SetCommandHandler(s.handleCommand)
	return s
}

// Start runs the connection manager until ctx is done.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting view gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("view gateway stopped")
}

// RegisterRoutes registers websocket and HTTP routes with mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("view gateway routes registered")
}

func (s *Service) handleCommand(c *Connection, cmd ClientCommand) {
	switch cmd.Type {
	case CommandRefresh:
		s.controller.Refresh()
	case CommandPing:
		data, err := encodeSnapshot(s.controller.Snapshot())
		if err != nil {
			log.Error().Err(err).Msg("failed to encode snapshot for client")
			return
		}
		c.reply(data)
	default:
		c.reply(encodeError(s.controller.Snapshot().SessionID, "unknown command "+cmd.Type))
	}
}
