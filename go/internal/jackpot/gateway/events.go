package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/jackpot/go/internal/jackpot/session"
)

// Event is the envelope for every message pushed to view clients.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType names the payload carried by an Event.
type EventType string

const (
	EventTypeSnapshot EventType = "Snapshot"
	EventTypeRound    EventType = "Round"
	EventTypeError    EventType = "Error"
)

// ClientCommand is a message sent by a websocket client.
type ClientCommand struct {
	Type string `json:"type"`
}

// Client command types
const (
	CommandRefresh = "refresh"
	CommandPing    = "ping"
)

// encodeSnapshot wraps snap in an Event and marshals it.
func encodeSnapshot(snap session.Snapshot) ([]byte, error) {
	return encodeEvent(snap, EventTypeSnapshot, snap)
}

// encodeChange encodes the smallest event that carries changed. Ledger and payout
// changes need the full snapshot; everything else fits in a Round event.
func encodeChange(snap session.Snapshot, changed session.Change) ([]byte, error) {
	if changed.Has(session.ChangeLedger | session.ChangePayouts) {
		return encodeSnapshot(snap)
	}
	return encodeEvent(snap, EventTypeRound, snap.RoundUpdate())
}

func encodeEvent(snap session.Snapshot, typ EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", typ, err)
	}
	return json.Marshal(Event{
		ID:        uuid.New().String(),
		SessionID: snap.SessionID,
		Type:      typ,
		Timestamp: snap.UpdatedAt,
		Data:      data,
	})
}

func encodeError(sessionID string, msg string) []byte {
	data, _ := json.Marshal(map[string]string{"error": msg})
	out, _ := json.Marshal(Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      EventTypeError,
		Timestamp: time.Now(),
		Data:      data,
	})
	return out
}
