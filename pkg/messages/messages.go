package messages

import (
	"encoding/json"
	"fmt"
)

const (
	// MessageBufferSize represents the maximum size of a single inbound frame
	MessageBufferSize = 1 << 20
)

// Client events
const (
	EventPlayerJoin        = "player_join"
	EventUpdatePosition    = "update_position"
	EventGetAllPlayers     = "get_all_players"
	EventUpdatePlayerName  = "update_player_name"
	EventUpdatePlayerColor = "update_player_color"
	EventSendMessage       = "send_message"
	EventGetRecentMessages = "get_recent_messages"
	EventPlayerAction      = "player_action"
	EventGetInventory      = "get_inventory"
	EventGetPlayerStats    = "get_player_stats"
	EventGetLeaderboard    = "get_leaderboard"
	EventAddToInventory    = "add_to_inventory"
)

// Server events
const (
	EventConnectionResponse = "connection_response"
	EventAllPlayers         = "all_players"
	EventPlayerJoined       = "player_joined"
	EventPlayerMoved        = "player_moved"
	EventPlayerUpdated      = "player_updated"
	EventPlayerDisconnected = "player_disconnected"
	EventPlayerLeft         = "player_left"
	EventNewMessage         = "new_message"
	EventRecentMessages     = "recent_messages"
	EventPlayerStats        = "player_stats"
	EventInventoryData      = "inventory_data"
	EventLeaderboardUpdate  = "leaderboard_update"
)

// Transport status events. These never travel on the wire; the transport
// injects them into the inbound stream so they are ordered with server events.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Message is the envelope for every event on the wire
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a message for event with data marshaled as JSON.
// A nil data produces a message without payload.
func NewMessage(event string, data interface{}) (*Message, error) {
	msg := &Message{Event: event}
	if data == nil {
		return msg, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %v", event, err)
	}
	msg.Data = b
	return msg, nil
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s has no payload", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %v", m.Event, err)
	}
	return nil
}
