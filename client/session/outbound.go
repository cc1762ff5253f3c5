package session

import (
	"encoding/json"
	"strings"

	"github.com/cbodonnell/harbor/client/chat"
	"github.com/cbodonnell/harbor/client/network"
	"github.com/cbodonnell/harbor/client/query"
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/messages"
)

// UpdateLocalIdentity changes the local name and/or color and announces the
// change when connected. An empty or whitespace-only name is rejected with a
// *ValidationError and nothing changes.
func (s *Session) UpdateLocalIdentity(update IdentityUpdate) error {
	var name string
	if update.Name != nil {
		name = strings.TrimSpace(*update.Name)
		if name == "" {
			return &ValidationError{Field: "name", Reason: "must not be empty"}
		}
	}

	s.lock.Lock()
	if update.Name != nil {
		s.identity.Name = name
		s.needsSetup = false
	}
	if update.Color != nil {
		s.identity.Color = *update.Color
	}
	connected := s.connected
	s.lock.Unlock()

	if !connected {
		return nil
	}

	senderID := s.SenderID()
	if update.Name != nil {
		s.emit(messages.EventUpdatePlayerName, &messages.UpdatePlayerName{Name: name, PlayerID: senderID})
	}
	if update.Color != nil {
		s.emit(messages.EventUpdatePlayerColor, &messages.UpdatePlayerColor{Color: *update.Color, PlayerID: senderID})
	}
	return nil
}

// SendPositionUpdate records the local pose and sends it when connected and
// acknowledged. Otherwise the update is silently dropped; a newer one follows.
func (s *Session) SendPositionUpdate(position gametypes.Vec3, rotation float64, mode gametypes.Mode) {
	s.lock.Lock()
	s.identity.Position = position
	s.identity.Rotation = rotation
	s.identity.Mode = mode
	ready := s.connected && s.identity.LocalID != ""
	s.lock.Unlock()

	if !ready {
		return
	}

	s.emit(messages.EventUpdatePosition, &messages.UpdatePosition{
		X:        position.X,
		Y:        position.Y,
		Z:        position.Z,
		Rotation: rotation,
		Mode:     mode,
		PlayerID: s.SenderID(),
	})
}

// SendChat sends a chat message on channel, "global" when empty.
// The sender's name is never sent; the server resolves it.
func (s *Session) SendChat(content, channel string) error {
	if !s.IsConnected() {
		return &NotConnectedError{Op: "send chat message"}
	}
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if channel == "" {
		channel = chat.ChannelGlobal
	}

	return s.send("send chat message", messages.EventSendMessage, &messages.SendMessage{
		Content:  content,
		Type:     channel,
		PlayerID: s.SenderID(),
	})
}

// RequestChatHistory asks for the most recent messages of channel. The reply
// replaces the chat history.
func (s *Session) RequestChatHistory(channel string, limit int) error {
	if !s.IsConnected() {
		return &NotConnectedError{Op: "request chat history"}
	}
	if channel == "" {
		channel = chat.ChannelGlobal
	}
	if limit <= 0 {
		limit = DefaultChatHistoryLimit
	}

	return s.send("request chat history", messages.EventGetRecentMessages, &messages.GetRecentMessages{
		Type:     channel,
		Limit:    limit,
		PlayerID: s.SenderID(),
	})
}

// RequestRoster asks the server for the full participant list.
func (s *Session) RequestRoster() error {
	if !s.IsConnected() {
		return &NotConnectedError{Op: "request roster"}
	}
	return s.send("request roster", messages.EventGetAllPlayers, nil)
}

// SetStats replaces the local stats optimistically and reports them to the server.
func (s *Session) SetStats(stats gametypes.Stats) error {
	return s.statAction("update stats", func(gametypes.Stats) gametypes.Stats {
		return stats
	}, func(updated gametypes.Stats) *messages.PlayerAction {
		return &messages.PlayerAction{Action: messages.ActionUpdateStats, Stats: &updated}
	})
}

// IncrementStats adds delta to the local stats and reports the totals.
func (s *Session) IncrementStats(delta gametypes.Stats) error {
	return s.statAction("increment stats", func(current gametypes.Stats) gametypes.Stats {
		return current.Add(delta)
	}, func(updated gametypes.Stats) *messages.PlayerAction {
		return &messages.PlayerAction{Action: messages.ActionUpdateStats, Stats: &updated}
	})
}

func (s *Session) RecordFishCaught(count int) error {
	return s.statAction("record fish caught", func(current gametypes.Stats) gametypes.Stats {
		return current.Add(gametypes.Stats{FishCount: count})
	}, func(gametypes.Stats) *messages.PlayerAction {
		return &messages.PlayerAction{Action: messages.ActionFishCaught, Value: count}
	})
}

func (s *Session) RecordMonsterKilled(count int) error {
	return s.statAction("record monster killed", func(current gametypes.Stats) gametypes.Stats {
		return current.Add(gametypes.Stats{MonsterKills: count})
	}, func(gametypes.Stats) *messages.PlayerAction {
		return &messages.PlayerAction{Action: messages.ActionMonsterKilled, Value: count}
	})
}

func (s *Session) RecordMoneyEarned(amount int) error {
	return s.statAction("record money earned", func(current gametypes.Stats) gametypes.Stats {
		return current.Add(gametypes.Stats{Money: amount})
	}, func(gametypes.Stats) *messages.PlayerAction {
		return &messages.PlayerAction{Action: messages.ActionMoneyEarned, Value: amount}
	})
}

// statAction applies an optimistic local stats change and sends the
// matching player_action. A later player_stats from the server overrides it.
func (s *Session) statAction(op string, apply func(gametypes.Stats) gametypes.Stats, action func(gametypes.Stats) *messages.PlayerAction) error {
	s.lock.Lock()
	if !s.connected {
		s.lock.Unlock()
		return &NotConnectedError{Op: op}
	}
	s.identity.Stats = apply(s.identity.Stats)
	stats := s.identity.Stats
	s.lock.Unlock()

	s.onStats.Trigger(stats)

	payload := action(stats)
	payload.PlayerID = s.SenderID()
	return s.send(op, messages.EventPlayerAction, payload)
}

// AddToInventory asks the server to store an item. data may be nil.
func (s *Session) AddToInventory(itemType, itemName string, data interface{}) error {
	if !s.IsConnected() {
		return &NotConnectedError{Op: "add to inventory"}
	}
	if strings.TrimSpace(itemType) == "" {
		return &ValidationError{Field: "item_type", Reason: "must not be empty"}
	}
	if strings.TrimSpace(itemName) == "" {
		return &ValidationError{Field: "item_name", Reason: "must not be empty"}
	}

	var itemData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return &ValidationError{Field: "item_data", Reason: err.Error()}
		}
		itemData = b
	}

	return s.send("add to inventory", messages.EventAddToInventory, &messages.AddToInventory{
		PlayerID: s.SenderID(),
		ItemType: itemType,
		ItemName: itemName,
		ItemData: itemData,
	})
}

// Request registers cb as the single listener for kind and sends the request.
// A later request of the same kind supersedes cb, which is then never called.
// While offline cb(nil) is called synchronously, nothing is sent and a
// *NotConnectedError is returned. A nil payload sends the sender id.
func (s *Session) Request(kind query.Kind, payload interface{}, cb query.Callback) error {
	event, ok := kind.RequestEvent()
	if !ok {
		return &ValidationError{Field: "kind", Reason: "unknown query kind " + string(kind)}
	}
	if !s.IsConnected() {
		if cb != nil {
			cb(nil)
		}
		return &NotConnectedError{Op: "request " + string(kind)}
	}
	if payload == nil {
		payload = &messages.PlayerRequest{PlayerID: s.SenderID()}
	}

	if s.queries.Register(kind, cb) {
		s.logger.Debug("Superseding pending %s request", kind)
	}
	if err := s.transport.Emit(event, payload); err != nil {
		s.logger.Error("Failed to send %s: %v", event, err)
		s.queries.Resolve(kind, nil)
		if network.IsNotConnected(err) {
			return &NotConnectedError{Op: "request " + string(kind)}
		}
	}
	return nil
}

// RequestInventory fetches the local inventory. cb receives nil when offline
// or when the response cannot be decoded.
func (s *Session) RequestInventory(cb func(messages.Inventory)) error {
	return s.Request(query.KindInventory, nil, func(payload json.RawMessage) {
		if payload == nil {
			cb(nil)
			return
		}
		inventory := messages.Inventory{}
		if err := json.Unmarshal(payload, &inventory); err != nil {
			s.logger.Error("Failed to decode inventory: %v", err)
			cb(nil)
			return
		}
		cb(inventory)
	})
}

// RequestStats fetches the authoritative local stats. cb receives nil when
// offline or when the response cannot be decoded.
func (s *Session) RequestStats(cb func(*gametypes.Stats)) error {
	s.lock.RLock()
	localID := s.identity.LocalID
	s.lock.RUnlock()

	payload := &messages.PlayerRequest{ID: localID, PlayerID: s.SenderID()}
	return s.Request(query.KindStats, payload, func(raw json.RawMessage) {
		if raw == nil {
			cb(nil)
			return
		}
		if err := json.Unmarshal(raw, &messages.PlayerStats{}); err != nil {
			s.logger.Error("Failed to decode stats: %v", err)
			cb(nil)
			return
		}
		// identity stats were already updated by the dispatcher
		stats := s.Stats()
		cb(&stats)
	})
}

// RequestLeaderboard fetches the leaderboard. cb receives nil when offline.
func (s *Session) RequestLeaderboard(cb func(messages.Leaderboard)) error {
	return s.Request(query.KindLeaderboard, nil, func(payload json.RawMessage) {
		if payload == nil {
			cb(nil)
			return
		}
		leaderboard := messages.Leaderboard{}
		if err := json.Unmarshal(payload, &leaderboard); err != nil {
			s.logger.Error("Failed to decode leaderboard: %v", err)
			cb(nil)
			return
		}
		cb(leaderboard)
	})
}

// send emits an event on behalf of a caller-facing operation. A transport
// that dropped the connection before the session noticed reports
// *NotConnectedError; other send failures are only logged.
func (s *Session) send(op, event string, data interface{}) error {
	if err := s.transport.Emit(event, data); err != nil {
		s.logger.Error("Failed to send %s: %v", event, err)
		if network.IsNotConnected(err) {
			return &NotConnectedError{Op: op}
		}
		return nil
	}
	s.logger.Trace("Sent %s", event)
	return nil
}
