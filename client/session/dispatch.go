package session

import (
	"encoding/json"
	"fmt"

	"github.com/cbodonnell/harbor/client/chat"
	"github.com/cbodonnell/harbor/client/presence"
	"github.com/cbodonnell/harbor/client/query"
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/messages"
)

func (s *Session) handleItem(item interface{}) {
	message, ok := item.(*messages.Message)
	if !ok {
		s.logger.Error("Unexpected inbound item of type %T", item)
		return
	}

	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	s.lock.RLock()
	started := s.started
	s.lock.RUnlock()
	if !started {
		s.logger.Debug("Dropping %s received after close", message.Event)
		return
	}
	if err := s.handleMessage(message); err != nil {
		s.logger.Error("Failed to handle %s: %v", message.Event, err)
	}
}

func (s *Session) handleMessage(message *messages.Message) error {
	s.logger.Trace("Handling %s", message.Event)
	switch message.Event {
	case messages.EventConnect:
		return s.handleTransportConnect()
	case messages.EventDisconnect:
		return s.handleTransportDisconnect()
	case messages.EventConnectionResponse:
		return s.handleConnectionResponse(message)
	case messages.EventAllPlayers:
		return s.handleAllPlayers(message)
	case messages.EventPlayerJoined:
		return s.handlePlayerJoined(message)
	case messages.EventPlayerMoved:
		return s.handlePlayerMoved(message)
	case messages.EventPlayerUpdated:
		return s.handlePlayerUpdated(message)
	case messages.EventPlayerDisconnected, messages.EventPlayerLeft:
		return s.handlePlayerLeft(message)
	case messages.EventNewMessage:
		return s.handleNewMessage(message)
	case messages.EventRecentMessages:
		return s.handleRecentMessages(message)
	case messages.EventPlayerStats:
		return s.handlePlayerStats(message)
	case messages.EventInventoryData:
		s.queries.Resolve(query.KindInventory, message.Data)
		return nil
	case messages.EventLeaderboardUpdate:
		return s.handleLeaderboardUpdate(message)
	default:
		s.logger.Debug("Dropping unhandled event %s", message.Event)
		return nil
	}
}

// handleTransportConnect re-announces after the transport reconnected.
// The first connect is announced by Connect itself.
func (s *Session) handleTransportConnect() error {
	if s.setConnected(true) {
		s.announce()
	}
	return nil
}

// handleTransportDisconnect evicts all remote participants; presence is not
// valid without a live feed. The server may assign a new id on reconnect.
func (s *Session) handleTransportDisconnect() error {
	s.lock.Lock()
	s.identity.LocalID = ""
	s.lock.Unlock()

	s.setConnected(false)
	s.presence.Clear()
	return nil
}

func (s *Session) handleConnectionResponse(message *messages.Message) error {
	response := &messages.ConnectionResponse{}
	if err := message.Decode(response); err != nil {
		return err
	}
	if response.ID == "" {
		return fmt.Errorf("connection response without id")
	}

	stats := &messages.PlayerStats{
		FishCount:    response.FishCount,
		MonsterKills: response.MonsterKills,
		Money:        response.Money,
	}
	statsChanged := response.FishCount != nil || response.MonsterKills != nil || response.Money != nil

	s.lock.Lock()
	s.identity.LocalID = response.ID
	if response.Name != "" {
		s.identity.Name = response.Name
	}
	s.identity.Stats = stats.Apply(s.identity.Stats)
	s.needsSetup = response.Name == ""
	identity := s.identity
	needsSetup := s.needsSetup
	s.lock.Unlock()

	s.logger.Info("Connection acknowledged, player id %s", response.ID)
	s.presence.SetLocalID(response.ID)

	if statsChanged {
		s.onStats.Trigger(identity.Stats)
	}
	if needsSetup {
		s.logger.Info("No stored name for %s, setup required", response.ID)
		s.onSetupRequired.Trigger(identity)
	}

	// the server usually pushes these on its own; request them as a backup
	s.emit(messages.EventGetAllPlayers, nil)
	senderID := s.SenderID()
	s.emit(messages.EventGetPlayerStats, &messages.PlayerRequest{ID: response.ID, PlayerID: senderID})
	return nil
}

func (s *Session) handleAllPlayers(message *messages.Message) error {
	var players []*gametypes.PlayerState
	if err := message.Decode(&players); err != nil {
		return err
	}
	participants := make([]presence.Participant, 0, len(players))
	for _, p := range players {
		if p == nil {
			continue
		}
		participants = append(participants, presence.FromState(p))
	}
	s.presence.IngestFullList(participants)
	return nil
}

func (s *Session) handlePlayerJoined(message *messages.Message) error {
	player := &gametypes.PlayerState{}
	if err := message.Decode(player); err != nil {
		return err
	}
	s.presence.IngestJoin(presence.FromState(player))
	return nil
}

func (s *Session) handlePlayerMoved(message *messages.Message) error {
	player := &gametypes.PlayerState{}
	if err := message.Decode(player); err != nil {
		return err
	}
	s.presence.IngestMove(player.ID, player.Position, player.Rotation, player.Mode)
	return nil
}

func (s *Session) handlePlayerUpdated(message *messages.Message) error {
	update := &messages.PlayerUpdated{}
	if err := message.Decode(update); err != nil {
		return err
	}
	s.presence.IngestInfoUpdate(update.ID, presence.InfoUpdate{
		Name:  update.Name,
		Color: update.Color,
	})
	return nil
}

func (s *Session) handlePlayerLeft(message *messages.Message) error {
	left := &messages.PlayerLeft{}
	if err := message.Decode(left); err != nil {
		return err
	}
	s.presence.IngestLeave(left.ID)
	return nil
}

func (s *Session) handleNewMessage(message *messages.Message) error {
	in := chat.Incoming{}
	if err := message.Decode(&in); err != nil {
		return err
	}
	// a malformed message is still stored and logged by the history
	s.chat.PostIncoming(in)
	return nil
}

// handleRecentMessages decodes each entry on its own so one undecodable
// entry does not discard the batch.
func (s *Session) handleRecentMessages(message *messages.Message) error {
	recent := &messages.RecentMessages{}
	if err := message.Decode(recent); err != nil {
		return err
	}
	history := make([]chat.Incoming, 0, len(recent.Messages))
	for i, raw := range recent.Messages {
		in := chat.Incoming{}
		if err := json.Unmarshal(raw, &in); err != nil {
			s.logger.Warn("Skipping chat history entry %d: %v", i, err)
			continue
		}
		history = append(history, in)
	}
	s.chat.ReplaceHistory(history)
	return nil
}

// handlePlayerStats applies authoritative stats. The server always wins over
// optimistic local updates; only fields present are replaced. A pending
// stats query is resolved even when the payload cannot be decoded.
func (s *Session) handlePlayerStats(message *messages.Message) error {
	defer s.queries.Resolve(query.KindStats, message.Data)

	update := &messages.PlayerStats{}
	if err := message.Decode(update); err != nil {
		return err
	}

	s.lock.Lock()
	s.identity.Stats = update.Apply(s.identity.Stats)
	stats := s.identity.Stats
	s.lock.Unlock()

	s.onStats.Trigger(stats)
	return nil
}

func (s *Session) handleLeaderboardUpdate(message *messages.Message) error {
	defer s.queries.Resolve(query.KindLeaderboard, message.Data)

	leaderboard := messages.Leaderboard{}
	if err := message.Decode(&leaderboard); err != nil {
		return err
	}
	s.onLeaderboard.Trigger(leaderboard)
	return nil
}
