package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/harbor/client/chat"
	"github.com/cbodonnell/harbor/client/network"
	"github.com/cbodonnell/harbor/client/presence"
	"github.com/cbodonnell/harbor/client/query"
	"github.com/cbodonnell/harbor/client/session"
	mocks "github.com/cbodonnell/harbor/mocks/github.com/cbodonnell/harbor/client/session"
	"github.com/cbodonnell/harbor/pkg/auth"
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/messages"
	"github.com/cbodonnell/harbor/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

// fakeTransport records outbound events and lets tests push inbound ones.
type fakeTransport struct {
	lock    sync.Mutex
	inbound queue.Queue
	emitted []*messages.Message
	id      string
	emitErr error
}

func (f *fakeTransport) Connect(ctx context.Context, inbound queue.Queue) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.inbound = inbound
	return nil
}

func (f *fakeTransport) Emit(event string, data interface{}) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	msg, err := messages.NewMessage(event, data)
	if err != nil {
		return err
	}
	f.emitted = append(f.emitted, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	return nil
}

func (f *fakeTransport) ID() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.id
}

// drain returns and forgets the events emitted so far.
func (f *fakeTransport) drain() []*messages.Message {
	f.lock.Lock()
	defer f.lock.Unlock()
	emitted := f.emitted
	f.emitted = nil
	return emitted
}

func eventNames(msgs []*messages.Message) []string {
	names := []string{}
	for _, m := range msgs {
		names = append(names, m.Event)
	}
	return names
}

func newTestSession(t *testing.T) (*session.Session, *fakeTransport) {
	transport := &fakeTransport{}
	s, err := session.New(session.Options{
		Transport: transport,
		Logger:    log.Nop(),
		Clock:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return s, transport
}

// deliver pushes an inbound event and applies it.
func deliver(t *testing.T, s *session.Session, transport *fakeTransport, event string, data interface{}) {
	msg, err := messages.NewMessage(event, data)
	require.NoError(t, err)
	require.NoError(t, transport.inbound.Enqueue(context.Background(), msg))
	s.ProcessPending()
}

// connectAs connects and acknowledges the session with localID.
func connectAs(t *testing.T, s *session.Session, transport *fakeTransport, name, localID string) {
	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: name}, nil))
	deliver(t, s, transport, messages.EventConnectionResponse, &messages.ConnectionResponse{ID: localID, Name: name})
	transport.drain()
}

func rosterIDs(s *session.Session) []string {
	ids := []string{}
	for _, p := range s.Presence().Snapshot() {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := session.New(session.Options{})
	assert.Error(t, err)
}

func TestSession_JoinRosterChatLeave(t *testing.T) {
	s, transport := newTestSession(t)

	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))
	assert.True(t, s.IsConnected())

	emitted := transport.drain()
	require.Len(t, emitted, 1)
	assert.Equal(t, messages.EventPlayerJoin, emitted[0].Event)
	join := &messages.PlayerJoin{}
	require.NoError(t, emitted[0].Decode(join))
	assert.Equal(t, "Ann", join.Name)
	assert.Empty(t, join.PlayerID)

	deliver(t, s, transport, messages.EventConnectionResponse, &messages.ConnectionResponse{ID: "p1", Name: "Ann"})
	assert.Equal(t, "p1", s.Identity().LocalID)
	assert.False(t, s.NeedsSetup())
	assert.Equal(t, []string{messages.EventGetAllPlayers, messages.EventGetPlayerStats}, eventNames(transport.drain()))

	deliver(t, s, transport, messages.EventAllPlayers, []*gametypes.PlayerState{
		{ID: "p1", Name: "Ann"},
		{ID: "p2", Name: "Bo"},
	})
	assert.Equal(t, []string{"p2"}, rosterIDs(s))
	assert.Equal(t, 2, s.OnlineCount())

	deliver(t, s, transport, messages.EventNewMessage, map[string]interface{}{"content": "hi", "player_id": "p2"})
	history := s.Chat().History()
	require.Len(t, history, 1)
	assert.Equal(t, "Bo", history[0].SenderName)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, fixedNow.UnixMilli(), history[0].Timestamp)
	assert.Equal(t, chat.ChannelGlobal, history[0].Channel)

	deliver(t, s, transport, messages.EventPlayerLeft, "p2")
	assert.Empty(t, rosterIDs(s))
	assert.Equal(t, 1, s.OnlineCount())
}

func TestSession_RosterEvents(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	changes := []presence.ChangeKind{}
	s.Presence().OnChange(func(c presence.Change) {
		changes = append(changes, c.Kind)
	})

	deliver(t, s, transport, messages.EventPlayerJoined, &gametypes.PlayerState{ID: "p2", Name: "Bo"})
	deliver(t, s, transport, messages.EventPlayerMoved, &gametypes.PlayerState{
		ID:       "p2",
		Position: gametypes.Vec3{X: 1, Y: 2, Z: 3},
		Rotation: 0.5,
		Mode:     gametypes.ModeOnFoot,
	})
	name := "Bob"
	deliver(t, s, transport, messages.EventPlayerUpdated, &messages.PlayerUpdated{ID: "p2", Name: &name})

	p, ok := s.Presence().Get("p2")
	require.True(t, ok)
	assert.Equal(t, "Bob", p.Name)
	assert.Equal(t, gametypes.Vec3{X: 1, Y: 2, Z: 3}, p.Position)
	assert.Equal(t, gametypes.ModeOnFoot, p.Mode)

	// the local participant never enters the directory
	deliver(t, s, transport, messages.EventPlayerJoined, &gametypes.PlayerState{ID: "p1", Name: "Ann"})
	deliver(t, s, transport, messages.EventPlayerDisconnected, map[string]string{"id": "p2"})
	assert.Empty(t, rosterIDs(s))
	// the mode change replaces the entry
	assert.Len(t, changes, 5)
}

func TestSession_SendWhileDisconnected(t *testing.T) {
	s, transport := newTestSession(t)

	err := s.SendChat("hello", "")
	assert.True(t, session.IsNotConnectedError(err))
	assert.True(t, session.IsNotConnectedError(s.RecordFishCaught(1)))
	assert.True(t, session.IsNotConnectedError(s.RequestChatHistory("", 0)))
	assert.True(t, session.IsNotConnectedError(s.RequestRoster()))
	assert.True(t, session.IsNotConnectedError(s.AddToInventory("fish", "cod", nil)))
	s.SendPositionUpdate(gametypes.Vec3{X: 1}, 0, gametypes.ModeBoat)

	// identity changes are kept locally
	name := "Ann"
	require.NoError(t, s.UpdateLocalIdentity(session.IdentityUpdate{Name: &name}))
	assert.Equal(t, "Ann", s.Identity().Name)
	assert.Equal(t, gametypes.Vec3{X: 1}, s.Identity().Position)
	assert.Equal(t, gametypes.Stats{}, s.Stats())

	assert.Empty(t, transport.drain())
}

func TestSession_PositionUpdatesWaitForAcknowledgement(t *testing.T) {
	s, transport := newTestSession(t)
	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))
	transport.drain()

	s.SendPositionUpdate(gametypes.Vec3{X: 1}, 0.25, gametypes.ModeBoat)
	assert.Empty(t, transport.drain())

	deliver(t, s, transport, messages.EventConnectionResponse, &messages.ConnectionResponse{ID: "p1", Name: "Ann"})
	transport.drain()

	s.SendPositionUpdate(gametypes.Vec3{X: 2, Y: 3}, 0.5, gametypes.ModeOnFoot)
	emitted := transport.drain()
	require.Len(t, emitted, 1)
	update := &messages.UpdatePosition{}
	require.NoError(t, emitted[0].Decode(update))
	assert.Equal(t, messages.UpdatePosition{X: 2, Y: 3, Rotation: 0.5, Mode: gametypes.ModeOnFoot, PlayerID: "p1"}, *update)
}

func TestSession_ReconnectReannouncesWithEmptyDirectory(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	connectivity := []bool{}
	s.OnConnectivity(func(connected bool) {
		connectivity = append(connectivity, connected)
	})

	deliver(t, s, transport, messages.EventAllPlayers, []*gametypes.PlayerState{{ID: "p2", Name: "Bo"}})
	require.Equal(t, []string{"p2"}, rosterIDs(s))

	deliver(t, s, transport, messages.EventDisconnect, nil)
	assert.False(t, s.IsConnected())
	assert.Empty(t, rosterIDs(s))
	assert.Empty(t, s.Identity().LocalID)
	assert.Empty(t, transport.drain())

	deliver(t, s, transport, messages.EventConnect, nil)
	assert.True(t, s.IsConnected())
	assert.Empty(t, rosterIDs(s))
	assert.Equal(t, []string{messages.EventPlayerJoin}, eventNames(transport.drain()))
	assert.Equal(t, []bool{false, true}, connectivity)

	deliver(t, s, transport, messages.EventConnectionResponse, &messages.ConnectionResponse{ID: "p9", Name: "Ann"})
	assert.Equal(t, "p9", s.Identity().LocalID)
}

func TestSession_ConnectMarkerDoesNotDoubleAnnounce(t *testing.T) {
	s, transport := newTestSession(t)
	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))
	deliver(t, s, transport, messages.EventConnect, nil)
	assert.Equal(t, []string{messages.EventPlayerJoin}, eventNames(transport.drain()))
}

func TestSession_ServerStatsOverrideOptimistic(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	var observed []gametypes.Stats
	s.OnStats(func(stats gametypes.Stats) {
		observed = append(observed, stats)
	})

	require.NoError(t, s.RecordFishCaught(2))
	assert.Equal(t, 2, s.Stats().FishCount)

	emitted := transport.drain()
	require.Len(t, emitted, 1)
	action := &messages.PlayerAction{}
	require.NoError(t, emitted[0].Decode(action))
	assert.Equal(t, messages.PlayerAction{Action: messages.ActionFishCaught, Value: 2, PlayerID: "p1"}, *action)

	fish := 5
	deliver(t, s, transport, messages.EventPlayerStats, &messages.PlayerStats{FishCount: &fish})
	assert.Equal(t, gametypes.Stats{FishCount: 5}, s.Stats())
	assert.Equal(t, []gametypes.Stats{{FishCount: 2}, {FishCount: 5}}, observed)
}

func TestSession_StatActions(t *testing.T) {
	tests := []struct {
		name   string
		call   func(s *session.Session) error
		want   gametypes.Stats
		action messages.PlayerAction
	}{
		{
			name:   "set stats",
			call:   func(s *session.Session) error { return s.SetStats(gametypes.Stats{FishCount: 1, MonsterKills: 2, Money: 3}) },
			want:   gametypes.Stats{FishCount: 1, MonsterKills: 2, Money: 3},
			action: messages.PlayerAction{Action: messages.ActionUpdateStats, Stats: &gametypes.Stats{FishCount: 1, MonsterKills: 2, Money: 3}, PlayerID: "p1"},
		},
		{
			name:   "increment stats",
			call:   func(s *session.Session) error { return s.IncrementStats(gametypes.Stats{Money: 10}) },
			want:   gametypes.Stats{FishCount: 1, Money: 10},
			action: messages.PlayerAction{Action: messages.ActionUpdateStats, Stats: &gametypes.Stats{FishCount: 1, Money: 10}, PlayerID: "p1"},
		},
		{
			name:   "monster killed",
			call:   func(s *session.Session) error { return s.RecordMonsterKilled(1) },
			want:   gametypes.Stats{FishCount: 1, MonsterKills: 1},
			action: messages.PlayerAction{Action: messages.ActionMonsterKilled, Value: 1, PlayerID: "p1"},
		},
		{
			name:   "money earned",
			call:   func(s *session.Session) error { return s.RecordMoneyEarned(25) },
			want:   gametypes.Stats{FishCount: 1, Money: 25},
			action: messages.PlayerAction{Action: messages.ActionMoneyEarned, Value: 25, PlayerID: "p1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, transport := newTestSession(t)
			require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))
			fish := 1
			deliver(t, s, transport, messages.EventConnectionResponse, &messages.ConnectionResponse{ID: "p1", Name: "Ann", FishCount: &fish})
			transport.drain()

			require.NoError(t, tt.call(s))
			assert.Equal(t, tt.want, s.Stats())

			emitted := transport.drain()
			require.Len(t, emitted, 1)
			assert.Equal(t, messages.EventPlayerAction, emitted[0].Event)
			action := &messages.PlayerAction{}
			require.NoError(t, emitted[0].Decode(action))
			assert.Equal(t, tt.action, *action)
		})
	}
}

func TestSession_SenderIDChain(t *testing.T) {
	s, transport := newTestSession(t)

	temp := s.SenderID()
	assert.Regexp(t, `^temp_[0-9a-f-]{36}$`, temp)
	assert.Equal(t, temp, s.SenderID())

	transport.id = "sock-1"
	assert.Equal(t, "sock-1", s.SenderID())

	connectAs(t, s, transport, "Ann", "p1")
	assert.Equal(t, "p1", s.SenderID())

	authed, authedTransport := newTestSession(t)
	provider := auth.ProviderFunc(func(ctx context.Context) (*auth.Credential, error) {
		return &auth.Credential{IDToken: "token", UID: "abc"}, nil
	})
	require.NoError(t, authed.Connect(context.Background(), session.Identity{Name: "Ann"}, provider))
	assert.Equal(t, "firebase_abc", authed.SenderID())
	assert.Equal(t, "firebase_abc", authed.Identity().AccountID)

	emitted := authedTransport.drain()
	require.Len(t, emitted, 1)
	join := &messages.PlayerJoin{}
	require.NoError(t, emitted[0].Decode(join))
	assert.Equal(t, "firebase_abc", join.PlayerID)
	assert.Equal(t, "token", join.FirebaseToken)

	deliver(t, authed, authedTransport, messages.EventConnectionResponse, &messages.ConnectionResponse{ID: "p1"})
	assert.Equal(t, "firebase_abc", authed.SenderID())
}

func TestSession_AuthFailureConnectsAnonymously(t *testing.T) {
	s, transport := newTestSession(t)
	provider := auth.ProviderFunc(func(ctx context.Context) (*auth.Credential, error) {
		return nil, errors.New("login refused")
	})

	err := s.Connect(context.Background(), session.Identity{Name: "Ann"}, provider)
	assert.True(t, session.IsAuthError(err))
	assert.True(t, s.IsConnected())
	assert.Empty(t, s.Identity().AccountID)

	emitted := transport.drain()
	require.Len(t, emitted, 1)
	join := &messages.PlayerJoin{}
	require.NoError(t, emitted[0].Decode(join))
	assert.Empty(t, join.PlayerID)
	assert.Empty(t, join.FirebaseToken)
}

func TestSession_TransportFailure(t *testing.T) {
	transport := mocks.NewTransport(t)
	transport.On("Connect", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

	s, err := session.New(session.Options{Transport: transport, Logger: log.Nop()})
	require.NoError(t, err)

	err = s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil)
	assert.True(t, session.IsTransportError(err))
	assert.False(t, s.IsConnected())

	// a failed connect can be retried
	transport.On("Connect", mock.Anything, mock.Anything).Return(nil).Once()
	transport.On("Emit", messages.EventPlayerJoin, mock.Anything).Return(nil).Once()
	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))
	assert.True(t, s.IsConnected())
}

func TestSession_ConnectTwice(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))
	assert.Error(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))
}

func TestSession_SendChat(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	require.NoError(t, s.SendChat("ahoy", ""))
	emitted := transport.drain()
	require.Len(t, emitted, 1)
	sent := &messages.SendMessage{}
	require.NoError(t, emitted[0].Decode(sent))
	assert.Equal(t, messages.SendMessage{Content: "ahoy", Type: chat.ChannelGlobal, PlayerID: "p1"}, *sent)

	// no sender name on the wire
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(emitted[0].Data, &raw))
	assert.NotContains(t, raw, "sender_name")

	assert.True(t, session.IsValidationError(s.SendChat("   ", "")))
	assert.Empty(t, transport.drain())

	transport.emitErr = &network.ErrNotConnected{}
	assert.True(t, session.IsNotConnectedError(s.SendChat("ahoy", "")))

	transport.emitErr = errors.New("write failed")
	assert.NoError(t, s.SendChat("ahoy", ""))
}

func TestSession_OwnChatResolvesLocalName(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	deliver(t, s, transport, messages.EventNewMessage, map[string]interface{}{"content": "mine", "player_id": "p1", "timestamp": 42})
	history := s.Chat().History()
	require.Len(t, history, 1)
	assert.Equal(t, "Ann", history[0].SenderName)
	assert.EqualValues(t, 42, history[0].Timestamp)
}

func TestSession_RecentMessagesReplaceHistory(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	require.NoError(t, s.RequestChatHistory("", 0))
	emitted := transport.drain()
	require.Len(t, emitted, 1)
	req := &messages.GetRecentMessages{}
	require.NoError(t, emitted[0].Decode(req))
	assert.Equal(t, messages.GetRecentMessages{Type: chat.ChannelGlobal, Limit: session.DefaultChatHistoryLimit, PlayerID: "p1"}, *req)

	deliver(t, s, transport, messages.EventNewMessage, "stale")
	deliver(t, s, transport, messages.EventRecentMessages, map[string]interface{}{
		"messages": []interface{}{
			map[string]interface{}{"content": "second", "sender_name": "Bo", "timestamp": 20},
			map[string]interface{}{"content": "first", "sender_name": "Cy", "timestamp": 10},
		},
	})

	history := s.Chat().History()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
}

func TestSession_UpdateLocalIdentity(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	blank := "   "
	err := s.UpdateLocalIdentity(session.IdentityUpdate{Name: &blank})
	var validationErr *session.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "name", validationErr.Field)
	assert.Equal(t, "Ann", s.Identity().Name)
	assert.Empty(t, transport.drain())

	name := "  Annie "
	color := gametypes.RGB{R: 1}
	require.NoError(t, s.UpdateLocalIdentity(session.IdentityUpdate{Name: &name, Color: &color}))
	assert.Equal(t, "Annie", s.Identity().Name)
	assert.Equal(t, color, s.Identity().Color)

	emitted := transport.drain()
	require.Equal(t, []string{messages.EventUpdatePlayerName, messages.EventUpdatePlayerColor}, eventNames(emitted))
	nameUpdate := &messages.UpdatePlayerName{}
	require.NoError(t, emitted[0].Decode(nameUpdate))
	assert.Equal(t, messages.UpdatePlayerName{Name: "Annie", PlayerID: "p1"}, *nameUpdate)
}

func TestSession_SetupRequired(t *testing.T) {
	s, transport := newTestSession(t)
	var setup []session.Identity
	s.OnSetupRequired(func(identity session.Identity) {
		setup = append(setup, identity)
	})

	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Guest"}, nil))
	deliver(t, s, transport, messages.EventConnectionResponse, &messages.ConnectionResponse{ID: "p1"})
	assert.True(t, s.NeedsSetup())
	require.Len(t, setup, 1)
	assert.Equal(t, "p1", setup[0].LocalID)

	name := "Ann"
	require.NoError(t, s.UpdateLocalIdentity(session.IdentityUpdate{Name: &name}))
	assert.False(t, s.NeedsSetup())
}

func TestSession_QueryLastRequestWins(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	var first, second []messages.Inventory
	require.NoError(t, s.RequestInventory(func(inv messages.Inventory) { first = append(first, inv) }))
	require.NoError(t, s.RequestInventory(func(inv messages.Inventory) { second = append(second, inv) }))
	assert.Equal(t, []string{messages.EventGetInventory, messages.EventGetInventory}, eventNames(transport.drain()))

	deliver(t, s, transport, messages.EventInventoryData, messages.Inventory{
		"fish": {{Name: "cod"}},
	})
	assert.Empty(t, first)
	require.Len(t, second, 1)
	assert.True(t, second[0].HasItem("fish", "cod"))

	// a response nobody asked for is dropped
	deliver(t, s, transport, messages.EventInventoryData, messages.Inventory{})
	assert.Len(t, second, 1)
}

func TestSession_QueryWhileDisconnected(t *testing.T) {
	s, transport := newTestSession(t)

	called := 0
	err := s.RequestLeaderboard(func(lb messages.Leaderboard) {
		called++
		assert.Nil(t, lb)
	})
	assert.True(t, session.IsNotConnectedError(err))
	assert.Equal(t, 1, called)
	assert.Empty(t, transport.drain())
}

func TestSession_QueryEmitFailureResolvesNil(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")
	transport.emitErr = &network.ErrNotConnected{}

	var got []*gametypes.Stats
	err := s.RequestStats(func(stats *gametypes.Stats) { got = append(got, stats) })
	assert.True(t, session.IsNotConnectedError(err))
	require.Len(t, got, 1)
	assert.Nil(t, got[0])
}

func TestSession_StatsAndLeaderboardQueries(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	var stats *gametypes.Stats
	require.NoError(t, s.RequestStats(func(st *gametypes.Stats) { stats = st }))
	emitted := transport.drain()
	require.Len(t, emitted, 1)
	req := &messages.PlayerRequest{}
	require.NoError(t, emitted[0].Decode(req))
	assert.Equal(t, messages.PlayerRequest{ID: "p1", PlayerID: "p1"}, *req)

	money := 7
	deliver(t, s, transport, messages.EventPlayerStats, &messages.PlayerStats{Money: &money})
	require.NotNil(t, stats)
	assert.Equal(t, 7, stats.Money)

	var pushed, answered messages.Leaderboard
	s.OnLeaderboard(func(lb messages.Leaderboard) { pushed = lb })
	require.NoError(t, s.Request(query.KindLeaderboard, nil, nil))
	require.NoError(t, s.RequestLeaderboard(func(lb messages.Leaderboard) { answered = lb }))

	board := messages.Leaderboard{"fish": {{Name: "Bo", Value: 9}}}
	deliver(t, s, transport, messages.EventLeaderboardUpdate, board)
	assert.Equal(t, board, pushed)
	assert.Equal(t, board, answered)
}

func TestSession_AddToInventory(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	require.NoError(t, s.AddToInventory("fish", "cod", map[string]int{"weight": 3}))
	emitted := transport.drain()
	require.Len(t, emitted, 1)
	add := &messages.AddToInventory{}
	require.NoError(t, emitted[0].Decode(add))
	assert.Equal(t, "cod", add.ItemName)
	assert.JSONEq(t, `{"weight":3}`, string(add.ItemData))

	assert.True(t, session.IsValidationError(s.AddToInventory("", "cod", nil)))
}

func TestSession_RunAppliesInbound(t *testing.T) {
	s, transport := newTestSession(t)
	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	msg, err := messages.NewMessage(messages.EventPlayerJoined, &gametypes.PlayerState{ID: "p2", Name: "Bo"})
	require.NoError(t, err)
	require.NoError(t, transport.inbound.Enqueue(context.Background(), msg))

	assert.Eventually(t, func() bool {
		return s.Presence().Count() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSession_CloseClearsPresence(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")
	deliver(t, s, transport, messages.EventPlayerJoined, &gametypes.PlayerState{ID: "p2", Name: "Bo"})

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
	assert.Empty(t, rosterIDs(s))
	require.NoError(t, s.Close())
}

func TestSession_RecentMessagesSkipOnlyUndecodableEntries(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")
	deliver(t, s, transport, messages.EventNewMessage, "stale")

	deliver(t, s, transport, messages.EventRecentMessages, json.RawMessage(`{"messages":[
		{"content":"b","sender_name":"Bo","timestamp":"1"},
		42,
		{"content":"a","sender_name":"Bo","timestamp":2,"player_id":{"id":"p2"}},
		"c"
	]}`))

	history := s.Chat().History()
	require.Len(t, history, 3)
	assert.Equal(t, "b", history[0].Content)
	assert.Equal(t, int64(1), history[0].Timestamp)
	assert.Equal(t, "a", history[1].Content)
	assert.Equal(t, "c", history[2].Content)
}

func TestSession_NewMessageWithStringTimestampIsStored(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	deliver(t, s, transport, messages.EventNewMessage, json.RawMessage(`{"content":"hi","sender_name":"Bo","timestamp":"1700000000001"}`))
	deliver(t, s, transport, messages.EventNewMessage, json.RawMessage(`{"content":"late","sender_name":true}`))

	history := s.Chat().History()
	require.Len(t, history, 2)
	assert.Equal(t, int64(1700000000001), history[0].Timestamp)
	assert.Equal(t, "late", history[1].Content)
	assert.Equal(t, chat.UnknownSailor, history[1].SenderName)
}

func TestSession_UndecodableResponsesResolveQueries(t *testing.T) {
	s, transport := newTestSession(t)
	connectAs(t, s, transport, "Ann", "p1")

	pushed := 0
	s.OnLeaderboard(func(messages.Leaderboard) { pushed++ })
	statsEvents := 0
	s.OnStats(func(gametypes.Stats) { statsEvents++ })

	var boards []messages.Leaderboard
	require.NoError(t, s.RequestLeaderboard(func(lb messages.Leaderboard) { boards = append(boards, lb) }))
	var stats []*gametypes.Stats
	require.NoError(t, s.RequestStats(func(st *gametypes.Stats) { stats = append(stats, st) }))

	deliver(t, s, transport, messages.EventLeaderboardUpdate, json.RawMessage(`{"fish":"oops"}`))
	deliver(t, s, transport, messages.EventPlayerStats, json.RawMessage(`{"money":"lots"}`))

	require.Len(t, boards, 1)
	assert.Nil(t, boards[0])
	require.Len(t, stats, 1)
	assert.Nil(t, stats[0])
	assert.Zero(t, pushed)
	assert.Zero(t, statsEvents)

	// the listeners were cleared
	deliver(t, s, transport, messages.EventLeaderboardUpdate, messages.Leaderboard{})
	assert.Len(t, boards, 1)
	assert.Equal(t, 1, pushed)
}

// serialRenderer fails the test when calls overlap and tracks live handles.
type serialRenderer struct {
	t      *testing.T
	lock   sync.Mutex
	inside bool
	live   map[string]bool
}

func (r *serialRenderer) enter() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.inside {
		r.t.Error("overlapping renderer calls")
	}
	r.inside = true
}

func (r *serialRenderer) exit() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.inside = false
}

func (r *serialRenderer) ParticipantAdded(id string, p presence.Participant) interface{} {
	r.enter()
	defer r.exit()
	r.lock.Lock()
	r.live[id] = true
	r.lock.Unlock()
	time.Sleep(time.Millisecond)
	return id
}

func (r *serialRenderer) ParticipantRemoved(id string, handle interface{}) {
	r.enter()
	defer r.exit()
	r.lock.Lock()
	delete(r.live, id)
	r.lock.Unlock()
}

func (r *serialRenderer) ParticipantChanged(id string, p presence.Participant, handle interface{}) {
	r.enter()
	defer r.exit()
}

func TestSession_CloseWhileDispatching(t *testing.T) {
	renderer := &serialRenderer{t: t, live: map[string]bool{}}
	transport := &fakeTransport{}
	s, err := session.New(session.Options{Transport: transport, Renderer: renderer, Logger: log.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background(), session.Identity{Name: "Ann"}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	enqueueJoins := func(from, to int) {
		for i := from; i < to; i++ {
			msg, err := messages.NewMessage(messages.EventPlayerJoined, &gametypes.PlayerState{ID: fmt.Sprintf("p%d", i), Name: "Bo"})
			require.NoError(t, err)
			require.NoError(t, transport.inbound.Enqueue(context.Background(), msg))
		}
	}
	enqueueJoins(0, 50)
	assert.Eventually(t, func() bool {
		return s.Presence().Count() > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	enqueueJoins(50, 60)
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, s.Presence().Count())
	renderer.lock.Lock()
	defer renderer.lock.Unlock()
	assert.Empty(t, renderer.live)
}
