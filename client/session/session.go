package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/harbor/client/chat"
	"github.com/cbodonnell/harbor/client/presence"
	"github.com/cbodonnell/harbor/client/query"
	"github.com/cbodonnell/harbor/pkg/auth"
	"github.com/cbodonnell/harbor/pkg/events"
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/messages"
	"github.com/cbodonnell/harbor/pkg/queue"
	"github.com/google/uuid"
)

const (
	// DefaultChatHistoryLimit is the number of messages requested when no limit is given
	DefaultChatHistoryLimit = 50
)

type Options struct {
	Transport Transport
	// Renderer receives participant lifecycle callbacks; optional
	Renderer presence.Renderer

	Logger    *log.Logger
	Clock     func() time.Time
	QueueSize int
}

// Session owns the connection to the server and the local state mirrored
// from it. All inbound events are applied by a single dispatcher, either
// Run or ProcessPending.
type Session struct {
	transport Transport
	inbound   *queue.InMemoryQueue
	presence  *presence.Directory
	chat      *chat.History
	queries   *query.Registry
	logger    *log.Logger
	clock     func() time.Time

	// dispatch is held while an inbound event is applied
	dispatch sync.Mutex

	lock       sync.RWMutex
	started    bool
	connected  bool
	identity   Identity
	credential *auth.Credential
	needsSetup bool
	tempID     string

	onConnectivity  *events.Manager[bool]
	onStats         *events.Manager[gametypes.Stats]
	onSetupRequired *events.Manager[Identity]
	onLeaderboard   *events.Manager[messages.Leaderboard]
}

// New creates a disconnected session.
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Session{
		transport:       opts.Transport,
		inbound:         queue.NewInMemoryQueue(opts.QueueSize),
		queries:         query.NewRegistry(),
		logger:          opts.Logger.WithComponent("session"),
		clock:           opts.Clock,
		onConnectivity:  events.NewManager[bool](),
		onStats:         events.NewManager[gametypes.Stats](),
		onSetupRequired: events.NewManager[Identity](),
		onLeaderboard:   events.NewManager[messages.Leaderboard](),
	}
	s.presence = presence.NewDirectory(opts.Renderer, opts.Logger)
	s.chat = chat.NewHistory(chat.Options{
		Self:   chat.NameLookupFunc(s.selfName),
		Roster: s.presence,
		Clock:  opts.Clock,
		Logger: opts.Logger,
	})
	return s, nil
}

// Connect establishes the transport and announces the local participant.
//
// The credential provider is called once; when it fails the session
// connects anonymously and Connect returns an *AuthError after connecting.
// When the transport cannot be established a *TransportError is returned
// and the session stays disconnected.
func (s *Session) Connect(ctx context.Context, identity Identity, provider auth.CredentialProvider) error {
	s.lock.Lock()
	if s.started {
		s.lock.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.lock.Unlock()

	var authErr error
	var credential *auth.Credential
	if provider != nil {
		cred, err := provider.Credential(ctx)
		if err != nil {
			s.logger.Warn("Failed to acquire credential, connecting anonymously: %v", err)
			authErr = &AuthError{Err: err}
		} else {
			credential = cred
		}
	}

	s.lock.Lock()
	identity.LocalID = ""
	identity.AccountID = credential.AccountID()
	s.identity = identity
	s.credential = credential
	s.lock.Unlock()

	if err := s.transport.Connect(ctx, s.inbound); err != nil {
		s.lock.Lock()
		s.started = false
		s.lock.Unlock()
		return &TransportError{Err: err}
	}

	// the dispatcher may already have seen the connect marker and announced
	if s.setConnected(true) {
		s.announce()
	}

	return authErr
}

// Close closes the transport and evicts every remote participant. The
// eviction waits for an event being applied by the dispatcher, and events
// still queued or dequeued afterwards are dropped. Close must not be
// called from a subscriber running on the dispatcher.
func (s *Session) Close() error {
	s.lock.Lock()
	started := s.started
	s.started = false
	s.lock.Unlock()
	if !started {
		return nil
	}

	err := s.transport.Close()

	s.dispatch.Lock()
	s.inbound.ClearQueue()
	if s.setConnected(false) {
		s.presence.Clear()
	}
	s.dispatch.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close transport: %v", err)
	}
	return nil
}

// Run applies inbound events until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	for {
		item, err := s.inbound.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		s.handleItem(item)
	}
}

// ProcessPending applies every queued inbound event without blocking and
// returns how many were applied. It is meant for hosts driving the session
// from a frame loop.
func (s *Session) ProcessPending() int {
	items := s.inbound.ReadAllMessages()
	for _, item := range items {
		s.handleItem(item)
	}
	return len(items)
}

// setConnected updates the connectivity flag and reports whether it changed.
func (s *Session) setConnected(connected bool) bool {
	s.lock.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.lock.Unlock()

	if changed {
		s.logger.Info("Connectivity changed: connected=%t", connected)
		s.onConnectivity.Trigger(connected)
	}
	return changed
}

// announce sends player_join with the current identity and pose.
func (s *Session) announce() {
	s.lock.RLock()
	identity := s.identity
	join := &messages.PlayerJoin{
		Name:     identity.Name,
		Color:    identity.Color,
		Position: identity.Position,
		Rotation: identity.Rotation,
		Mode:     identity.Mode,
		PlayerID: identity.AccountID,
	}
	if s.credential != nil {
		join.FirebaseToken = s.credential.IDToken
	}
	s.lock.RUnlock()

	s.emit(messages.EventPlayerJoin, join)
}

// emit sends an event and logs failures. Outbound events are fire-and-forget.
func (s *Session) emit(event string, data interface{}) bool {
	if err := s.transport.Emit(event, data); err != nil {
		s.logger.Error("Failed to send %s: %v", event, err)
		return false
	}
	s.logger.Trace("Sent %s", event)
	return true
}

func (s *Session) IsConnected() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.connected
}

// Identity returns a copy of the local identity.
func (s *Session) Identity() Identity {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.identity
}

func (s *Session) Stats() gametypes.Stats {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.identity.Stats
}

// NeedsSetup reports whether the server had no stored name for this account.
func (s *Session) NeedsSetup() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.needsSetup
}

func (s *Session) Presence() *presence.Directory {
	return s.presence
}

func (s *Session) Chat() *chat.History {
	return s.chat
}

// OnlineCount is the number of remote participants plus the local one.
func (s *Session) OnlineCount() int {
	return s.presence.Count() + 1
}

// SenderID returns the id stamped on outbound events: the account id, else
// the server-assigned id, else the transport id, else a random temporary id
// kept for the lifetime of the session.
func (s *Session) SenderID() string {
	s.lock.RLock()
	accountID, localID := s.identity.AccountID, s.identity.LocalID
	s.lock.RUnlock()
	if accountID != "" {
		return accountID
	}
	if localID != "" {
		return localID
	}
	if id := s.transport.ID(); id != "" {
		return id
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.tempID == "" {
		s.tempID = "temp_" + uuid.NewString()
		s.logger.Warn("No player id known, using temporary id %s", s.tempID)
	}
	return s.tempID
}

// selfName resolves ids belonging to the local participant.
func (s *Session) selfName(id string) (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if id == "" {
		return "", false
	}
	if id == s.identity.LocalID || id == s.identity.AccountID || id == s.tempID {
		return s.identity.Name, true
	}
	return "", false
}

// OnConnectivity registers a subscriber for connectivity changes.
func (s *Session) OnConnectivity(handler func(connected bool)) func() {
	return s.onConnectivity.RegisterHandler(handler)
}

// OnStats registers a subscriber for local stats changes.
func (s *Session) OnStats(handler func(stats gametypes.Stats)) func() {
	return s.onStats.RegisterHandler(handler)
}

// OnSetupRequired registers a subscriber notified when the server has no
// stored name for this account.
func (s *Session) OnSetupRequired(handler func(identity Identity)) func() {
	return s.onSetupRequired.RegisterHandler(handler)
}

// OnLeaderboard registers a subscriber for leaderboard pushes.
func (s *Session) OnLeaderboard(handler func(leaderboard messages.Leaderboard)) func() {
	return s.onLeaderboard.RegisterHandler(handler)
}
