package chat

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cbodonnell/harbor/pkg/events"
	"github.com/cbodonnell/harbor/pkg/log"
)

const (
	// HistoryCapacity is the maximum number of messages kept in memory
	HistoryCapacity = 100
)

// NameLookup resolves a sender id to a display name.
type NameLookup interface {
	Name(id string) (string, bool)
}

type NameLookupFunc func(id string) (string, bool)

func (f NameLookupFunc) Name(id string) (string, bool) {
	return f(id)
}

type Options struct {
	// Self resolves ids belonging to the local participant
	Self NameLookup

	// Roster resolves ids of remote participants
	Roster NameLookup

	Clock  func() time.Time
	Logger *log.Logger
}

// History is the bounded, ordered chat history.
type History struct {
	lock     sync.RWMutex
	messages []Message

	self   NameLookup
	roster NameLookup
	clock  func() time.Time
	logger *log.Logger

	onMessage  *events.Manager[Message]
	onReplaced *events.Manager[[]Message]
}

func NewHistory(opts Options) *History {
	h := &History{
		self:       opts.Self,
		roster:     opts.Roster,
		clock:      opts.Clock,
		logger:     opts.Logger,
		onMessage:  events.NewManager[Message](),
		onReplaced: events.NewManager[[]Message](),
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	h.logger = h.logger.WithComponent("chat")
	return h
}

// OnMessage registers a subscriber for appended messages.
func (h *History) OnMessage(handler func(Message)) func() {
	return h.onMessage.RegisterHandler(handler)
}

// OnHistoryReplaced registers a subscriber for bulk history replacements.
func (h *History) OnHistoryReplaced(handler func([]Message)) func() {
	return h.onReplaced.RegisterHandler(handler)
}

// PostIncoming normalizes and appends an incoming message, dropping the
// oldest when full. A *MalformedMessageError is returned when the payload
// lacked content; the message is stored regardless.
func (h *History) PostIncoming(in Incoming) (Message, error) {
	msg, err := h.normalize(in)
	if err != nil {
		h.logger.Warn("Storing chat message despite error: %v", err)
	}

	h.lock.Lock()
	h.messages = append(h.messages, msg)
	if overflow := len(h.messages) - HistoryCapacity; overflow > 0 {
		n := copy(h.messages, h.messages[overflow:])
		h.messages = h.messages[:n]
	}
	h.lock.Unlock()

	h.onMessage.Trigger(msg)
	return msg, err
}

// ReplaceHistory replaces the whole history with the given messages sorted
// ascending by timestamp. Messages with equal timestamps keep their order.
func (h *History) ReplaceHistory(in []Incoming) {
	messages := make([]Message, 0, len(in))
	for _, item := range in {
		msg, err := h.normalize(item)
		if err != nil {
			h.logger.Warn("Storing chat history entry despite error: %v", err)
		}
		messages = append(messages, msg)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
	if len(messages) > HistoryCapacity {
		messages = messages[len(messages)-HistoryCapacity:]
	}

	h.lock.Lock()
	h.messages = messages
	h.lock.Unlock()

	h.onReplaced.Trigger(h.History())
}

// History returns a copy of the stored messages, oldest first.
func (h *History) History() []Message {
	h.lock.RLock()
	defer h.lock.RUnlock()
	history := make([]Message, len(h.messages))
	copy(history, h.messages)
	return history
}

func (h *History) Len() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.messages)
}

func (h *History) normalize(in Incoming) (Message, error) {
	now := h.clock().UnixMilli()
	if in.Kind == IncomingRaw {
		return Message{
			Content:    in.Raw,
			SenderName: UnknownSender,
			Timestamp:  now,
			Channel:    ChannelGlobal,
		}, nil
	}

	s := in.Structured
	msg := Message{
		SenderName: s.SenderName,
		SenderID:   s.SenderID,
		Timestamp:  int64(s.Timestamp),
		Channel:    s.Channel,
	}

	var err error
	if s.Content == nil {
		err = &MalformedMessageError{Reason: "missing content"}
	} else {
		msg.Content = *s.Content
	}
	if len(s.Invalid) > 0 {
		err = &MalformedMessageError{Reason: "invalid " + strings.Join(s.Invalid, ", ")}
	}
	if strings.TrimSpace(msg.SenderName) == "" {
		msg.SenderName = h.resolveName(s.SenderID)
	}
	if msg.Timestamp <= 0 {
		msg.Timestamp = now
	}
	if msg.Channel == "" {
		msg.Channel = ChannelGlobal
	}
	return msg, err
}

func (h *History) resolveName(senderID string) string {
	if senderID == "" {
		return UnknownSailor
	}
	if h.self != nil {
		if name, ok := h.self.Name(senderID); ok && name != "" {
			return name
		}
	}
	if h.roster != nil {
		if name, ok := h.roster.Name(senderID); ok && name != "" {
			return name
		}
	}
	return UnknownSailor
}
