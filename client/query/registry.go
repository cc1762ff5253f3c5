package query

import (
	"encoding/json"
	"sync"

	"github.com/cbodonnell/harbor/pkg/messages"
)

// Kind identifies a request/response pair.
type Kind string

const (
	KindInventory   Kind = "inventory"
	KindStats       Kind = "stats"
	KindLeaderboard Kind = "leaderboard"
)

type events struct {
	request  string
	response string
}

var kindEvents = map[Kind]events{
	KindInventory:   {request: messages.EventGetInventory, response: messages.EventInventoryData},
	KindStats:       {request: messages.EventGetPlayerStats, response: messages.EventPlayerStats},
	KindLeaderboard: {request: messages.EventGetLeaderboard, response: messages.EventLeaderboardUpdate},
}

// RequestEvent returns the wire event that asks for kind.
func (k Kind) RequestEvent() (string, bool) {
	e, ok := kindEvents[k]
	return e.request, ok
}

// ResponseEvent returns the wire event that answers kind.
func (k Kind) ResponseEvent() (string, bool) {
	e, ok := kindEvents[k]
	return e.response, ok
}

// KindForResponse returns the kind answered by a response event.
func KindForResponse(event string) (Kind, bool) {
	for k, e := range kindEvents {
		if e.response == event {
			return k, true
		}
	}
	return "", false
}

// Callback receives the response payload, or nil when no response will come.
type Callback func(payload json.RawMessage)

// Registry holds at most one listener per kind. The wire carries no request
// ids, so a new registration supersedes the previous one and the superseded
// callback is never invoked.
type Registry struct {
	lock      sync.Mutex
	listeners map[Kind]Callback
}

func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[Kind]Callback),
	}
}

// Register sets the listener for kind and reports whether one was replaced.
func (r *Registry) Register(kind Kind, cb Callback) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, superseded := r.listeners[kind]
	r.listeners[kind] = cb
	return superseded
}

// Resolve invokes and clears the listener for kind.
// It reports false when nothing was pending.
func (r *Registry) Resolve(kind Kind, payload json.RawMessage) bool {
	r.lock.Lock()
	cb, ok := r.listeners[kind]
	delete(r.listeners, kind)
	r.lock.Unlock()

	if !ok {
		return false
	}
	if cb != nil {
		cb(payload)
	}
	return true
}

// Pending reports whether a listener is registered for kind.
func (r *Registry) Pending(kind Kind) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, ok := r.listeners[kind]
	return ok
}
