package session

import (
	"context"

	"github.com/cbodonnell/harbor/client/network"
	"github.com/cbodonnell/harbor/pkg/queue"
)

// Transport is a reconnecting, fire-and-forget event channel to the server.
//
// After a successful Connect the transport enqueues every inbound message on
// inbound, plus messages.EventConnect and messages.EventDisconnect markers
// when the connection is lost and re-established.
type Transport interface {
	Connect(ctx context.Context, inbound queue.Queue) error
	Emit(event string, data interface{}) error
	Close() error
	// ID is the transport-level id of the current connection, if any.
	ID() string
}

var _ Transport = &network.WSClient{}
