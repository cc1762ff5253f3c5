package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/messages"
	"github.com/cbodonnell/harbor/pkg/queue"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	DefaultReconnectMinDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay = 10 * time.Second
	DefaultPingInterval      = 5 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
)

type Options struct {
	// URL of the websocket endpoint, ws:// or wss://
	URL string
	// Compress sends zstd-compressed binary frames instead of JSON text frames
	Compress bool
	// Header is sent with every dial
	Header http.Header

	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	Logger            *log.Logger
}

func (o *Options) setDefaults() {
	if o.ReconnectMinDelay <= 0 {
		o.ReconnectMinDelay = DefaultReconnectMinDelay
	}
	if o.ReconnectMaxDelay < o.ReconnectMinDelay {
		o.ReconnectMaxDelay = DefaultReconnectMaxDelay
		if o.ReconnectMaxDelay < o.ReconnectMinDelay {
			o.ReconnectMaxDelay = o.ReconnectMinDelay
		}
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// WSClient is a reconnecting websocket transport.
//
// Inbound messages are deserialized on the read goroutine and enqueued on
// the inbound queue; nothing else happens on that goroutine. Connection
// changes are enqueued as messages.EventConnect and messages.EventDisconnect
// so they are ordered with server events.
type WSClient struct {
	opts   Options
	logger *log.Logger

	lock      sync.RWMutex
	conn      *websocket.Conn
	id        string
	inbound   queue.Queue
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup

	pingLock sync.Mutex
	ping     pingTracker
}

// NewWSClient creates a new WebSocket client.
func NewWSClient(opts Options) *WSClient {
	opts.setDefaults()
	return &WSClient{
		opts:   opts,
		logger: opts.Logger.WithComponent("network"),
	}
}

// Connect dials the server once and starts the read, ping and reconnect
// loops. Inbound messages are enqueued on inbound until Close is called.
func (c *WSClient) Connect(ctx context.Context, inbound queue.Queue) error {
	c.lock.Lock()
	if c.cancel != nil {
		c.lock.Unlock()
		return fmt.Errorf("websocket client already started")
	}
	c.lock.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.lock.Lock()
	c.inbound = inbound
	c.cancel = cancel
	c.setConnLocked(conn)
	c.lock.Unlock()

	if err := inbound.Enqueue(runCtx, &messages.Message{Event: messages.EventConnect}); err != nil {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("failed to enqueue connect status: %v", err)
	}

	c.waitGroup.Add(2)
	go func() {
		defer c.waitGroup.Done()
		c.run(runCtx, conn)
	}()
	go func() {
		defer c.waitGroup.Done()
		c.pingLoop(runCtx)
	}()

	return nil
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	c.logger.Info("Connecting to WebSocket server at %s", c.opts.URL)
	conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{
		HTTPHeader: c.opts.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	conn.SetReadLimit(messages.MessageBufferSize)
	return conn, nil
}

func (c *WSClient) setConnLocked(conn *websocket.Conn) {
	c.conn = conn
	if conn != nil {
		c.id = uuid.NewString()
	}
}

// run reads from conn until it fails, then redials with exponential backoff
// until ctx is done.
func (c *WSClient) run(ctx context.Context, conn *websocket.Conn) {
	for {
		err := c.handleMessages(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Connection lost: %v", err)

		c.lock.Lock()
		c.conn = nil
		c.lock.Unlock()
		c.pingLock.Lock()
		c.ping.reset()
		c.pingLock.Unlock()

		if err := c.enqueue(ctx, &messages.Message{Event: messages.EventDisconnect}); err != nil {
			return
		}

		conn = c.redial(ctx)
		if conn == nil {
			return
		}

		c.lock.Lock()
		if ctx.Err() != nil {
			c.lock.Unlock()
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		c.setConnLocked(conn)
		c.lock.Unlock()
		c.logger.Info("Reconnected to WebSocket server at %s", c.opts.URL)

		if err := c.enqueue(ctx, &messages.Message{Event: messages.EventConnect}); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (c *WSClient) redial(ctx context.Context) *websocket.Conn {
	delay := c.opts.ReconnectMinDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := c.dial(ctx)
		if err == nil {
			return conn
		}
		c.logger.Debug("Reconnect failed, retrying in %s: %v", delay, err)

		delay *= 2
		if delay > c.opts.ReconnectMaxDelay {
			delay = c.opts.ReconnectMaxDelay
		}
	}
}

// handleMessages handles incoming messages from the WebSocket server.
func (c *WSClient) handleMessages(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		typ, b, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return &ErrConnectionClosedByServer{}
			}
			if ctx.Err() != nil {
				return &ErrConnectionClosedByClient{}
			}
			return err
		}

		msg, err := messages.DeserializeMessage(b, typ == websocket.MessageBinary)
		if err != nil {
			c.logger.Error("Failed to handle message: %v", err)
			continue
		}
		c.logger.Trace("Received message from WebSocket server of type %s", msg.Event)

		if err := c.enqueue(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *WSClient) enqueue(ctx context.Context, msg *messages.Message) error {
	c.lock.RLock()
	inbound := c.inbound
	c.lock.RUnlock()
	if err := inbound.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue message: %v", err)
	}
	return nil
}

func (c *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.lock.RLock()
		conn := c.conn
		c.lock.RUnlock()
		if conn == nil {
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, c.opts.PingInterval)
		start := time.Now()
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			c.logger.Debug("Ping failed: %v", err)
			continue
		}

		c.pingLock.Lock()
		ping := c.ping.add(time.Since(start).Milliseconds())
		c.pingLock.Unlock()
		c.logger.Trace("Ping: %.1fms", ping)
	}
}

// Emit sends an event to the server. It fails with *ErrNotConnected while
// no connection is established; nothing is buffered for later.
func (c *WSClient) Emit(event string, data interface{}) error {
	c.lock.RLock()
	conn := c.conn
	c.lock.RUnlock()
	if conn == nil {
		return &ErrNotConnected{}
	}

	msg, err := messages.NewMessage(event, data)
	if err != nil {
		return err
	}
	b, err := messages.SerializeMessage(msg, c.opts.Compress)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	typ := websocket.MessageText
	if c.opts.Compress {
		typ = websocket.MessageBinary
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, typ, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}

	return nil
}

// Connected reports whether a connection is currently established.
func (c *WSClient) Connected() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.conn != nil
}

// ID returns the transport id of the current connection.
// It changes on every reconnect and is empty before the first connect.
func (c *WSClient) ID() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.id
}

// Ping returns the smoothed round trip time to the server.
func (c *WSClient) Ping() time.Duration {
	c.pingLock.Lock()
	defer c.pingLock.Unlock()
	return time.Duration(c.ping.ping * float64(time.Millisecond))
}

// Close closes the connection and stops reconnecting.
func (c *WSClient) Close() error {
	c.lock.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	// cancel while holding the lock so the reconnect loop cannot install a new conn
	if cancel != nil {
		cancel()
	}
	c.lock.Unlock()

	if cancel == nil {
		c.logger.Warn("WebSocket connection is already closed")
		return nil
	}

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
			c.logger.Debug("Failed to close websocket connection cleanly: %v", err)
		}
	}
	c.logger.Debug("Waiting for websocket loops to stop")
	c.waitGroup.Wait()

	c.logger.Info("WebSocket client closed")
	return nil
}
