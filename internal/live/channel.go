// Package live maintains the device's /ws push channel. The channel owns its
// ConnectionState, reconnects after a fixed delay when the socket drops, and
// broadcasts every decoded event to the registered handlers.
package live

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"

	"github.com/tobert/rdmwatch/internal/notify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultReconnectDelay is the fixed wait between a drop and the next
	// attempt. It does not grow.
	DefaultReconnectDelay = 5 * time.Second

	maxMessageSize = 1 << 20
)

// Conn is the part of a websocket connection the channel uses.
// *websocket.Conn satisfies it.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// WebsocketDialer dials with coder/websocket.
func WebsocketDialer(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(maxMessageSize)
	return c, nil
}

// Options configures a Channel.
type Options struct {
	// Origin is the device base URL, e.g. "http://192.168.4.1".
	Origin string

	Dialer         Dialer          // defaults to WebsocketDialer
	Clock          clockwork.Clock // defaults to the real clock
	ReconnectDelay time.Duration   // defaults to DefaultReconnectDelay
	DialTimeout    time.Duration   // 0 means no timeout beyond Disconnect

	Notifier notify.Notifier // optional

	// OnStateChange is called after every transition. It must not call back
	// into the Channel.
	OnStateChange func(ConnectionState)

	Verbose bool
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Channel is the push channel client.
type Channel struct {
	endpoint    string
	dial        Dialer
	clock       clockwork.Clock
	delay       time.Duration
	dialTimeout time.Duration
	notifier    notify.Notifier
	onState     func(ConnectionState)
	verbose     bool

	mu     sync.Mutex
	state  ConnectionState
	gen    uint64 // bumped by every Connect and Disconnect; stale goroutines compare against it
	cancel context.CancelFunc
	conn   Conn
	retry  clockwork.Timer

	emitMu sync.Mutex

	handlersMu  sync.RWMutex
	handlers    []handlerEntry
	nextHandler uint64
}

// New creates a Channel in the Disconnected state. Nothing is dialed until
// Connect.
func New(opts Options) (*Channel, error) {
	endpoint, err := Endpoint(opts.Origin)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		endpoint:    endpoint,
		dial:        opts.Dialer,
		clock:       opts.Clock,
		delay:       opts.ReconnectDelay,
		dialTimeout: opts.DialTimeout,
		notifier:    opts.Notifier,
		onState:     opts.OnStateChange,
		verbose:     opts.Verbose,
	}
	if c.dial == nil {
		c.dial = WebsocketDialer
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.delay <= 0 {
		c.delay = DefaultReconnectDelay
	}
	return c, nil
}

// Endpoint returns the URL the channel dials.
func (c *Channel) Endpoint() string {
	return c.endpoint
}

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnMessage registers a handler for every decoded event and returns a
// function that removes it. Handlers run in registration order on the read
// goroutine and must not block.
func (c *Channel) OnMessage(h Handler) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	id := c.nextHandler
	c.nextHandler++
	c.handlers = append(c.handlers, handlerEntry{id: id, fn: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			defer c.handlersMu.Unlock()
			for i, e := range c.handlers {
				if e.id == id {
					c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect starts a connection attempt. It is a no-op while an attempt is in
// flight or the channel is already connected.
func (c *Channel) Connect() {
	c.mu.Lock()
	ok := c.connectLocked()
	c.mu.Unlock()

	if ok {
		c.emit()
	}
}

// connectLocked moves to Connecting and starts the attempt goroutine.
// Callers hold c.mu.
func (c *Channel) connectLocked() bool {
	if c.state != Disconnected {
		return false
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = Connecting

	go c.run(ctx, gen)
	return true
}

// Disconnect closes the socket and cancels any pending reconnect. It is the
// only way to stop the retry loop.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	prev := c.state
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if prev != Disconnected {
		log.Printf("🔌 live: disconnected from %s\n", c.endpoint)
		c.emit()
	}
}

func (c *Channel) run(ctx context.Context, gen uint64) {
	dialCtx := ctx
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}

	conn, err := c.dial(dialCtx, c.endpoint)
	if err != nil {
		c.fail(gen, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		// Disconnected while dialing.
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return
	}
	c.conn = conn
	c.state = Connected
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	log.Printf("🔌 live: connected to %s\n", c.endpoint)
	c.emit()
	if c.notifier != nil {
		c.notifier.Notify("WebSocket connected", notify.Success)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.fail(gen, err)
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("⚠️  live: dropping malformed message: %v\n", err)
			continue
		}
		if ev.Type == "" {
			if c.verbose {
				log.Printf("⚠️  live: dropping message without type\n")
			}
			continue
		}
		c.dispatch(ev)
	}
}

// fail handles a dial error or a dropped socket for attempt gen. Stale
// attempts, including those ended by Disconnect, are ignored.
func (c *Channel) fail(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = Disconnected
	c.retry = c.clock.AfterFunc(c.delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "")
	}
	log.Printf("🔌 live: %s closed (%v), retrying in %s\n", c.endpoint, err, c.delay)
	c.emit()
}

// reconnect fires from the retry timer armed by attempt gen.
func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	ok := c.connectLocked()
	c.mu.Unlock()

	if ok {
		c.emit()
	}
}

func (c *Channel) dispatch(ev Event) {
	c.handlersMu.RLock()
	handlers := make([]Handler, len(c.handlers))
	for i, e := range c.handlers {
		handlers[i] = e.fn
	}
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// emit reports the current state. Transitions race with each other, so the
// state is re-read under emitMu: the last report always matches the final
// state, though a report may repeat.
func (c *Channel) emit() {
	if c.onState == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onState(c.State())
}
