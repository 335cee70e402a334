// Package notify keeps the list of transient operator notifications (toasts).
// Each notification is visible for a fixed duration, then fades, then is
// removed.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tobert/rdmwatch/internal/broadcast"
)

// Severity classifies a notification.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Title returns the capitalized severity used as a toast header.
func (s Severity) Title() string {
	switch s {
	case Success:
		return "Success"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	default:
		return "Info"
	}
}

const (
	// DefaultVisible is how long a notification stays fully visible.
	DefaultVisible = 5000 * time.Millisecond

	// DefaultFade is the fade-out time between fading and removal.
	DefaultFade = 300 * time.Millisecond
)

// Notification is one transient message.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
	Fading    bool      `json:"fading"`
}

// Notifier is the narrow interface other components post through.
type Notifier interface {
	Notify(message string, severity Severity) Notification
}

// Options configures a Center. Zero values take the defaults.
type Options struct {
	Clock   clockwork.Clock
	Visible time.Duration
	Fade    time.Duration
	Verbose bool

	// OnRemove is called once for every notification that leaves the list.
	OnRemove func(Notification)
}

type entry struct {
	n      Notification
	fade   clockwork.Timer
	remove clockwork.Timer
}

// Center owns the ordered notification list. Insertion order is display
// order. There is no cap and no deduplication.
type Center struct {
	clock    clockwork.Clock
	visible  time.Duration
	fade     time.Duration
	verbose  bool
	onRemove func(Notification)

	mu      sync.Mutex
	entries []*entry

	changes *broadcast.Hub
}

// NewCenter creates an empty Center.
func NewCenter(opts Options) *Center {
	c := &Center{
		clock:    opts.Clock,
		visible:  opts.Visible,
		fade:     opts.Fade,
		verbose:  opts.Verbose,
		onRemove: opts.OnRemove,
		changes:  broadcast.NewHub(),
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.visible <= 0 {
		c.visible = DefaultVisible
	}
	if c.fade <= 0 {
		c.fade = DefaultFade
	}
	return c
}

// Notify appends a notification and arms its fade and removal timers.
func (c *Center) Notify(message string, severity Severity) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		CreatedAt: c.clock.Now(),
	}

	e := &entry{n: n}

	c.mu.Lock()
	c.entries = append(c.entries, e)
	e.fade = c.clock.AfterFunc(c.visible, func() { c.markFading(n.ID) })
	e.remove = c.clock.AfterFunc(c.visible+c.fade, func() { c.expire(n.ID) })
	c.mu.Unlock()

	if c.verbose {
		log.Printf("🔔 %s: %s\n", severity.Title(), message)
	}

	c.changes.Notify()
	return n
}

// List returns a copy of the current notifications in display order.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notification, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.n
	}
	return out
}

// Len returns the number of notifications currently listed.
func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Remove force-removes a notification and cancels its timers. It reports
// whether the id was present; removing an unknown id is a no-op.
func (c *Center) Remove(id string) bool {
	e := c.take(id)
	if e == nil {
		return false
	}
	e.fade.Stop()
	e.remove.Stop()
	c.removed(e.n)
	return true
}

// Subscribe returns a channel signalled on every list change.
func (c *Center) Subscribe() (<-chan struct{}, func()) {
	return c.changes.Subscribe()
}

func (c *Center) markFading(id string) {
	c.mu.Lock()
	var found bool
	for _, e := range c.entries {
		if e.n.ID == id {
			e.n.Fading = true
			found = true
			break
		}
	}
	c.mu.Unlock()

	if found {
		c.changes.Notify()
	}
}

func (c *Center) expire(id string) {
	if e := c.take(id); e != nil {
		c.removed(e.n)
	}
}

// take unlinks the entry for id under the lock. Only one caller can win.
func (c *Center) take(id string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.n.ID == id {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
			return e
		}
	}
	return nil
}

func (c *Center) removed(n Notification) {
	if c.onRemove != nil {
		c.onRemove(n)
	}
	c.changes.Notify()
}
