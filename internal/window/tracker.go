package window

import (
	"sync"

	"github.com/gmenu/gmenu/internal/logger"
)

// Tracker wraps a Backend and turns its callback into a deduplicated event
// channel. Consumers receive one event per distinct focused window; focus
// events for the panel's own window are dropped.
type Tracker struct {
	backend Backend

	mu      sync.RWMutex
	current *Info
	panelID uint32
	started bool
	// primed is false until the first event has been delivered. The first
	// event always fires, even if the window id coincides with the zero
	// sentinel.
	primed bool

	events chan *Info
}

// NewTracker creates a tracker over the given backend.
func NewTracker(backend Backend) *Tracker {
	return &Tracker{
		backend: backend,
		events:  make(chan *Info, 16),
	}
}

// SetPanelID tells the tracker to ignore focus events for the panel's own
// window. Call before Start.
func (t *Tracker) SetPanelID(id uint32) {
	t.mu.Lock()
	t.panelID = id
	t.mu.Unlock()
}

// Events returns the channel of active-window-changed events.
func (t *Tracker) Events() <-chan *Info {
	return t.events
}

// Active returns the last known active window, or nil before the first event.
func (t *Tracker) Active() *Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Start begins emitting events. Idempotent start is not supported; a second
// call returns the backend's error.
func (t *Tracker) Start() error {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return t.backend.Watch(t.handle)
}

// Stop stops the underlying backend watch. The event channel is left open;
// consumers exit via their own context.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	t.mu.Unlock()

	t.backend.StopWatching()
}

func (t *Tracker) handle(info *Info) {
	if info == nil {
		return
	}

	t.mu.Lock()
	if t.panelID != 0 && info.ID == t.panelID {
		t.mu.Unlock()
		return
	}
	if t.primed && t.current != nil && t.current.ID == info.ID {
		t.mu.Unlock()
		return
	}
	t.primed = true
	t.current = info
	started := t.started
	t.mu.Unlock()

	if !started {
		return
	}

	select {
	case t.events <- info:
	default:
		logger.WithComponent("tracker").Warn().
			Uint32("window", info.ID).
			Msg("Event channel full, dropping window change")
	}
}
