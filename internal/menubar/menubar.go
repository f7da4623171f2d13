// Package menubar coordinates window tracking, menu discovery, and
// activation dispatch. It consumes active-window events, drives the resolver,
// retains the winning protocol client, and republishes the rendered model on
// every change.
package menubar

import (
	"context"
	"fmt"
	"sync"

	"github.com/gmenu/gmenu/internal/logger"
	"github.com/gmenu/gmenu/internal/menu"
	"github.com/gmenu/gmenu/internal/resolver"
	"github.com/gmenu/gmenu/internal/window"
)

// Resolver runs the discovery strategies for one window.
type Resolver interface {
	Resolve(ctx context.Context, win *window.Info) resolver.Source
}

// Model is the published state: the focused window and its resolved menu.
// Tree is nil when no strategy succeeded.
type Model struct {
	Window   *window.Info `json:"window"`
	Protocol string       `json:"protocol,omitempty"`
	Tree     *menu.Node   `json:"tree,omitempty"`
}

// MenuBar is the top-level coordinator.
type MenuBar struct {
	events   <-chan *window.Info
	resolver Resolver

	mu        sync.RWMutex
	model     Model
	src       resolver.Source
	srcDone   chan struct{}
	epoch     uint64
	listeners []chan Model

	refresh chan uint64
}

// New creates a coordinator consuming the given window-change events.
func New(events <-chan *window.Info, res Resolver) *MenuBar {
	return &MenuBar{
		events:   events,
		resolver: res,
		refresh:  make(chan uint64, 4),
	}
}

// Run processes events until the context is cancelled or the event channel
// closes. Resolution and re-rendering happen on this single goroutine;
// discovery strategies are therefore never raced against each other.
func (m *MenuBar) Run(ctx context.Context) {
	defer m.discardSource()

	for {
		select {
		case <-ctx.Done():
			return
		case win, ok := <-m.events:
			if !ok {
				return
			}
			m.handleWindowChange(ctx, win)
		case epoch := <-m.refresh:
			m.handleRefresh(ctx, epoch)
		}
	}
}

// handleWindowChange tears down the previous client, clears the model, and
// resolves the new window. The previous client's signals are unsubscribed
// before resolution begins so a stale refresh can never leak across windows.
func (m *MenuBar) handleWindowChange(ctx context.Context, win *window.Info) {
	log := logger.WithComponent("menubar")

	m.discardSource()

	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.model = Model{Window: win}
	m.mu.Unlock()
	m.publish()

	src := m.resolver.Resolve(ctx, win)

	// A newer window-change event queued while resolution was in flight
	// supersedes this result.
	select {
	case next, ok := <-m.events:
		if src != nil {
			src.Close()
		}
		if ok {
			m.handleWindowChange(ctx, next)
		}
		return
	default:
	}

	if src == nil {
		return
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.src = src
	m.srcDone = done
	m.model = Model{Window: win, Protocol: src.Kind(), Tree: src.Tree()}
	m.mu.Unlock()
	m.publish()

	log.Debug().
		Str("app", win.AppID).
		Str("protocol", src.Kind()).
		Str("bus", src.BusName()).
		Msg("Menu resolved")

	go m.forwardLayoutChanges(src, epoch, done)
}

// forwardLayoutChanges relays the retained client's change notifications
// into the run loop, tagged with the epoch that owns the client.
func (m *MenuBar) forwardLayoutChanges(src resolver.Source, epoch uint64, done chan struct{}) {
	ch := src.LayoutChanged()
	if ch == nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case m.refresh <- epoch:
			case <-done:
				return
			}
		}
	}
}

// handleRefresh refetches and re-renders after a change signal. Stale epochs
// (signals from a client discarded by a window switch) are dropped.
func (m *MenuBar) handleRefresh(ctx context.Context, epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.src == nil {
		m.mu.Unlock()
		return
	}
	src := m.src
	m.mu.Unlock()

	tree := src.Refetch(ctx)

	m.mu.Lock()
	if epoch != m.epoch || m.src != src {
		m.mu.Unlock()
		return
	}
	m.model.Tree = tree
	m.mu.Unlock()
	m.publish()
}

// discardSource closes the retained client and stops its forwarder.
func (m *MenuBar) discardSource() {
	m.mu.Lock()
	src := m.src
	done := m.srcDone
	m.src = nil
	m.srcDone = nil
	m.mu.Unlock()

	if done != nil {
		close(done)
	}
	if src != nil {
		src.Close()
	}
}

// Model returns the current rendered model.
func (m *MenuBar) Model() Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

// Activate dispatches a user activation. Items are addressed by dbusmenu id
// or by flat-protocol action name, whichever the item carries.
func (m *MenuBar) Activate(id int32, action string) error {
	m.mu.RLock()
	src := m.src
	tree := m.model.Tree
	m.mu.RUnlock()

	if src == nil || tree == nil {
		return fmt.Errorf("no menu to activate")
	}

	node := findNode(tree, id, action)
	if node == nil {
		return fmt.Errorf("no such menu item")
	}

	src.Activate(node)
	return nil
}

// PrepareSubmenu notifies the application that a submenu is about to open
// and refetches when the application asks for it.
func (m *MenuBar) PrepareSubmenu(ctx context.Context, id int32, action string) error {
	m.mu.RLock()
	src := m.src
	tree := m.model.Tree
	epoch := m.epoch
	m.mu.RUnlock()

	if src == nil || tree == nil {
		return fmt.Errorf("no menu to prepare")
	}
	node := findNode(tree, id, action)
	if node == nil {
		return fmt.Errorf("no such menu item")
	}

	if src.AboutToShow(ctx, node) {
		m.handleRefresh(ctx, epoch)
	}
	return nil
}

// findNode walks the tree for an item with the given dbusmenu id (nonzero)
// or action name.
func findNode(n *menu.Node, id int32, action string) *menu.Node {
	if (id != 0 && n.ID == id) || (action != "" && n.Action == action) {
		return n
	}
	for _, c := range n.Children {
		if found := findNode(c, id, action); found != nil {
			return found
		}
	}
	return nil
}

// Subscribe adds a listener for model changes.
func (m *MenuBar) Subscribe() chan Model {
	ch := make(chan Model, 8)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *MenuBar) Unsubscribe(ch chan Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// publish notifies all listeners of the current model.
func (m *MenuBar) publish() {
	m.mu.RLock()
	model := m.model
	listeners := make([]chan Model, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		select {
		case l <- model:
		default:
			// Slow listener; it will catch up on the next publish.
		}
	}
}
