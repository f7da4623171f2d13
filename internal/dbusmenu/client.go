// Package dbusmenu implements a client for the com.canonical.dbusmenu
// interface: the recursive-tree menu protocol exported by non-GTK
// applications.
package dbusmenu

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gmenu/gmenu/internal/logger"
	"github.com/gmenu/gmenu/internal/menu"
	"github.com/godbus/dbus/v5"
)

// Interface is the dbusmenu D-Bus interface name.
const Interface = "com.canonical.dbusmenu"

// DefaultFetchTimeout bounds a GetLayout call.
const DefaultFetchTimeout = 2 * time.Second

// Client talks to one application's menu at (busName, path). The client does
// not attempt incremental patching: any change signal simply re-arms the
// LayoutChanged notification and the consumer refetches the full tree.
type Client struct {
	conn    *dbus.Conn
	busName string
	path    dbus.ObjectPath
	obj     dbus.BusObject

	// sender is the peer's unique connection name, for matching signal
	// senders on the shared bus connection.
	sender string

	fetchTimeout time.Duration

	mu        sync.Mutex
	connected bool
	signals   chan *dbus.Signal

	layoutChanged chan struct{}
}

// New creates a client for the menu exported at (busName, objectPath).
func New(conn *dbus.Conn, busName string, objectPath dbus.ObjectPath) *Client {
	return &Client{
		conn:          conn,
		busName:       busName,
		path:          objectPath,
		obj:           conn.Object(busName, objectPath),
		fetchTimeout:  DefaultFetchTimeout,
		layoutChanged: make(chan struct{}, 1),
	}
}

// SetFetchTimeout overrides the GetLayout timeout. Call before Connect.
func (c *Client) SetFetchTimeout(d time.Duration) {
	if d > 0 {
		c.fetchTimeout = d
	}
}

// BusName returns the peer's bus name.
func (c *Client) BusName() string { return c.busName }

// Path returns the menu object path.
func (c *Client) Path() dbus.ObjectPath { return c.path }

// Connect subscribes to the LayoutUpdated and ItemsPropertiesUpdated signals.
// Idempotent: a second call is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	c.sender = uniqueOwner(c.conn, c.busName)

	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember("LayoutUpdated"),
		dbus.WithMatchObjectPath(c.path),
		dbus.WithMatchSender(c.busName),
	); err != nil {
		return fmt.Errorf("subscribe LayoutUpdated: %w", err)
	}

	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember("ItemsPropertiesUpdated"),
		dbus.WithMatchObjectPath(c.path),
		dbus.WithMatchSender(c.busName),
	); err != nil {
		_ = c.conn.RemoveMatchSignal(
			dbus.WithMatchInterface(Interface),
			dbus.WithMatchMember("LayoutUpdated"),
			dbus.WithMatchObjectPath(c.path),
			dbus.WithMatchSender(c.busName),
		)
		return fmt.Errorf("subscribe ItemsPropertiesUpdated: %w", err)
	}

	c.signals = make(chan *dbus.Signal, 16)
	c.conn.Signal(c.signals)
	c.connected = true

	go c.signalLoop(c.signals)
	return nil
}

// signalLoop re-arms the layout-changed notification on either change signal
// from this client's peer. The signal channel is shared per connection, so a
// same-path signal from another bus name must not count.
func (c *Client) signalLoop(signals chan *dbus.Signal) {
	for sig := range signals {
		if sig.Path != c.path {
			continue
		}
		if sig.Sender != c.sender && sig.Sender != c.busName {
			continue
		}
		switch sig.Name {
		case Interface + ".LayoutUpdated", Interface + ".ItemsPropertiesUpdated":
			c.notifyLayoutChanged()
		}
	}
}

// uniqueOwner resolves a well-known name to the unique name of its current
// owner, for matching signal senders. Unique names pass through.
func uniqueOwner(conn *dbus.Conn, busName string) string {
	if strings.HasPrefix(busName, ":") {
		return busName
	}
	var owner string
	err := conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, busName).Store(&owner)
	if err != nil {
		return busName
	}
	return owner
}

func (c *Client) notifyLayoutChanged() {
	select {
	case c.layoutChanged <- struct{}{}:
	default:
		// A refresh is already pending; coalesce.
	}
}

// LayoutChanged returns the channel that fires when the menu needs a refetch.
func (c *Client) LayoutChanged() <-chan struct{} {
	return c.layoutChanged
}

// GetLayout fetches the full tree (unlimited depth, all properties). It
// returns nil on any failure: candidate paths are probed speculatively and
// most are expected to not exist.
func (c *Client) GetLayout(ctx context.Context) *menu.Node {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	call := c.obj.CallWithContext(ctx, Interface+".GetLayout", dbus.FlagNoAutoStart,
		int32(0), int32(-1), []string{})
	if call.Err != nil {
		logger.WithComponent("dbusmenu").Debug().
			Str("bus", c.busName).
			Str("path", string(c.path)).
			Err(call.Err).
			Msg("GetLayout failed")
		return nil
	}

	if len(call.Body) != 2 {
		logger.WithComponent("dbusmenu").Debug().
			Str("bus", c.busName).
			Msg("GetLayout: malformed reply body")
		return nil
	}

	root, err := ParseLayout(call.Body[1])
	if err != nil {
		logger.WithComponent("dbusmenu").Debug().
			Str("bus", c.busName).
			Err(err).
			Msg("GetLayout: cannot parse layout")
		return nil
	}
	return root
}

// SendEvent notifies the application of an item event, "clicked" by default.
// Fire and forget: failures are logged, never surfaced.
func (c *Client) SendEvent(itemID int32, eventType string) {
	if eventType == "" {
		eventType = "clicked"
	}
	ts := uint32(time.Now().UnixMilli())

	go func() {
		call := c.obj.Call(Interface+".Event", dbus.FlagNoAutoStart,
			itemID, eventType, dbus.MakeVariant(int32(0)), ts)
		if call.Err != nil {
			logger.WithComponent("dbusmenu").Debug().
				Str("bus", c.busName).
				Int32("item", itemID).
				Err(call.Err).
				Msg("Event send failed")
		}
	}()
}

// AboutToShow asks the application whether the given item's submenu needs a
// refresh before display. Returns false when the peer does not implement the
// call: "not implemented" is an expected outcome, not an error.
func (c *Client) AboutToShow(ctx context.Context, itemID int32) bool {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	call := c.obj.CallWithContext(ctx, Interface+".AboutToShow", dbus.FlagNoAutoStart, itemID)
	if call.Err != nil {
		return false
	}
	if len(call.Body) != 1 {
		return false
	}
	needsUpdate, ok := call.Body[0].(bool)
	return ok && needsUpdate
}

// Disconnect removes both signal subscriptions. Must be called before a
// client is discarded so a stale refresh cannot fire after a window switch.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.connected = false

	for _, member := range []string{"LayoutUpdated", "ItemsPropertiesUpdated"} {
		_ = c.conn.RemoveMatchSignal(
			dbus.WithMatchInterface(Interface),
			dbus.WithMatchMember(member),
			dbus.WithMatchObjectPath(c.path),
			dbus.WithMatchSender(c.busName),
		)
	}

	c.conn.RemoveSignal(c.signals)
	close(c.signals)
	c.signals = nil
}
