// Package gtkmenu implements a client for the org.gtk.Menus interface: the
// group-indexed flat menu protocol exported by GTK applications.
package gtkmenu

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

// Interface is the flat-group menu D-Bus interface name.
const Interface = "org.gtk.Menus"

// ActionsInterface is the action dispatch interface exported alongside.
const ActionsInterface = "org.gtk.Actions"

// subscribeGroups is the fixed set of group ids pre-subscribed on Start.
// Applications rarely use more than a handful of groups for a menubar.
var subscribeGroups = []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

// Client talks to one application's flat-group menu. AppPath and WinPath are
// the org.gtk.Actions objects used for activation dispatch; WinPath may be
// empty.
type Client struct {
	conn    *dbus.Conn
	busName string
	path    dbus.ObjectPath

	// sender is the peer's unique connection name, for matching signal
	// senders on the shared bus connection.
	sender string

	AppPath dbus.ObjectPath
	WinPath dbus.ObjectPath

	timeout time.Duration

	mu        sync.Mutex
	connected bool
	started   bool
	rows      Rows
	signals   chan *dbus.Signal

	layoutChanged chan struct{}
}

// New creates a client for the menu exported at (busName, objectPath).
func New(conn *dbus.Conn, busName string, objectPath dbus.ObjectPath) *Client {
	return &Client{
		conn:          conn,
		busName:       busName,
		path:          objectPath,
		timeout:       500 * time.Millisecond,
		layoutChanged: make(chan struct{}, 1),
	}
}

// SetTimeout overrides the Start/probe timeout. Zero means no bound, used on
// a path already known good.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Timeout returns the current Start/probe bound. Zero means unlimited.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// BusName returns the peer's bus name.
func (c *Client) BusName() string { return c.busName }

// Path returns the menu object path.
func (c *Client) Path() dbus.ObjectPath { return c.path }

// Start issues the subscription call and returns the assembled tree. An
// empty or failed response returns an error so discovery can move on to the
// next candidate.
func (c *Client) Start(ctx context.Context) (*menu.Node, error) {
	rows, err := c.fetchGroups(ctx, subscribeGroups)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows["0:0"]) == 0 {
		return nil, fmt.Errorf("no menubar rows at %s%s", c.busName, c.path)
	}

	c.mu.Lock()
	c.rows = rows
	c.started = true
	c.mu.Unlock()

	return Assemble(rows), nil
}

// Refetch re-issues the subscription call and reassembles the tree, for use
// after a Changed signal.
func (c *Client) Refetch(ctx context.Context) (*menu.Node, error) {
	return c.Start(ctx)
}

// ExpandSubmenu resolves a submenu reference that pointed outside the
// pre-subscribed groups, fetching the missing group on demand.
func (c *Client) ExpandSubmenu(ctx context.Context, ref Ref) ([]*menu.Node, error) {
	extra, err := c.fetchGroups(ctx, []uint32{ref.Group})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.rows == nil {
		c.rows = Rows{}
	}
	for k, v := range extra {
		c.rows[k] = v
	}
	merged := c.rows
	c.mu.Unlock()

	return assembleList(merged, ref.Key(), map[string]bool{}), nil
}

// fetchGroups issues org.gtk.Menus.Start for the given group ids.
func (c *Client) fetchGroups(ctx context.Context, groups []uint32) (Rows, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	obj := c.conn.Object(c.busName, c.path)
	call := obj.CallWithContext(ctx, Interface+".Start", dbus.FlagNoAutoStart, groups)
	if call.Err != nil {
		return nil, fmt.Errorf("Start at %s%s: %w", c.busName, c.path, call.Err)
	}

	var reply []struct {
		Group uint32
		Index uint32
		Items []map[string]dbus.Variant
	}
	if err := call.Store(&reply); err != nil {
		return nil, fmt.Errorf("Start reply at %s%s: %w", c.busName, c.path, err)
	}

	rows := make(Rows, len(reply))
	for _, tuple := range reply {
		key := Ref{Group: tuple.Group, Index: tuple.Index}.Key()
		entries := make([]Entry, 0, len(tuple.Items))
		for _, item := range tuple.Items {
			entries = append(entries, parseEntry(item))
		}
		rows[key] = entries
	}
	return rows, nil
}

// parseEntry maps one item property bag onto an Entry.
func parseEntry(item map[string]dbus.Variant) Entry {
	var e Entry

	if v, ok := item["label"]; ok {
		if s, ok := v.Value().(string); ok {
			e.Label = s
			e.HasLabel = true
		}
	}
	if v, ok := item["action"]; ok {
		if s, ok := v.Value().(string); ok {
			e.Action = s
		}
	}
	if ref := parseRef(item, ":section"); ref != nil {
		e.Section = ref
	}
	if ref := parseRef(item, ":submenu"); ref != nil {
		e.Submenu = ref
	}
	return e
}

// parseRef decodes a (uu) group reference property.
func parseRef(item map[string]dbus.Variant, key string) *Ref {
	v, ok := item[key]
	if !ok {
		return nil
	}
	pair, ok := v.Value().([]interface{})
	if !ok || len(pair) != 2 {
		return nil
	}
	group, ok1 := pair[0].(uint32)
	index, ok2 := pair[1].(uint32)
	if !ok1 || !ok2 {
		return nil
	}
	return &Ref{Group: group, Index: index}
}

// Connect subscribes to the Changed signal; any change re-arms the
// LayoutChanged notification. Idempotent.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	c.sender = uniqueOwner(c.conn, c.busName)

	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember("Changed"),
		dbus.WithMatchObjectPath(c.path),
		dbus.WithMatchSender(c.busName),
	); err != nil {
		return fmt.Errorf("subscribe Changed: %w", err)
	}

	c.signals = make(chan *dbus.Signal, 16)
	c.conn.Signal(c.signals)
	c.connected = true

	go c.signalLoop(c.signals)
	return nil
}

// signalLoop re-arms the layout-changed notification on a Changed signal from
// this client's peer. The signal channel is shared per connection, so a
// same-path signal from another bus name must not count.
func (c *Client) signalLoop(signals chan *dbus.Signal) {
	for sig := range signals {
		if sig.Path != c.path || sig.Name != Interface+".Changed" {
			continue
		}
		if sig.Sender != c.sender && sig.Sender != c.busName {
			continue
		}
		select {
		case c.layoutChanged <- struct{}{}:
		default:
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

// LayoutChanged returns the channel that fires when the menu needs a refetch.
func (c *Client) LayoutChanged() <-chan struct{} {
	return c.layoutChanged
}

// Activate dispatches an action by name against the given actions object
// path, with an empty parameter list and empty platform data. Fire and
// forget.
func (c *Client) Activate(actionName string, path dbus.ObjectPath) {
	go func() {
		obj := c.conn.Object(c.busName, path)
		call := obj.Call(ActionsInterface+".Activate", dbus.FlagNoAutoStart,
			actionName, []dbus.Variant{}, map[string]dbus.Variant{})
		if call.Err != nil {
			logger.WithComponent("gtkmenu").Debug().
				Str("bus", c.busName).
				Str("action", actionName).
				Str("path", string(path)).
				Err(call.Err).
				Msg("Activate failed")
		}
	}()
}

// Disconnect releases the subscription and removes the Changed match. Must
// be called before a client is discarded.
func (c *Client) Disconnect() {
	c.mu.Lock()
	started := c.started
	connected := c.connected
	c.started = false
	c.connected = false
	signals := c.signals
	c.signals = nil
	c.mu.Unlock()

	if connected {
		_ = c.conn.RemoveMatchSignal(
			dbus.WithMatchInterface(Interface),
			dbus.WithMatchMember("Changed"),
			dbus.WithMatchObjectPath(c.path),
			dbus.WithMatchSender(c.busName),
		)
		c.conn.RemoveSignal(signals)
		close(signals)
	}

	if started {
		// Best effort: tell the application we no longer need the groups.
		obj := c.conn.Object(c.busName, c.path)
		go obj.Call(Interface+".End", dbus.FlagNoAutoStart, subscribeGroups)
	}
}
