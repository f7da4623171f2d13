package resolver

import (
	"context"
	"strconv"
	"strings"

	"github.com/gmenu/gmenu/internal/dbusmenu"
	"github.com/gmenu/gmenu/internal/gtkmenu"
	"github.com/gmenu/gmenu/internal/menu"
	"github.com/godbus/dbus/v5"
)

// Source is a live, resolved menu for one window: whichever protocol client
// won discovery. Exactly one source is live per window; Close must run
// before the next window's resolution starts.
type Source interface {
	// Kind is "dbusmenu" or "gtkmenu".
	Kind() string

	// BusName is the owning application's bus name.
	BusName() string

	// MenuPath is the menu object path.
	MenuPath() dbus.ObjectPath

	// Tree returns the tree fetched during resolution.
	Tree() *menu.Node

	// Refetch fetches a fresh tree, nil on failure.
	Refetch(ctx context.Context) *menu.Node

	// LayoutChanged fires when the application changed its menu and a
	// refetch is needed.
	LayoutChanged() <-chan struct{}

	// Activate dispatches a user activation of the given node back to the
	// application. Fire and forget.
	Activate(node *menu.Node)

	// AboutToShow prepares a lazily populated submenu; true means the tree
	// should be refetched (or was expanded in place) before display.
	AboutToShow(ctx context.Context, node *menu.Node) bool

	// Close tears down signal subscriptions. Idempotent.
	Close()
}

// dbusmenuSource adapts a tree-protocol client.
type dbusmenuSource struct {
	client *dbusmenu.Client
	tree   *menu.Node
}

func (s *dbusmenuSource) Kind() string             { return "dbusmenu" }
func (s *dbusmenuSource) BusName() string          { return s.client.BusName() }
func (s *dbusmenuSource) MenuPath() dbus.ObjectPath { return s.client.Path() }
func (s *dbusmenuSource) Tree() *menu.Node         { return s.tree }

func (s *dbusmenuSource) Refetch(ctx context.Context) *menu.Node {
	if tree := s.client.GetLayout(ctx); tree != nil {
		s.tree = tree
	}
	return s.tree
}

func (s *dbusmenuSource) LayoutChanged() <-chan struct{} {
	return s.client.LayoutChanged()
}

func (s *dbusmenuSource) Activate(node *menu.Node) {
	s.client.SendEvent(node.ID, "clicked")
}

func (s *dbusmenuSource) AboutToShow(ctx context.Context, node *menu.Node) bool {
	return s.client.AboutToShow(ctx, node.ID)
}

func (s *dbusmenuSource) Close() {
	s.client.Disconnect()
}

// gtkSource adapts a flat-group client.
type gtkSource struct {
	client *gtkmenu.Client
	tree   *menu.Node
}

// newGtkSource retains a client whose path probed good. Refetches of a large
// menu run without the probe bound.
func newGtkSource(client *gtkmenu.Client, tree *menu.Node) *gtkSource {
	client.SetTimeout(0)
	return &gtkSource{client: client, tree: tree}
}

func (s *gtkSource) Kind() string             { return "gtkmenu" }
func (s *gtkSource) BusName() string          { return s.client.BusName() }
func (s *gtkSource) MenuPath() dbus.ObjectPath { return s.client.Path() }
func (s *gtkSource) Tree() *menu.Node         { return s.tree }

func (s *gtkSource) Refetch(ctx context.Context) *menu.Node {
	if tree, err := s.client.Refetch(ctx); err == nil {
		s.tree = tree
	}
	return s.tree
}

func (s *gtkSource) LayoutChanged() <-chan struct{} {
	return s.client.LayoutChanged()
}

// Activate maps the action prefix onto the app or window actions object.
func (s *gtkSource) Activate(node *menu.Node) {
	if node.Action == "" {
		return
	}
	name, target := gtkmenu.SplitAction(node.Action)
	path := dispatchPath(target, s.client.AppPath, s.client.WinPath)
	if path == "" {
		return
	}
	s.client.Activate(name, path)
}

// dispatchPath selects the actions object for an action target. Window
// actions fall back to the application object when no window path was
// advertised.
func dispatchPath(target gtkmenu.ActionTarget, appPath, winPath dbus.ObjectPath) dbus.ObjectPath {
	if target == gtkmenu.TargetWin && winPath != "" {
		return winPath
	}
	return appPath
}

// AboutToShow expands a submenu reference that was left lazy at assembly.
func (s *gtkSource) AboutToShow(ctx context.Context, node *menu.Node) bool {
	if node.SubmenuRef == "" {
		return false
	}
	ref, ok := parseRefKey(node.SubmenuRef)
	if !ok {
		return false
	}
	children, err := s.client.ExpandSubmenu(ctx, ref)
	if err != nil {
		return false
	}
	node.Children = children
	node.SubmenuRef = ""
	return true
}

func (s *gtkSource) Close() {
	s.client.Disconnect()
}

// parseRefKey decodes a "group:index" submenu reference key.
func parseRefKey(key string) (gtkmenu.Ref, bool) {
	g, i, found := strings.Cut(key, ":")
	if !found {
		return gtkmenu.Ref{}, false
	}
	group, err1 := strconv.ParseUint(g, 10, 32)
	index, err2 := strconv.ParseUint(i, 10, 32)
	if err1 != nil || err2 != nil {
		return gtkmenu.Ref{}, false
	}
	return gtkmenu.Ref{Group: uint32(group), Index: uint32(index)}, true
}
