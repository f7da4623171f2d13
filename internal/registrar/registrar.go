// Package registrar implements the com.canonical.AppMenu.Registrar service.
// Applications that export a menu proactively announce "my menu for window W
// lives at bus name B, path P"; the discovery pipeline queries the table
// locally without a bus round-trip.
package registrar

import (
	"fmt"
	"sync"

	"github.com/gmenu/gmenu/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	// ServiceName is the well-known bus name of the registrar.
	ServiceName = "com.canonical.AppMenu.Registrar"
	// ObjectPath is the object path the registrar is exported at.
	ObjectPath = dbus.ObjectPath("/com/canonical/AppMenu/Registrar")
	// Interface is the registrar's D-Bus interface name.
	Interface = "com.canonical.AppMenu.Registrar"
)

// Registration is one window's announced menu location. At most one
// registration exists per window id; last write wins.
type Registration struct {
	WindowID uint32
	BusName  string
	Path     dbus.ObjectPath
}

// Registrar owns the window-id to menu-location table and exposes it on the
// session bus. Exactly one registrar should hold the well-known name at a
// time; losing the name race is not fatal, the instance just serves an empty
// table (discovery falls through to the next strategy).
type Registrar struct {
	conn *dbus.Conn

	mu      sync.Mutex
	table   map[uint32]Registration
	byOwner map[string]map[uint32]struct{}
	active  bool
	closed  bool

	signals chan *dbus.Signal
}

// New creates a registrar bound to the given session bus connection.
func New(conn *dbus.Conn) *Registrar {
	return &Registrar{
		conn:    conn,
		table:   make(map[uint32]Registration),
		byOwner: make(map[string]map[uint32]struct{}),
		signals: make(chan *dbus.Signal, 64),
	}
}

// Start requests the well-known name and exports the registration interface.
// When another process already owns the name the registrar stays inactive and
// Start returns nil: lookups simply come back empty.
func (r *Registrar) Start() error {
	log := logger.WithComponent("registrar")

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registrar is closed")
	}
	if r.active {
		return nil
	}

	reply, err := r.conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name %s: %w", ServiceName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		log.Info().Str("name", ServiceName).
			Msg("Registrar name already owned, serving empty table")
		return nil
	}

	if err := r.conn.Export(serviceMethods{r}, ObjectPath, Interface); err != nil {
		_, _ = r.conn.ReleaseName(ServiceName)
		return fmt.Errorf("failed to export %s: %w", Interface, err)
	}

	// Track registering connections so entries pointing at dead bus names
	// are dropped when the owner disappears.
	if err := r.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		log.Warn().Err(err).Msg("Cannot watch NameOwnerChanged, stale entries will linger")
	} else {
		r.conn.Signal(r.signals)
		go r.watchOwners()
	}

	r.active = true
	log.Info().Str("name", ServiceName).Msg("Registrar active")
	return nil
}

// Stop releases the well-known name and stops owner tracking. The registrar
// cannot be restarted after Stop.
func (r *Registrar) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.active {
		r.active = false
		_ = r.conn.RemoveMatchSignal(
			dbus.WithMatchInterface("org.freedesktop.DBus"),
			dbus.WithMatchSender("org.freedesktop.DBus"),
			dbus.WithMatchMember("NameOwnerChanged"),
		)
		r.conn.RemoveSignal(r.signals)
		close(r.signals)
		if _, err := r.conn.ReleaseName(ServiceName); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the registered menu location for a window, for use by the
// local discovery pipeline.
func (r *Registrar) Lookup(windowID uint32) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.table[windowID]
	return reg, ok
}

// register stores a registration, overwriting any previous one for the same
// window id.
func (r *Registrar) register(windowID uint32, sender string, path dbus.ObjectPath) {
	r.mu.Lock()
	if prev, ok := r.table[windowID]; ok {
		r.dropOwnerRefLocked(prev.BusName, windowID)
	}
	r.table[windowID] = Registration{WindowID: windowID, BusName: sender, Path: path}
	if r.byOwner[sender] == nil {
		r.byOwner[sender] = make(map[uint32]struct{})
	}
	r.byOwner[sender][windowID] = struct{}{}
	r.mu.Unlock()

	logger.WithComponent("registrar").Debug().
		Uint32("window", windowID).
		Str("sender", sender).
		Str("path", string(path)).
		Msg("Window registered")

	r.emit(Interface+".WindowRegistered", windowID, sender, path)
}

// unregister removes a registration. Removing an absent window id is a no-op,
// not an error.
func (r *Registrar) unregister(windowID uint32) {
	r.mu.Lock()
	reg, ok := r.table[windowID]
	if ok {
		r.dropOwnerRefLocked(reg.BusName, windowID)
		delete(r.table, windowID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	logger.WithComponent("registrar").Debug().
		Uint32("window", windowID).
		Msg("Window unregistered")

	r.emit(Interface+".WindowUnregistered", windowID)
}

// emit sends a signal on the bus. A registrar constructed without a
// connection (tests) skips signal emission.
func (r *Registrar) emit(name string, values ...interface{}) {
	if r.conn == nil {
		return
	}
	_ = r.conn.Emit(ObjectPath, name, values...)
}

func (r *Registrar) dropOwnerRefLocked(owner string, windowID uint32) {
	if wins, ok := r.byOwner[owner]; ok {
		delete(wins, windowID)
		if len(wins) == 0 {
			delete(r.byOwner, owner)
		}
	}
}

// watchOwners drops registrations whose owning connection left the bus
// without calling UnregisterWindow.
func (r *Registrar) watchOwners() {
	log := logger.WithComponent("registrar")

	for sig := range r.signals {
		if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
			continue
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if name == "" || newOwner != "" {
			continue
		}

		r.mu.Lock()
		wins := r.byOwner[name]
		var dropped []uint32
		for id := range wins {
			delete(r.table, id)
			dropped = append(dropped, id)
		}
		delete(r.byOwner, name)
		r.mu.Unlock()

		for _, id := range dropped {
			log.Debug().Uint32("window", id).Str("owner", name).
				Msg("Dropping registration for vanished connection")
			r.emit(Interface+".WindowUnregistered", id)
		}
	}
}

// serviceMethods is the bus-facing method set. Kept separate so only the
// protocol methods are exported on the bus.
type serviceMethods struct {
	r *Registrar
}

// RegisterWindow stores the caller's menu location for a window. The caller's
// unique connection name is taken as the bus name.
func (s serviceMethods) RegisterWindow(sender dbus.Sender, windowID uint32, menuObjectPath dbus.ObjectPath) *dbus.Error {
	s.r.register(windowID, string(sender), menuObjectPath)
	return nil
}

// UnregisterWindow removes the registration for a window if present.
func (s serviceMethods) UnregisterWindow(sender dbus.Sender, windowID uint32) *dbus.Error {
	s.r.unregister(windowID)
	return nil
}

// GetMenuForWindow returns the registered menu location, or ("", "/") when no
// registration exists. Never an error.
func (s serviceMethods) GetMenuForWindow(windowID uint32) (string, dbus.ObjectPath, *dbus.Error) {
	reg, ok := s.r.Lookup(windowID)
	if !ok {
		return "", dbus.ObjectPath("/"), nil
	}
	return reg.BusName, reg.Path, nil
}
