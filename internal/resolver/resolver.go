// Package resolver locates the exported menu of the focused window's
// application. Strategies are tried strictly in order: registrar lookup, GTK
// window properties, conventional flat-group paths, conventional dbusmenu
// paths, process-id correlation. The first strategy yielding a non-empty
// menu wins and short-circuits the rest.
package resolver

import (
	"context"
	"time"

	"github.com/gmenu/gmenu/internal/config"
	"github.com/gmenu/gmenu/internal/logger"
	"github.com/gmenu/gmenu/internal/registrar"
	"github.com/gmenu/gmenu/internal/window"
	"github.com/godbus/dbus/v5"
)

// RegistrarLookup is the local (in-process) view of the registrar table.
type RegistrarLookup interface {
	Lookup(windowID uint32) (registrar.Registration, bool)
}

// WindowMeta reads per-window host metadata. Only the X11 backend provides
// it; on Wayland it is nil and the title convention is used instead.
type WindowMeta interface {
	GtkShellProps(windowID uint32) (window.GtkProps, error)
	PID(windowID uint32) (uint32, error)
}

// Prober issues the actual bus probes. Split from the resolver so discovery
// ordering is testable without a bus.
type Prober interface {
	// ProbeDBusMenu attempts a tree-protocol fetch; nil when the path does
	// not exist, times out, or yields an empty tree.
	ProbeDBusMenu(ctx context.Context, busName string, path dbus.ObjectPath) Source

	// ProbeGtkMenu attempts a flat-group Start; nil on failure or an empty
	// menubar. props carries the action object paths for dispatch.
	ProbeGtkMenu(ctx context.Context, busName string, path dbus.ObjectPath, props window.GtkProps) Source

	// ListNames enumerates bus names for process-id correlation.
	ListNames(ctx context.Context) []string

	// NameOwnerPID returns the process id owning a bus name, zero if unknown.
	NameOwnerPID(ctx context.Context, name string) uint32
}

// Resolver drives the discovery strategies for one window-change event.
type Resolver struct {
	reg    RegistrarLookup
	meta   WindowMeta
	probes Prober
	cfg    *config.Config
}

// New creates a resolver. meta may be nil (Wayland).
func New(reg RegistrarLookup, meta WindowMeta, probes Prober, cfg *config.Config) *Resolver {
	return &Resolver{reg: reg, meta: meta, probes: probes, cfg: cfg}
}

// Resolve runs the strategies in order and returns the first live source, or
// nil when every strategy failed ("no menu" until the next window change).
func (r *Resolver) Resolve(ctx context.Context, win *window.Info) Source {
	if win == nil {
		return nil
	}
	log := logger.WithComponent("resolver")

	// Strategy 1: registrar lookup. X11 only: Wayland windows have no
	// numeric id tied to a registrar key.
	if r.reg != nil && win.ID != 0 {
		if reg, ok := r.reg.Lookup(win.ID); ok {
			if src := r.probes.ProbeDBusMenu(ctx, reg.BusName, reg.Path); src != nil {
				log.Debug().Uint32("window", win.ID).Str("bus", reg.BusName).
					Msg("Resolved via registrar")
				return src
			}
		}
	}

	props := r.windowProps(win)

	// Strategy 2: explicit menubar path from window metadata.
	if props.BusName != "" && props.MenubarPath != "" {
		if src := r.probes.ProbeGtkMenu(ctx, props.BusName, dbus.ObjectPath(props.MenubarPath), props); src != nil {
			log.Debug().Uint32("window", win.ID).Str("bus", props.BusName).
				Str("path", props.MenubarPath).Msg("Resolved via window properties")
			return src
		}
	}

	if props.BusName != "" {
		// Strategy 3: conventional flat-group paths.
		for _, p := range r.cfg.GtkMenuPaths {
			if src := r.probes.ProbeGtkMenu(ctx, props.BusName, dbus.ObjectPath(p), props); src != nil {
				log.Debug().Str("bus", props.BusName).Str("path", p).
					Msg("Resolved via conventional gtk path")
				return src
			}
		}

		// Strategy 4: conventional dbusmenu paths on the same bus name.
		for _, p := range r.cfg.DBusMenuPaths {
			if src := r.probes.ProbeDBusMenu(ctx, props.BusName, dbus.ObjectPath(p)); src != nil {
				log.Debug().Str("bus", props.BusName).Str("path", p).
					Msg("Resolved via conventional dbusmenu path")
				return src
			}
		}
	}

	// Strategy 5: process-id correlation across all bus names. X11 only.
	if r.meta != nil && win.ID != 0 {
		if src := r.resolveByPID(ctx, win); src != nil {
			return src
		}
	}

	log.Debug().Uint32("window", win.ID).Str("app", win.AppID).
		Msg("No menu found for window")
	return nil
}

// windowProps gathers the menu export hints for a window: X11 properties
// where available, otherwise the Wayland toplevel-title bus-name convention.
func (r *Resolver) windowProps(win *window.Info) window.GtkProps {
	if r.meta != nil && win.ID != 0 {
		props, err := r.meta.GtkShellProps(win.ID)
		if err == nil {
			if props.MenubarPath == "" && props.UnityPath != "" {
				props.MenubarPath = props.UnityPath
			}
			return props
		}
	}

	// Wayland: the toplevel's reported title is repurposed as a bus-name
	// hint by convention.
	if len(win.Title) > 1 && win.Title[0] == ':' {
		return window.GtkProps{BusName: win.Title}
	}
	return window.GtkProps{}
}

// resolveByPID enumerates bus names and correlates their owning process ids
// against the window's. O(n) remote calls, capped by PIDScanLimit.
func (r *Resolver) resolveByPID(ctx context.Context, win *window.Info) Source {
	log := logger.WithComponent("resolver")

	pid, err := r.meta.PID(win.ID)
	if err != nil || pid == 0 {
		return nil
	}

	names := r.probes.ListNames(ctx)
	limit := r.cfg.PIDScanLimit
	scanned := 0
	for _, name := range names {
		// Only unique names: well-known names would be duplicates of a
		// unique owner we will see anyway.
		if len(name) == 0 || name[0] != ':' {
			continue
		}
		if limit > 0 && scanned >= limit {
			log.Debug().Int("limit", limit).Msg("PID correlation scan limit reached")
			break
		}
		scanned++

		if r.probes.NameOwnerPID(ctx, name) != pid {
			continue
		}
		for _, p := range r.cfg.DBusMenuPaths {
			if src := r.probes.ProbeDBusMenu(ctx, name, dbus.ObjectPath(p)); src != nil {
				log.Debug().Str("bus", name).Uint32("pid", pid).
					Msg("Resolved via process-id correlation")
				return src
			}
		}
	}
	return nil
}

// busProber is the production Prober backed by a session bus connection.
type busProber struct {
	conn *dbus.Conn
	cfg  *config.Config
}

// NewProber creates the bus-backed prober.
func NewProber(conn *dbus.Conn, cfg *config.Config) Prober {
	return &busProber{conn: conn, cfg: cfg}
}

func (p *busProber) ProbeDBusMenu(ctx context.Context, busName string, path dbus.ObjectPath) Source {
	client := newDBusMenuClient(p.conn, busName, path, p.cfg)
	client.SetFetchTimeout(time.Duration(p.cfg.Timeouts.ProbeMS) * time.Millisecond)
	tree := client.GetLayout(ctx)
	if tree == nil || len(tree.Children) == 0 {
		return nil
	}
	// Path is known good; refetches of a large tree get the full budget.
	client.SetFetchTimeout(time.Duration(p.cfg.Timeouts.TreeFetchMS) * time.Millisecond)
	if err := client.Connect(); err != nil {
		logger.WithComponent("resolver").Debug().Err(err).
			Str("bus", busName).Msg("dbusmenu signal subscription failed")
		return nil
	}
	return &dbusmenuSource{client: client, tree: tree}
}

func (p *busProber) ProbeGtkMenu(ctx context.Context, busName string, path dbus.ObjectPath, props window.GtkProps) Source {
	client := newGtkMenuClient(p.conn, busName, path, props, p.cfg)
	tree, err := client.Start(ctx)
	if err != nil || tree == nil || len(tree.Children) == 0 {
		return nil
	}
	if err := client.Connect(); err != nil {
		logger.WithComponent("resolver").Debug().Err(err).
			Str("bus", busName).Msg("gtkmenu signal subscription failed")
		client.Disconnect()
		return nil
	}
	return newGtkSource(client, tree)
}

func (p *busProber) ListNames(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, registrarTimeout(p.cfg))
	defer cancel()

	var names []string
	err := p.conn.BusObject().CallWithContext(ctx,
		"org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		logger.WithComponent("resolver").Debug().Err(err).Msg("ListNames failed")
		return nil
	}
	return names
}

func (p *busProber) NameOwnerPID(ctx context.Context, name string) uint32 {
	ctx, cancel := context.WithTimeout(ctx, registrarTimeout(p.cfg))
	defer cancel()

	var pid uint32
	err := p.conn.BusObject().CallWithContext(ctx,
		"org.freedesktop.DBus.GetConnectionUnixProcessID", 0, name).Store(&pid)
	if err != nil {
		return 0
	}
	return pid
}

func registrarTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Timeouts.RegistrarMS) * time.Millisecond
}
