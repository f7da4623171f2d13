package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/gmenu/gmenu/internal/config"
	"github.com/gmenu/gmenu/internal/menu"
	"github.com/gmenu/gmenu/internal/registrar"
	"github.com/gmenu/gmenu/internal/window"
	"github.com/godbus/dbus/v5"
)

type fakeSource struct {
	kind string
	bus  string
	path dbus.ObjectPath
}

func (f *fakeSource) Kind() string                                        { return f.kind }
func (f *fakeSource) BusName() string                                     { return f.bus }
func (f *fakeSource) MenuPath() dbus.ObjectPath                           { return f.path }
func (f *fakeSource) Tree() *menu.Node                                    { return menu.NewNode(0) }
func (f *fakeSource) Refetch(context.Context) *menu.Node                  { return menu.NewNode(0) }
func (f *fakeSource) LayoutChanged() <-chan struct{}                      { return nil }
func (f *fakeSource) Activate(*menu.Node)                                 {}
func (f *fakeSource) AboutToShow(context.Context, *menu.Node) bool        { return false }
func (f *fakeSource) Close()                                              {}

// fakeProber records every probe and answers from canned tables.
type fakeProber struct {
	calls []string

	dbusmenuOK map[string]bool // "bus|path" -> success
	gtkOK      map[string]bool
	names      []string
	pids       map[string]uint32
}

func (p *fakeProber) key(bus string, path dbus.ObjectPath) string {
	return fmt.Sprintf("%s|%s", bus, path)
}

func (p *fakeProber) ProbeDBusMenu(_ context.Context, bus string, path dbus.ObjectPath) Source {
	p.calls = append(p.calls, "dbusmenu:"+p.key(bus, path))
	if p.dbusmenuOK[p.key(bus, path)] {
		return &fakeSource{kind: "dbusmenu", bus: bus, path: path}
	}
	return nil
}

func (p *fakeProber) ProbeGtkMenu(_ context.Context, bus string, path dbus.ObjectPath, _ window.GtkProps) Source {
	p.calls = append(p.calls, "gtk:"+p.key(bus, path))
	if p.gtkOK[p.key(bus, path)] {
		return &fakeSource{kind: "gtkmenu", bus: bus, path: path}
	}
	return nil
}

func (p *fakeProber) ListNames(context.Context) []string {
	p.calls = append(p.calls, "listnames")
	return p.names
}

func (p *fakeProber) NameOwnerPID(_ context.Context, name string) uint32 {
	p.calls = append(p.calls, "pid:"+name)
	return p.pids[name]
}

type fakeRegistrar map[uint32]registrar.Registration

func (f fakeRegistrar) Lookup(id uint32) (registrar.Registration, bool) {
	r, ok := f[id]
	return r, ok
}

type fakeMeta struct {
	props window.GtkProps
	pid   uint32
}

func (f *fakeMeta) GtkShellProps(uint32) (window.GtkProps, error) { return f.props, nil }
func (f *fakeMeta) PID(uint32) (uint32, error)                    { return f.pid, nil }

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.GtkMenuPaths = []string{"/gtk/a", "/gtk/b"}
	cfg.DBusMenuPaths = []string{"/dm/a", "/dm/b"}
	return cfg
}

func TestRegistrarWinsAndShortCircuits(t *testing.T) {
	prober := &fakeProber{
		dbusmenuOK: map[string]bool{":1.5|/menu": true},
		gtkOK:      map[string]bool{":1.9|/gtk/a": true},
	}
	reg := fakeRegistrar{42: {WindowID: 42, BusName: ":1.5", Path: "/menu"}}
	meta := &fakeMeta{props: window.GtkProps{BusName: ":1.9"}}

	r := New(reg, meta, prober, testConfig())
	src := r.Resolve(context.Background(), &window.Info{ID: 42, AppID: "Files"})

	if src == nil || src.BusName() != ":1.5" {
		t.Fatalf("registrar result should win, got %v", src)
	}
	if len(prober.calls) != 1 || prober.calls[0] != "dbusmenu::1.5|/menu" {
		t.Fatalf("no conventional probe may be issued after registrar success, calls: %v", prober.calls)
	}
}

func TestExplicitMenubarPathBeforeConventional(t *testing.T) {
	prober := &fakeProber{
		gtkOK: map[string]bool{":1.42|/org/gtk/Application/menubar": true},
	}
	meta := &fakeMeta{props: window.GtkProps{
		BusName:     ":1.42",
		MenubarPath: "/org/gtk/Application/menubar",
	}}

	r := New(fakeRegistrar{}, meta, prober, testConfig())
	src := r.Resolve(context.Background(), &window.Info{ID: 7, AppID: "Files"})

	if src == nil || src.Kind() != "gtkmenu" {
		t.Fatalf("expected gtkmenu source, got %v", src)
	}
	if len(prober.calls) != 1 {
		t.Fatalf("explicit path success must short-circuit, calls: %v", prober.calls)
	}
}

func TestConventionalPathFallthroughOrder(t *testing.T) {
	// Nothing succeeds until the second conventional dbusmenu path.
	prober := &fakeProber{
		dbusmenuOK: map[string]bool{":1.42|/dm/b": true},
	}
	meta := &fakeMeta{props: window.GtkProps{BusName: ":1.42"}}

	r := New(fakeRegistrar{}, meta, prober, testConfig())
	src := r.Resolve(context.Background(), &window.Info{ID: 7})

	if src == nil || src.MenuPath() != dbus.ObjectPath("/dm/b") {
		t.Fatalf("expected /dm/b source, got %v", src)
	}

	want := []string{
		"gtk::1.42|/gtk/a",
		"gtk::1.42|/gtk/b",
		"dbusmenu::1.42|/dm/a",
		"dbusmenu::1.42|/dm/b",
	}
	if len(prober.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", prober.calls, want)
	}
	for i := range want {
		if prober.calls[i] != want[i] {
			t.Fatalf("probe order: calls = %v, want %v", prober.calls, want)
		}
	}
}

func TestPIDCorrelationLastResort(t *testing.T) {
	prober := &fakeProber{
		names: []string{"org.freedesktop.DBus", ":1.7", ":1.8"},
		pids:  map[string]uint32{":1.7": 100, ":1.8": 2000},
		dbusmenuOK: map[string]bool{
			":1.8|/dm/a": true,
		},
	}
	// No bus name hints at all: strategies 2-4 are skipped.
	meta := &fakeMeta{pid: 2000}

	r := New(fakeRegistrar{}, meta, prober, testConfig())
	src := r.Resolve(context.Background(), &window.Info{ID: 7})

	if src == nil || src.BusName() != ":1.8" {
		t.Fatalf("expected pid-correlated source on :1.8, got %v", src)
	}

	// Well-known names are skipped entirely.
	for _, c := range prober.calls {
		if c == "pid:org.freedesktop.DBus" {
			t.Fatal("well-known names must not be queried for pids")
		}
	}
}

func TestPIDScanLimit(t *testing.T) {
	cfg := testConfig()
	cfg.PIDScanLimit = 2

	names := []string{":1.1", ":1.2", ":1.3", ":1.4"}
	prober := &fakeProber{names: names, pids: map[string]uint32{}}
	meta := &fakeMeta{pid: 55}

	r := New(fakeRegistrar{}, meta, prober, cfg)
	if src := r.Resolve(context.Background(), &window.Info{ID: 7}); src != nil {
		t.Fatal("no source expected")
	}

	pidQueries := 0
	for _, c := range prober.calls {
		if len(c) > 4 && c[:4] == "pid:" {
			pidQueries++
		}
	}
	if pidQueries != 2 {
		t.Fatalf("pid queries = %d, want capped at 2", pidQueries)
	}
}

func TestWaylandTitleBusNameConvention(t *testing.T) {
	prober := &fakeProber{
		gtkOK: map[string]bool{":1.33|/gtk/a": true},
	}

	// No meta (Wayland); the toplevel title carries the bus name.
	r := New(nil, nil, prober, testConfig())
	src := r.Resolve(context.Background(), &window.Info{ID: 0, Title: ":1.33"})

	if src == nil || src.BusName() != ":1.33" {
		t.Fatalf("expected source from title hint, got %v", src)
	}
}

func TestResolveIdempotent(t *testing.T) {
	prober := &fakeProber{
		gtkOK: map[string]bool{":1.42|/gtk/a": true},
	}
	meta := &fakeMeta{props: window.GtkProps{BusName: ":1.42"}}
	win := &window.Info{ID: 7, AppID: "Files"}

	r := New(fakeRegistrar{}, meta, prober, testConfig())
	first := r.Resolve(context.Background(), win)
	second := r.Resolve(context.Background(), win)

	if first == nil || second == nil {
		t.Fatal("both resolutions must succeed")
	}
	if first.Kind() != second.Kind() ||
		first.BusName() != second.BusName() ||
		first.MenuPath() != second.MenuPath() {
		t.Fatalf("resolution not stable: (%s %s %s) vs (%s %s %s)",
			first.Kind(), first.BusName(), first.MenuPath(),
			second.Kind(), second.BusName(), second.MenuPath())
	}
	if first.Tree().Count() != second.Tree().Count() {
		t.Fatal("tree structure differs between identical resolutions")
	}

	// The same probe sequence runs both times.
	if len(prober.calls)%2 != 0 {
		t.Fatalf("uneven probe count across two resolutions: %v", prober.calls)
	}
	half := len(prober.calls) / 2
	for i := 0; i < half; i++ {
		if prober.calls[i] != prober.calls[half+i] {
			t.Fatalf("probe sequence differs between resolutions: %v", prober.calls)
		}
	}
}

func TestNoStrategySucceeds(t *testing.T) {
	prober := &fakeProber{}
	meta := &fakeMeta{props: window.GtkProps{BusName: ":1.42"}}

	r := New(fakeRegistrar{}, meta, prober, testConfig())
	if src := r.Resolve(context.Background(), &window.Info{ID: 7}); src != nil {
		t.Fatalf("expected no menu, got %v", src)
	}
}

func TestNilWindow(t *testing.T) {
	r := New(fakeRegistrar{}, nil, &fakeProber{}, testConfig())
	if src := r.Resolve(context.Background(), nil); src != nil {
		t.Fatal("nil window must resolve to no menu")
	}
}
