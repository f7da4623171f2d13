package menubar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gmenu/gmenu/internal/menu"
	"github.com/gmenu/gmenu/internal/resolver"
	"github.com/gmenu/gmenu/internal/window"
	"github.com/godbus/dbus/v5"
)

// journal records the order of source/resolver operations across goroutines.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

type testSource struct {
	name    string
	jrnl    *journal
	tree    *menu.Node
	changed chan struct{}
	expand  bool

	mu        sync.Mutex
	refetches int
	closed    bool
	activated []*menu.Node
	prepared  []*menu.Node
}

func newTestSource(name string, jrnl *journal) *testSource {
	tree := menu.NewNode(0)
	top := menu.NewNode(1)
	top.Label = "File"
	item := menu.NewNode(2)
	item.Label = "New"
	item.Action = "app.new"
	top.Children = []*menu.Node{item}
	tree.Children = []*menu.Node{top}

	return &testSource{
		name:    name,
		jrnl:    jrnl,
		tree:    tree,
		changed: make(chan struct{}, 1),
	}
}

func (s *testSource) Kind() string              { return "fake" }
func (s *testSource) BusName() string           { return s.name }
func (s *testSource) MenuPath() dbus.ObjectPath { return "/menu" }
func (s *testSource) Tree() *menu.Node          { return s.tree }

func (s *testSource) Refetch(context.Context) *menu.Node {
	s.mu.Lock()
	s.refetches++
	s.mu.Unlock()
	s.jrnl.add("refetch:" + s.name)
	return s.tree
}

func (s *testSource) LayoutChanged() <-chan struct{} { return s.changed }

func (s *testSource) Activate(n *menu.Node) {
	s.mu.Lock()
	s.activated = append(s.activated, n)
	s.mu.Unlock()
}

func (s *testSource) AboutToShow(_ context.Context, n *menu.Node) bool {
	s.mu.Lock()
	s.prepared = append(s.prepared, n)
	expand := s.expand
	s.mu.Unlock()
	return expand
}

func (s *testSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.jrnl.add("close:" + s.name)
}

func (s *testSource) refetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refetches
}

// testResolver hands out canned sources keyed by window id.
type testResolver struct {
	jrnl    *journal
	sources map[uint32]*testSource
}

func (r *testResolver) Resolve(_ context.Context, win *window.Info) resolver.Source {
	r.jrnl.add("resolve:" + win.AppID)
	if s, ok := r.sources[win.ID]; ok {
		return s
	}
	return nil
}

func waitModel(t *testing.T, ch <-chan Model, pred func(Model) bool) Model {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-ch:
			if pred(m) {
				return m
			}
		case <-deadline:
			t.Fatal("timed out waiting for model")
		}
	}
}

func startBar(t *testing.T, res Resolver) (*MenuBar, chan *window.Info, chan Model, context.CancelFunc) {
	t.Helper()
	events := make(chan *window.Info, 4)
	bar := New(events, res)
	sub := bar.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	go bar.Run(ctx)
	return bar, events, sub, cancel
}

func TestSignalTriggeredRefresh(t *testing.T) {
	jrnl := &journal{}
	src := newTestSource(":1.5", jrnl)
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{10: src}}

	_, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 10, AppID: "Files"}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil })

	// One change signal: exactly one refetch and re-render on the same
	// retained source.
	src.changed <- struct{}{}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil })

	time.Sleep(50 * time.Millisecond)
	if n := src.refetchCount(); n != 1 {
		t.Fatalf("refetches = %d, want exactly 1", n)
	}
}

func TestWindowSwitchCleanup(t *testing.T) {
	jrnl := &journal{}
	srcA := newTestSource("A", jrnl)
	srcB := newTestSource("B", jrnl)
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{
		1: srcA,
		2: srcB,
	}}

	_, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 1, AppID: "AppA"}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil && m.Window.ID == 1 })

	events <- &window.Info{ID: 2, AppID: "AppB"}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil && m.Window.ID == 2 })

	// A's signals must be torn down before B's resolution began.
	var closeA, resolveB = -1, -1
	for i, e := range jrnl.list() {
		switch e {
		case "close:A":
			if closeA < 0 {
				closeA = i
			}
		case "resolve:AppB":
			resolveB = i
		}
	}
	if closeA < 0 || resolveB < 0 || closeA > resolveB {
		t.Fatalf("A must be closed before B resolves, journal: %v", jrnl.list())
	}

	// A late signal from A must not trigger any render.
	srcA.changed <- struct{}{}
	time.Sleep(100 * time.Millisecond)
	if srcA.refetchCount() != 0 {
		t.Fatal("stale client refetched after window switch")
	}
}

func TestActivateByAction(t *testing.T) {
	jrnl := &journal{}
	src := newTestSource(":1.5", jrnl)
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{10: src}}

	bar, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 10, AppID: "Files"}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil })

	if err := bar.Activate(0, "app.new"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.activated) != 1 || src.activated[0].Action != "app.new" {
		t.Fatalf("activated = %+v", src.activated)
	}
}

func TestActivateByID(t *testing.T) {
	jrnl := &journal{}
	src := newTestSource(":1.5", jrnl)
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{10: src}}

	bar, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 10, AppID: "Files"}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil })

	if err := bar.Activate(2, ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.activated) != 1 || src.activated[0].ID != 2 {
		t.Fatalf("activated = %+v", src.activated)
	}
}

func TestActivateWithoutMenu(t *testing.T) {
	jrnl := &journal{}
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{}}

	bar, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 99, AppID: "NoMenu"}
	waitModel(t, sub, func(m Model) bool { return m.Window != nil && m.Window.ID == 99 })

	if err := bar.Activate(1, ""); err == nil {
		t.Fatal("Activate with no resolved menu must error")
	}
}

func TestPrepareSubmenuTriggersRefetch(t *testing.T) {
	jrnl := &journal{}
	src := newTestSource(":1.5", jrnl)
	src.expand = true
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{10: src}}

	bar, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 10, AppID: "Files"}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil })

	// The File entry (id 1) opens a submenu; the application reports a
	// change, so exactly one refetch must follow.
	if err := bar.PrepareSubmenu(context.Background(), 1, ""); err != nil {
		t.Fatalf("PrepareSubmenu: %v", err)
	}
	if n := src.refetchCount(); n != 1 {
		t.Fatalf("refetches = %d, want 1 after about-to-show reported a change", n)
	}

	src.mu.Lock()
	prepared := len(src.prepared)
	src.mu.Unlock()
	if prepared != 1 {
		t.Fatalf("about-to-show calls = %d, want 1", prepared)
	}
}

func TestPrepareSubmenuNoChangeNoRefetch(t *testing.T) {
	jrnl := &journal{}
	src := newTestSource(":1.5", jrnl)
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{10: src}}

	bar, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 10, AppID: "Files"}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil })

	if err := bar.PrepareSubmenu(context.Background(), 1, ""); err != nil {
		t.Fatalf("PrepareSubmenu: %v", err)
	}
	if n := src.refetchCount(); n != 0 {
		t.Fatalf("refetches = %d, want 0 when nothing changed", n)
	}
}

func TestPrepareSubmenuWithoutMenu(t *testing.T) {
	jrnl := &journal{}
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{}}

	bar, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 99, AppID: "NoMenu"}
	waitModel(t, sub, func(m Model) bool { return m.Window != nil && m.Window.ID == 99 })

	if err := bar.PrepareSubmenu(context.Background(), 1, ""); err == nil {
		t.Fatal("PrepareSubmenu with no resolved menu must error")
	}
}

func TestModelClearedOnWindowChange(t *testing.T) {
	jrnl := &journal{}
	src := newTestSource(":1.5", jrnl)
	res := &testResolver{jrnl: jrnl, sources: map[uint32]*testSource{10: src}}

	_, events, sub, cancel := startBar(t, res)
	defer cancel()

	events <- &window.Info{ID: 10, AppID: "Files"}
	waitModel(t, sub, func(m Model) bool { return m.Tree != nil })

	// Window 20 has no menu: the model must be cleared, not left showing
	// the previous window's tree.
	events <- &window.Info{ID: 20, AppID: "Other"}
	m := waitModel(t, sub, func(m Model) bool { return m.Window != nil && m.Window.ID == 20 })
	if m.Tree != nil {
		t.Fatal("model must be cleared for a window with no menu")
	}
}
