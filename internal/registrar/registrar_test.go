package registrar

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestRegisterLastWriteWins(t *testing.T) {
	r := New(nil)

	r.register(42, ":1.10", dbus.ObjectPath("/menu/a"))
	r.register(42, ":1.20", dbus.ObjectPath("/menu/b"))

	reg, ok := r.Lookup(42)
	if !ok {
		t.Fatal("expected a registration for window 42")
	}
	if reg.BusName != ":1.20" || reg.Path != dbus.ObjectPath("/menu/b") {
		t.Fatalf("got %s %s, want :1.20 /menu/b", reg.BusName, reg.Path)
	}
}

func TestUnregisterAbsentIsNoOp(t *testing.T) {
	r := New(nil)

	// Must not panic or error on an unknown window id.
	r.unregister(7)

	r.register(7, ":1.5", dbus.ObjectPath("/m"))
	r.unregister(7)
	if _, ok := r.Lookup(7); ok {
		t.Fatal("registration should be gone after unregister")
	}
}

func TestGetMenuForWindowAbsent(t *testing.T) {
	r := New(nil)
	svc := serviceMethods{r}

	name, path, derr := svc.GetMenuForWindow(1234)
	if derr != nil {
		t.Fatalf("GetMenuForWindow must never error, got %v", derr)
	}
	if name != "" || path != dbus.ObjectPath("/") {
		t.Fatalf("absent window should yield (\"\", /), got (%q, %q)", name, path)
	}
}

func TestRegisterWindowUsesSenderIdentity(t *testing.T) {
	r := New(nil)
	svc := serviceMethods{r}

	if derr := svc.RegisterWindow(dbus.Sender(":1.42"), 9, dbus.ObjectPath("/com/example/menu")); derr != nil {
		t.Fatalf("RegisterWindow: %v", derr)
	}

	name, path, _ := svc.GetMenuForWindow(9)
	if name != ":1.42" || path != dbus.ObjectPath("/com/example/menu") {
		t.Fatalf("got (%q, %q)", name, path)
	}
}

func TestOwnerRefsTrackRegistrations(t *testing.T) {
	r := New(nil)

	r.register(1, ":1.5", "/a")
	r.register(2, ":1.5", "/b")
	r.register(3, ":1.6", "/c")

	// Simulate the owner of :1.5 leaving the bus.
	r.mu.Lock()
	wins := r.byOwner[":1.5"]
	for id := range wins {
		delete(r.table, id)
	}
	delete(r.byOwner, ":1.5")
	r.mu.Unlock()

	if _, ok := r.Lookup(1); ok {
		t.Error("window 1 should be dropped with its owner")
	}
	if _, ok := r.Lookup(2); ok {
		t.Error("window 2 should be dropped with its owner")
	}
	if _, ok := r.Lookup(3); !ok {
		t.Error("window 3 belongs to a live owner and should remain")
	}
}
