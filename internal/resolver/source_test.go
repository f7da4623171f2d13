package resolver

import (
	"testing"
	"time"

	"github.com/gmenu/gmenu/internal/gtkmenu"
	"github.com/gmenu/gmenu/internal/menu"
	"github.com/godbus/dbus/v5"
)

func TestDispatchPathSelection(t *testing.T) {
	tests := []struct {
		name    string
		target  gtkmenu.ActionTarget
		appPath dbus.ObjectPath
		winPath dbus.ObjectPath
		want    dbus.ObjectPath
	}{
		{"app target", gtkmenu.TargetApp, "/org/app", "/org/app/window/1", "/org/app"},
		{"win target", gtkmenu.TargetWin, "/org/app", "/org/app/window/1", "/org/app/window/1"},
		{"win target without win path", gtkmenu.TargetWin, "/org/app", "", "/org/app"},
		{"no paths at all", gtkmenu.TargetApp, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dispatchPath(tt.target, tt.appPath, tt.winPath); got != tt.want {
				t.Fatalf("dispatchPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetainedFlatClientRefetchUnbounded(t *testing.T) {
	c := gtkmenu.New(nil, ":1.2", "/menus")
	c.SetTimeout(500 * time.Millisecond)

	src := newGtkSource(c, menu.NewNode(0))
	if src == nil {
		t.Fatal("expected a source")
	}
	if c.Timeout() != 0 {
		t.Fatalf("retained client timeout = %v, want unlimited", c.Timeout())
	}
}
