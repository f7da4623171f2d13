// Package window tracks the active toplevel window across display servers.
package window

import "os"

// Info describes a toplevel window as reported by a backend. Values are
// ephemeral and superseded, never mutated, on each focus change.
type Info struct {
	// ID is the X11 window id. Zero on backends without numeric window ids.
	ID uint32 `json:"id"`

	// AppID is the application identifier (WM_CLASS class on X11, the
	// compositor's app_id on Wayland).
	AppID string `json:"app_id"`

	Title string `json:"title"`
}

// Backend is a source of active-window information (X11, Wayland, etc.)
type Backend interface {
	// Connect establishes the connection to the display server.
	Connect() error

	// Close closes the connection to the display server.
	Close() error

	// ActiveWindow returns the currently focused window.
	ActiveWindow() (*Info, error)

	// Watch starts watching for focus changes and calls the callback when the
	// focused window changes. The callback runs on the backend's goroutine.
	Watch(callback func(*Info)) error

	// StopWatching stops the focus watching loop.
	StopWatching()

	// Name returns the backend name (e.g., "x11", "wayland").
	Name() string
}

// Detect picks the backend for the current session. Selection is a pure
// function of the display-server environment; there is no runtime fallback
// between backends.
func Detect() (Backend, error) {
	if os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("XDG_SESSION_TYPE") == "wayland" {
		return NewWaylandBackend()
	}
	return NewX11Backend()
}
