package window

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/gmenu/gmenu/internal/logger"
	"github.com/godbus/dbus/v5"
)

const kwinService = "org.kde.KWin"

// WaylandBackend implements Backend on Wayland sessions. Compositors that
// expose toplevel state (KWin) are tracked through their XWayland bridge;
// when no usable toplevel source exists the backend degrades to a single
// synthetic "Desktop" window instead of failing.
type WaylandBackend struct {
	conn          *dbus.Conn
	mu            sync.RWMutex
	currentWindow *Info
	stopChan      chan struct{}
	watching      bool
	degraded      bool

	// XWayland bridge for active-window detection.
	x11Conn    *xgb.Conn
	x11Root    xproto.Window
	activeAtom xproto.Atom
}

// NewWaylandBackend creates a new Wayland backend.
func NewWaylandBackend() (*WaylandBackend, error) {
	log := logger.WithComponent("wayland-backend")

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	b := &WaylandBackend{
		conn:     conn,
		stopChan: make(chan struct{}),
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}

	compositorFound := false
	for _, name := range names {
		if name == kwinService {
			compositorFound = true
			break
		}
	}

	if compositorFound {
		if x11Conn, err := xgb.NewConn(); err == nil {
			setup := xproto.Setup(x11Conn)
			b.x11Conn = x11Conn
			b.x11Root = setup.DefaultScreen(x11Conn).Root

			atomReply, err := xproto.InternAtom(
				x11Conn, false,
				uint16(len("_NET_ACTIVE_WINDOW")), "_NET_ACTIVE_WINDOW",
			).Reply()
			if err == nil {
				b.activeAtom = atomReply.Atom
			}
			log.Debug().Msg("XWayland bridge initialized for active window detection")
		} else {
			log.Warn().Err(err).Msg("Failed to connect to XWayland, degrading")
		}
	}

	if b.x11Conn == nil || b.activeAtom == 0 {
		b.degraded = true
		log.Info().Msg("No toplevel source available, using synthetic Desktop window")
	}

	return b, nil
}

// Connect establishes connections (already done in NewWaylandBackend).
func (b *WaylandBackend) Connect() error {
	return nil
}

// Close closes the D-Bus and XWayland connections.
func (b *WaylandBackend) Close() error {
	b.StopWatching()
	if b.x11Conn != nil {
		b.x11Conn.Close()
	}
	return b.conn.Close()
}

// Name returns the backend name.
func (b *WaylandBackend) Name() string {
	return "wayland"
}

// ActiveWindow returns the currently focused window.
func (b *WaylandBackend) ActiveWindow() (*Info, error) {
	if b.degraded {
		return desktopWindow(), nil
	}

	reply, err := xproto.GetProperty(
		b.x11Conn, false, b.x11Root, b.activeAtom,
		xproto.AtomWindow, 0, 1,
	).Reply()
	if err != nil || len(reply.Value) < 4 {
		return desktopWindow(), nil
	}

	win := xproto.Window(uint32(reply.Value[0]) |
		uint32(reply.Value[1])<<8 |
		uint32(reply.Value[2])<<16 |
		uint32(reply.Value[3])<<24)
	if win == 0 {
		return desktopWindow(), nil
	}

	info := &Info{ID: uint32(win)}
	info.Title = b.titleOf(win)
	info.AppID = b.classOf(win)
	return info, nil
}

// Watch starts watching for focus changes.
func (b *WaylandBackend) Watch(callback func(*Info)) error {
	b.mu.Lock()
	if b.watching {
		b.mu.Unlock()
		return fmt.Errorf("already watching")
	}
	b.watching = true
	b.stopChan = make(chan struct{})
	b.mu.Unlock()

	go b.watchLoop(callback)
	return nil
}

func (b *WaylandBackend) watchLoop(callback func(*Info)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	checkFocus := func() {
		info, err := b.ActiveWindow()
		if err != nil {
			return
		}

		b.mu.Lock()
		changed := b.currentWindow == nil ||
			b.currentWindow.ID != info.ID ||
			b.currentWindow.Title != info.Title
		if changed {
			b.currentWindow = info
		}
		b.mu.Unlock()

		if changed {
			callback(info)
		}
	}

	checkFocus()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			checkFocus()
		}
	}
}

// StopWatching stops the focus watching loop.
func (b *WaylandBackend) StopWatching() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watching {
		close(b.stopChan)
		b.watching = false
	}
}

func (b *WaylandBackend) titleOf(win xproto.Window) string {
	for _, name := range []string{"_NET_WM_NAME", "WM_NAME"} {
		atomReply, err := xproto.InternAtom(b.x11Conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			continue
		}
		reply, err := xproto.GetProperty(
			b.x11Conn, false, win, atomReply.Atom,
			xproto.GetPropertyTypeAny, 0, (1<<32)-1,
		).Reply()
		if err == nil && reply.ValueLen > 0 {
			return string(reply.Value)
		}
	}
	return ""
}

func (b *WaylandBackend) classOf(win xproto.Window) string {
	atomReply, err := xproto.InternAtom(b.x11Conn, false, uint16(len("WM_CLASS")), "WM_CLASS").Reply()
	if err != nil {
		return ""
	}
	reply, err := xproto.GetProperty(
		b.x11Conn, false, win, atomReply.Atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1,
	).Reply()
	if err != nil || reply.ValueLen == 0 {
		return ""
	}
	raw := string(reply.Value)
	for i := 0; i < len(raw); i++ {
		if raw[i] == 0 && i+1 < len(raw) {
			cls := raw[i+1:]
			for len(cls) > 0 && cls[len(cls)-1] == 0 {
				cls = cls[:len(cls)-1]
			}
			if cls != "" {
				return cls
			}
			break
		}
	}
	return raw
}

func desktopWindow() *Info {
	return &Info{ID: 0, AppID: "Desktop", Title: "Desktop"}
}
