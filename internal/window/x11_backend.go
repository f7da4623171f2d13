package window

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/gmenu/gmenu/internal/logger"
)

// GtkProps are the GTK/Unity shell properties an application exports on its
// toplevel window to advertise where its menu lives on the bus.
type GtkProps struct {
	BusName     string
	MenubarPath string
	AppPath     string
	WinPath     string
	UnityPath   string
}

// X11Backend implements Backend using X11.
type X11Backend struct {
	conn          *xgb.Conn
	root          xproto.Window
	mu            sync.RWMutex
	currentWindow *Info
	stopChan      chan struct{}
	watching      bool
	activeAtom    xproto.Atom
	// Channel for _NET_ACTIVE_WINDOW property events to trigger an immediate
	// focus check between polls.
	activeChangeChan chan struct{}
}

// NewX11Backend creates a new X11 backend.
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	b := &X11Backend{
		conn:     conn,
		root:     root,
		stopChan: make(chan struct{}),
	}

	if atom, err := b.getAtom("_NET_ACTIVE_WINDOW"); err == nil {
		b.activeAtom = atom
	}

	return b, nil
}

// Connect establishes connection to X11 (already done in NewX11Backend).
func (b *X11Backend) Connect() error {
	return nil
}

// Close closes the X11 connection.
func (b *X11Backend) Close() error {
	b.StopWatching()
	b.conn.Close()
	return nil
}

// Name returns the backend name.
func (b *X11Backend) Name() string {
	return "x11"
}

// ActiveWindow returns the currently focused window, preferring the EWMH
// _NET_ACTIVE_WINDOW root property over the raw input focus.
func (b *X11Backend) ActiveWindow() (*Info, error) {
	if win, err := b.activeWindowEWMH(); err == nil {
		return b.windowInfo(win)
	}

	focusReply, err := xproto.GetInputFocus(b.conn).Reply()
	if err != nil {
		return nil, err
	}
	return b.windowInfo(focusReply.Focus)
}

func (b *X11Backend) activeWindowEWMH() (xproto.Window, error) {
	if b.activeAtom == 0 {
		return 0, fmt.Errorf("no _NET_ACTIVE_WINDOW atom")
	}

	reply, err := xproto.GetProperty(
		b.conn, false, b.root, b.activeAtom,
		xproto.AtomWindow, 0, 1,
	).Reply()
	if err != nil {
		return 0, err
	}
	if len(reply.Value) < 4 {
		return 0, fmt.Errorf("empty _NET_ACTIVE_WINDOW")
	}

	win := xproto.Window(uint32(reply.Value[0]) |
		uint32(reply.Value[1])<<8 |
		uint32(reply.Value[2])<<16 |
		uint32(reply.Value[3])<<24)
	if win == 0 {
		return 0, fmt.Errorf("no active window")
	}
	return win, nil
}

// Watch starts watching for focus changes.
func (b *X11Backend) Watch(callback func(*Info)) error {
	log := logger.WithComponent("x11-backend")

	b.mu.Lock()
	if b.watching {
		b.mu.Unlock()
		return fmt.Errorf("already watching")
	}
	b.watching = true
	b.stopChan = make(chan struct{})
	b.activeChangeChan = make(chan struct{}, 1)
	b.mu.Unlock()

	const eventMask = xproto.EventMaskPropertyChange | xproto.EventMaskFocusChange
	if err := xproto.ChangeWindowAttributesChecked(
		b.conn, b.root, xproto.CwEventMask, []uint32{eventMask},
	).Check(); err != nil {
		return fmt.Errorf("failed to set event mask: %w", err)
	}

	if b.activeAtom != 0 {
		go b.watchPropertyEvents()
		log.Debug().Msg("Watching _NET_ACTIVE_WINDOW property events")
	}

	go b.watchFocusLoop(callback)
	return nil
}

// watchPropertyEvents listens for PropertyNotify on the root window and nudges
// the focus loop when the active window changes.
func (b *X11Backend) watchPropertyEvents() {
	log := logger.WithComponent("x11-backend")

	for {
		select {
		case <-b.stopChan:
			return
		default:
		}

		ev, err := b.conn.PollForEvent()
		if err != nil {
			log.Debug().Err(err).Msg("X11 event poll error")
			return
		}
		if ev == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if propNotify, ok := ev.(xproto.PropertyNotifyEvent); ok {
			if propNotify.Atom == b.activeAtom {
				select {
				case b.activeChangeChan <- struct{}{}:
				default:
				}
			}
		}
	}
}

// watchFocusLoop polls for focus changes and responds to property events.
func (b *X11Backend) watchFocusLoop(callback func(*Info)) {
	log := logger.WithComponent("x11-backend")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	checkFocus := func() {
		info, err := b.ActiveWindow()
		if err != nil {
			log.Debug().Err(err).Msg("Failed to get focused window")
			return
		}

		b.mu.Lock()
		changed := b.currentWindow == nil || b.currentWindow.ID != info.ID
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
		case <-b.activeChangeChan:
			checkFocus()
		case <-ticker.C:
			checkFocus()
		}
	}
}

// StopWatching stops the focus watching loop.
func (b *X11Backend) StopWatching() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watching {
		close(b.stopChan)
		b.watching = false
	}
}

// windowInfo retrieves information about a window.
func (b *X11Backend) windowInfo(win xproto.Window) (*Info, error) {
	info := &Info{ID: uint32(win)}

	if title, err := b.stringProperty(win, "_NET_WM_NAME"); err == nil {
		info.Title = title
	}
	if info.Title == "" {
		if title, err := b.stringProperty(win, "WM_NAME"); err == nil {
			info.Title = title
		}
	}

	// WM_CLASS is instance\0class\0; the class part names the application.
	if classRaw, err := b.stringProperty(win, "WM_CLASS"); err == nil {
		parts := strings.Split(classRaw, "\x00")
		if len(parts) >= 2 && parts[1] != "" {
			info.AppID = parts[1]
		} else if len(parts) >= 1 && parts[0] != "" {
			info.AppID = parts[0]
		}
	}

	return info, nil
}

// GtkShellProps reads the GTK/Unity menu export properties from a window.
// Missing properties leave the corresponding field empty; only a transport
// failure is an error.
func (b *X11Backend) GtkShellProps(windowID uint32) (GtkProps, error) {
	win := xproto.Window(windowID)
	var props GtkProps

	read := func(name string) string {
		v, err := b.stringProperty(win, name)
		if err != nil {
			return ""
		}
		return strings.TrimRight(v, "\x00")
	}

	props.BusName = read("_GTK_UNIQUE_BUS_NAME")
	props.MenubarPath = read("_GTK_MENUBAR_OBJECT_PATH")
	props.AppPath = read("_GTK_APPLICATION_OBJECT_PATH")
	props.WinPath = read("_GTK_WINDOW_OBJECT_PATH")
	props.UnityPath = read("_UNITY_OBJECT_PATH")

	return props, nil
}

// PID returns the process id of the window's owning client via _NET_WM_PID,
// or zero when the property is absent.
func (b *X11Backend) PID(windowID uint32) (uint32, error) {
	pidAtom, err := b.getAtom("_NET_WM_PID")
	if err != nil {
		return 0, err
	}

	reply, err := xproto.GetProperty(
		b.conn, false, xproto.Window(windowID), pidAtom,
		xproto.AtomCardinal, 0, 1,
	).Reply()
	if err != nil {
		return 0, err
	}
	if len(reply.Value) < 4 {
		return 0, nil
	}

	return uint32(reply.Value[0]) |
		uint32(reply.Value[1])<<8 |
		uint32(reply.Value[2])<<16 |
		uint32(reply.Value[3])<<24, nil
}

// getAtom gets an atom ID by name.
func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

// stringProperty gets a property value as a string.
func (b *X11Backend) stringProperty(win xproto.Window, name string) (string, error) {
	atom, err := b.getAtom(name)
	if err != nil {
		return "", err
	}

	reply, err := xproto.GetProperty(
		b.conn, false, win, atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property %s", name)
	}

	return string(reply.Value), nil
}
