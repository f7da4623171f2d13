package resolver

import (
	"time"

	"github.com/gmenu/gmenu/internal/config"
	"github.com/gmenu/gmenu/internal/dbusmenu"
	"github.com/gmenu/gmenu/internal/gtkmenu"
	"github.com/gmenu/gmenu/internal/window"
	"github.com/godbus/dbus/v5"
)

func newDBusMenuClient(conn *dbus.Conn, busName string, path dbus.ObjectPath, cfg *config.Config) *dbusmenu.Client {
	c := dbusmenu.New(conn, busName, path)
	c.SetFetchTimeout(time.Duration(cfg.Timeouts.TreeFetchMS) * time.Millisecond)
	return c
}

func newGtkMenuClient(conn *dbus.Conn, busName string, path dbus.ObjectPath, props window.GtkProps, cfg *config.Config) *gtkmenu.Client {
	c := gtkmenu.New(conn, busName, path)
	c.SetTimeout(time.Duration(cfg.Timeouts.ProbeMS) * time.Millisecond)
	c.AppPath = dbus.ObjectPath(props.AppPath)
	c.WinPath = dbus.ObjectPath(props.WinPath)
	return c
}
