package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gmenu/gmenu/internal/config"
	"github.com/gmenu/gmenu/internal/logger"
	"github.com/gmenu/gmenu/internal/registrar"
	"github.com/gmenu/gmenu/internal/resolver"
	"github.com/gmenu/gmenu/internal/window"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the focused window's menu once and print it as JSON",
	Long: `Resolve the menu of the currently focused window through the full
discovery pipeline and print the resulting tree. Useful for debugging which
strategy an application resolves through.`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	backend, err := window.Detect()
	if err != nil {
		return fmt.Errorf("failed to initialize window backend: %w", err)
	}
	defer backend.Close()

	win, err := backend.ActiveWindow()
	if err != nil {
		return fmt.Errorf("failed to get focused window: %w", err)
	}

	var meta resolver.WindowMeta
	if x11, ok := backend.(*window.X11Backend); ok {
		meta = x11
	}

	// One-shot: the registrar is not started, its table would be empty
	// anyway. Query a running daemon's registrar over the bus instead.
	res := resolver.New(busRegistrar{conn}, meta, resolver.NewProber(conn, cfg), cfg)

	src := res.Resolve(context.Background(), win)
	if src == nil {
		fmt.Fprintf(os.Stderr, "no menu found for window %d (%s)\n", win.ID, win.AppID)
		os.Exit(1)
	}
	defer src.Close()

	out := struct {
		Window   *window.Info `json:"window"`
		Protocol string       `json:"protocol"`
		BusName  string       `json:"bus_name"`
		MenuPath string       `json:"menu_path"`
		Tree     interface{}  `json:"tree"`
	}{win, src.Kind(), src.BusName(), string(src.MenuPath()), src.Tree()}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// busRegistrar queries a running registrar over the bus, so the one-shot
// command sees the same registrations the daemon does.
type busRegistrar struct {
	conn *dbus.Conn
}

func (b busRegistrar) Lookup(windowID uint32) (registrar.Registration, bool) {
	var service string
	var path dbus.ObjectPath
	obj := b.conn.Object(registrar.ServiceName, registrar.ObjectPath)
	err := obj.Call(registrar.Interface+".GetMenuForWindow", 0, windowID).Store(&service, &path)
	if err != nil || service == "" {
		return registrar.Registration{}, false
	}
	return registrar.Registration{WindowID: windowID, BusName: service, Path: path}, true
}
