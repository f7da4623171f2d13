package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gmenu/gmenu/internal/api"
	"github.com/gmenu/gmenu/internal/config"
	"github.com/gmenu/gmenu/internal/logger"
	"github.com/gmenu/gmenu/internal/menubar"
	"github.com/gmenu/gmenu/internal/registrar"
	"github.com/gmenu/gmenu/internal/resolver"
	"github.com/gmenu/gmenu/internal/window"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the global menu daemon",
	Long: `Run the daemon: track the focused window, resolve its menu, keep it
synchronized, and expose the rendered model to panel frontends.`,
	Example: `  # Run with defaults
  gmenu serve

  # Run with the introspection API on port 7710
  gmenu serve --api-port 7710

  # Run with debug logging
  gmenu serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
	if viper.IsSet("api_port") {
		if port := viper.GetInt("api_port"); port > 0 {
			configMgr.SetAPIPort(port)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("serve")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Starting gmenu")

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
	log.Info().Str("backend", backend.Name()).Msg("Window backend ready")

	reg := registrar.New(conn)
	if err := reg.Start(); err != nil {
		return fmt.Errorf("failed to start registrar: %w", err)
	}
	defer reg.Stop()

	// Window metadata reads are only possible on X11.
	var meta resolver.WindowMeta
	if x11, ok := backend.(*window.X11Backend); ok {
		meta = x11
	}

	res := resolver.New(reg, meta, resolver.NewProber(conn, cfg), cfg)

	tracker := window.NewTracker(backend)
	bar := menubar.New(tracker.Events(), res)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bar.Run(ctx)

	if err := tracker.Start(); err != nil {
		return fmt.Errorf("failed to start window tracking: %w", err)
	}
	defer tracker.Stop()

	if cfg.APIPort > 0 {
		server := api.NewServer(bar)
		go func() {
			if err := server.Start(cfg.APIPort); err != nil {
				log.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down")
	return nil
}
