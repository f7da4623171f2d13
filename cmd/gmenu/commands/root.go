package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "gmenu",
		Short: "gmenu - global menu daemon for Linux panels",
		Long: `gmenu tracks the focused window, discovers the owning application's
exported menu over D-Bus (com.canonical.dbusmenu or org.gtk.Menus), mirrors
it into a renderable model, and dispatches activations back to the
application.

Features:
  • X11 and Wayland window tracking
  • AppMenu registrar service for proactive registration
  • Multi-strategy menu discovery (registrar, window properties,
    conventional paths, process-id correlation)
  • Live re-rendering on application menu changes
  • HTTP/websocket introspection API`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/gmenu/config.yaml)")
	rootCmd.PersistentFlags().Int("api-port", 0, "introspection API port (0 disables)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("api_port", rootCmd.PersistentFlags().Lookup("api-port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path.
func GetConfigFile() string {
	return cfgFile
}
