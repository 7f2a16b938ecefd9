// tadek drives accessibility-testing devices: it keeps their connections,
// sends requests and exposes them over HTTP and MCP.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mbocsi/gotadek/app"
	"github.com/mbocsi/gotadek/registry"
	"github.com/mbocsi/gotadek/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tadek",
	Short: "Device communication for accessibility testing",
	Long: `tadek connects to accessibility-testing devices over TCP, WebSocket or
from offline dumps, sends them requests and correlates their responses.

Examples:
  # Run the HTTP API and MCP server over the configured devices
  tadek serve --http-addr :8080 --mcp

  # Ask a device for the top of its accessibility tree
  tadek request desk requestAccessible path=/ depth=1

  # Serve a captured dump as a stand-in device
  tadek stub desk.xml --tcp-addr :8089`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setupLogger(viper.GetString("log-level"), viper.GetString("log-format"))
	},
}

func init() {
	// Load .env file if it exists (ignore error - file is optional)
	_ = godotenv.Load()

	flags := rootCmd.PersistentFlags()
	flags.String("devices", "devices.yaml", "Device list file")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.Duration("timeout", transport.DefaultConnectTimeout, "Connection timeout")
	for _, name := range []string{"devices", "log-level", "log-format", "timeout"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("TADEK")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, devicesCmd, requestCmd, dumpCmd, discoverCmd, stubCmd)
}

// setupLogger installs the default slog logger. Logs go to stderr so that
// stdout stays free for command output and the MCP stdio transport.
func setupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// newApp builds the app over the configured device list.
func newApp() (*app.App, error) {
	a := app.New(app.Options{
		Store:          registry.NewYAMLStore(viper.GetString("devices")),
		ConnectTimeout: viper.GetDuration("timeout"),
	})
	if err := a.Load(); err != nil {
		return nil, err
	}
	return a, nil
}

func connectTimeout() time.Duration {
	return viper.GetDuration("timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
