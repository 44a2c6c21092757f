// Command sensord is the sensor daemon: it owns every physical and
// fusion sensor, arbitrates client requests against them, and serves
// the control protocol (§6) over a pair of unix seqpacket sockets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagCommandSocket string
	flagEventSocket   string
	flagDeviceManifest string
	flagPluginManifest string
	flagLogLevel      string
	flagLogJSON       bool
	flagDiagEnabled   bool
	flagDiagAddr      string
)

var rootCmd = &cobra.Command{
	Use:   "sensord",
	Short: "Multiplexing sensor daemon",
	Long: `sensord owns a fixed set of physical sensing devices and a set of
derived fusion sensors, arbitrating sampling rate and batch latency
across every connected client and delivering timestamped events over
a pair of local control sockets.`,
	RunE: runDaemon,
}

var flagVersion bool

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&flagVersion, "version", false, "print version information and exit")
	flags.StringVar(&flagCommandSocket, "command-socket", "", "path to the command socket (overrides config)")
	flags.StringVar(&flagEventSocket, "event-socket", "", "path to the event socket (overrides config)")
	flags.StringVar(&flagDeviceManifest, "device-manifest", "", "path to the static device manifest TOML (overrides config)")
	flags.StringVar(&flagPluginManifest, "plugin-manifest", "", "path to the fusion plugin manifest TOML (overrides config)")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.BoolVar(&flagLogJSON, "log-json", false, "emit structured JSON logs instead of console output")
	flags.BoolVar(&flagDiagEnabled, "diag", false, "enable the loopback-only diagnostics HTTP/WebSocket server")
	flags.StringVar(&flagDiagAddr, "diag-addr", "", "diagnostics server listen address (overrides config)")
}

// bindFlags layers the cobra flags actually set by the operator on top
// of viper's env/file/default precedence (§ ambient config stack).
// Only flags the operator actually passed are applied, so an unset
// flag never shadows a value from the env or a config file.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("command-socket") {
		v.Set("socket.command_path", flagCommandSocket)
	}
	if flags.Changed("event-socket") {
		v.Set("socket.event_path", flagEventSocket)
	}
	if flags.Changed("device-manifest") {
		v.Set("device_manifest_path", flagDeviceManifest)
	}
	if flags.Changed("plugin-manifest") {
		v.Set("plugin.manifest_path", flagPluginManifest)
	}
	if flags.Changed("log-level") {
		v.Set("log.level", flagLogLevel)
	}
	if flags.Changed("log-json") {
		v.Set("log.json", flagLogJSON)
	}
	if flags.Changed("diag") {
		v.Set("diag.enabled", flagDiagEnabled)
	}
	if flags.Changed("diag-addr") {
		v.Set("diag.addr", flagDiagAddr)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
