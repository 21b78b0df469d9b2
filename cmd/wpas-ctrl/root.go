package main

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/awilliams/wpas-ctrl/internal/config"
	"github.com/awilliams/wpas-ctrl/internal/wpas"
)

const helpTxt = `wpas-ctrl drives wpa_supplicant through its control interface.

wpa_supplicant must be running with 'ctrl_interface' enabled. Each
interface has a socket named after it in the control directory
(--ctrl-dir). P2P device commands are sent to the global control
interface (--global-iface) when one is given.

Configuration is read from the optional --config YAML file, then from
WPAS_ prefixed environment variables (e.g. WPAS_CTRL_DIR,
WPAS_MQTT_ADDR), then from flags.

The monitor command mirrors events to MQTT when mqtt.addr is set:

  $mqtt.prefix/$mqtt.client_id/status
  $mqtt.prefix/$mqtt.client_id/$ifname/event
  $mqtt.prefix/$mqtt.client_id/$ifname/status

Commands published as JSON ({"id", "ifname", "cmd"}) to
$mqtt.prefix/$mqtt.client_id/request are answered on
$mqtt.prefix/$mqtt.client_id/reply.

Without --iface, every socket in the control directory is used.
`

// root holds state shared by all subcommands.
type root struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *log.Logger
}

func newRootCmd(appName string) *cobra.Command {
	r := &root{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "wpa_supplicant control interface client",
		Long:          helpTxt,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return r.init(cmd)
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("%s v{{.Version}}\n", appName))

	pf := cmd.PersistentFlags()
	pf.StringVar(&r.configPath, "config", "", "Configuration file (YAML)")
	pf.String("ctrl-dir", config.DefaultCtrlDir, "wpa_supplicant control interface directory")
	pf.StringSliceP("iface", "i", nil, "Interface name(s). Separate multiple names by ','")
	pf.String("global-iface", "", "Global control interface socket path (optional)")
	pf.String("sock-dir", "", "Directory for local sockets (default os.TempDir())")
	pf.Duration("request-timeout", config.DefaultRequestTimeout, "Timeout for each control interface request")
	pf.BoolVarP(&r.verbose, "verbose", "v", false, "Verbose logging")

	cmd.AddCommand(
		newPingCmd(r),
		newStatusCmd(r),
		newRequestCmd(r),
		newScanCmd(r),
		newConnectCmd(r),
		newRoamCmd(r),
		newP2PFindCmd(r),
		newP2PStartGOCmd(r),
		newP2PConnectCmd(r),
		newP2PRemoveGroupCmd(r),
		newWPSRegCmd(r),
		newMonitorCmd(r),
	)

	return cmd
}

// init loads the configuration and sets up logging.
func (r *root) init(cmd *cobra.Command) error {
	cfg, err := config.Load(r.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	r.cfg = cfg

	// Set all logging to /dev/null unless verbose flag was set.
	out := io.Writer(os.Stderr)
	if !r.verbose {
		out = io.Discard
		log.SetOutput(io.Discard)
	}
	r.logger = log.New(out, "", log.LstdFlags)
	return nil
}

// ifaces returns the configured interfaces. Without any, every socket
// in the control directory is used.
func (r *root) ifaces() ([]string, error) {
	if len(r.cfg.Interfaces) > 0 {
		return r.cfg.Interfaces, nil
	}
	found := findSockets(r.cfg.CtrlDir)
	if len(found) == 0 {
		return nil, fmt.Errorf("no interface given (use --iface) and no sockets found in %s", r.cfg.CtrlDir)
	}
	r.logger.Printf("Using interfaces found in %s: %s", r.cfg.CtrlDir, strings.Join(found, ", "))
	return found, nil
}

// findSockets returns the names of all Unix domain sockets in dir,
// excluding the global control interface.
func findSockets(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.Type()&fs.ModeSocket == 0 || e.Name() == "global" {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

// client connects to the first configured interface.
func (r *root) client() (*wpas.Client, error) {
	ifaces, err := r.ifaces()
	if err != nil {
		return nil, err
	}
	return r.clientFor(ifaces[0])
}

func (r *root) clientFor(ifname string) (*wpas.Client, error) {
	opts := []wpas.Opt{
		wpas.WithCtrlDir(r.cfg.CtrlDir),
		wpas.WithLogger(r.logger),
		wpas.WithRequestTimeout(r.cfg.RequestTimeout),
	}
	if r.cfg.GlobalIface != "" {
		opts = append(opts, wpas.WithGlobalIface(r.cfg.GlobalIface))
	}
	if r.cfg.LocalSockDir != "" {
		opts = append(opts, wpas.WithLocalSockDir(r.cfg.LocalSockDir))
	}

	c, err := wpas.NewClient(ifname, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to wpa_supplicant interface %q: %w", ifname, err)
	}
	r.logger.Printf("Connected to wpa_supplicant interface: %q", ifname)
	return c, nil
}

// withClient runs fn with a client for the first configured interface,
// closing it afterwards.
func (r *root) withClient(fn func(c *wpas.Client) error) error {
	c, err := r.client()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
