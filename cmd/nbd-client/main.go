// Command nbd-client connects to an NBD server and attaches the connection
// to a Linux kernel block device node, or (with --disconnect) tears one
// down.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go.linka.cloud/nbd/internal/config"
	"go.linka.cloud/nbd/internal/daemon"
	"go.linka.cloud/nbd/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		export     string
		device     string
		foreground bool
		disconnect bool
		timeout    int
	)

	cmd := &cobra.Command{
		Use:   "nbd-client HOST:PORT [DEVICE]",
		Short: "Attach a remote NBD export to a local /dev/nbdN device",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(configFile)
			if err != nil {
				return err
			}
			if len(args) >= 1 {
				cfg.Server = args[0]
			}
			if len(args) == 2 {
				device = args[1]
			}
			if export != "" {
				cfg.Export = export
			}
			if device != "" {
				cfg.Device = device
			}
			if timeout != 0 {
				cfg.Timeout = timeout
			}

			if disconnect {
				return runDisconnect(cfg)
			}

			log := logging.New("nbd-client")

			child, err := daemon.Daemonize(foreground, daemon.Context{
				PidFile: fmt.Sprintf("/var/run/nbd-client-%s.pid", sanitizeDeviceName(cfg.Device)),
				LogFile: fmt.Sprintf("/var/log/nbd-client-%s.log", sanitizeDeviceName(cfg.Device)),
			})
			if err != nil {
				return err
			}
			if !child {
				// parent process after a successful fork: the daemonized
				// child carries on independently.
				return nil
			}
			return runAttach(log, cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&export, "export", "", "export name to request")
	cmd.Flags().BoolVarP(&disconnect, "disconnect", "d", false, "disconnect the device instead of attaching")
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "stay in the foreground instead of daemonizing")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 0, "handshake timeout in seconds")

	return cmd
}

func sanitizeDeviceName(device string) string {
	name := []byte(device)
	for i, b := range name {
		if b == '/' {
			name[i] = '_'
		}
	}
	return string(name)
}

func timeoutDuration(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}
