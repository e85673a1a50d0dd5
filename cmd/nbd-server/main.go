// Command nbd-server exports a file, an in-memory buffer, or (when built
// with the ceph tag) a Ceph RBD image as an NBD block device.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go.linka.cloud/nbd/internal/config"
	"go.linka.cloud/nbd/internal/logging"
	"go.linka.cloud/nbd/nbd"
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
		listen     string
		export     string
		sizeMB     int64
		memory     bool
		aio        bool
		noCreate   bool
	)

	cmd := &cobra.Command{
		Use:   "nbd-server [FILE]",
		Short: "Serve a file or in-memory buffer over the NBD protocol",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(configFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if export != "" {
				cfg.Export = export
			}
			if sizeMB != 0 {
				cfg.SizeMB = sizeMB
			}
			if memory {
				cfg.Backend = "memory"
			}
			if aio {
				cfg.Backend = "aio"
			}
			if noCreate {
				cfg.NoCreate = true
			}
			if len(args) == 1 {
				cfg.File = args[0]
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default 127.0.0.1:10809)")
	cmd.Flags().StringVar(&export, "export", "", "export name advertised during NBD_OPT_LIST")
	cmd.Flags().Int64Var(&sizeMB, "size", 0, "size in MiB for a newly created file or memory export")
	cmd.Flags().BoolVar(&memory, "mem", false, "serve an in-memory export instead of a file")
	cmd.Flags().BoolVar(&aio, "aio", false, "serve FILE through Linux native AIO instead of pread/pwrite")
	cmd.Flags().BoolVar(&noCreate, "no-create", false, "do not create FILE if missing, and leave an existing file's size untouched")

	return cmd
}

func run(ctx context.Context, cfg config.Server) error {
	log := logging.New("nbd-server")

	blocks, cleanup, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := nbd.NewServer(cfg.Export, blocks, log)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("listening", "addr", cfg.Listen, "export", cfg.Export, "backend", cfg.Backend)
	return srv.ListenAndServe(ctx, cfg.Listen)
}
