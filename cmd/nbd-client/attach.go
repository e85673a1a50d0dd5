package main

import (
	"fmt"
	"log/slog"

	"go.linka.cloud/nbd/internal/config"
	"go.linka.cloud/nbd/internal/kernelattach"
	"go.linka.cloud/nbd/nbd"
)

const kernelBlockSize = 4096

// runAttach dials the server, negotiates the export, and attaches the
// resulting socket to a local /dev/nbdN device, blocking until the
// connection is disconnected. This mirrors the classic nbd-client's
// sequence: SET_SOCK, SET_BLKSIZE, SET_SIZE_BLOCKS, SET_FLAGS, DO_IT.
func runAttach(log *slog.Logger, cfg config.Client) error {
	client, err := nbd.Dial(cfg.Server, cfg.Export, timeoutDuration(cfg.Timeout))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Server, err)
	}

	var dev *kernelattach.Device
	if cfg.Device != "" {
		dev, err = kernelattach.Open(cfg.Device)
	} else {
		dev, err = kernelattach.FindFree(16)
	}
	if err != nil {
		client.Close()
		return fmt.Errorf("opening kernel nbd device: %w", err)
	}
	defer dev.Close()

	f, err := client.File()
	if err != nil {
		return fmt.Errorf("obtaining socket descriptor: %w", err)
	}
	defer f.Close()

	if err := dev.SetSock(int(f.Fd())); err != nil {
		return fmt.Errorf("NBD_SET_SOCK: %w", err)
	}
	if err := dev.SetBlkSize(kernelBlockSize); err != nil {
		return fmt.Errorf("NBD_SET_BLKSIZE: %w", err)
	}
	if err := dev.SetSizeBlocks(client.Size() / kernelBlockSize); err != nil {
		return fmt.Errorf("NBD_SET_SIZE_BLOCKS: %w", err)
	}

	var flags kernelattach.Flags = kernelattach.FlagHasFlags
	if client.SupportsFlush() {
		flags |= kernelattach.FlagSendFlush
	}
	if err := dev.SetFlags(flags); err != nil {
		return fmt.Errorf("NBD_SET_FLAGS: %w", err)
	}

	log.Info("attached", "device", dev.Path(), "server", cfg.Server, "export", cfg.Export, "size", client.Size())

	// DO_IT blocks until the device is disconnected by another process
	// (nbd-client --disconnect) or the connection drops.
	if err := dev.DoIt(); err != nil {
		return fmt.Errorf("NBD_DO_IT: %w", err)
	}

	log.Info("detached", "device", dev.Path())
	return dev.ClearSock()
}

// runDisconnect asks the kernel to tear down an already-attached device.
func runDisconnect(cfg config.Client) error {
	if cfg.Device == "" {
		return fmt.Errorf("a device path is required with --disconnect")
	}
	dev, err := kernelattach.Open(cfg.Device)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("NBD_DISCONNECT: %w", err)
	}
	return nil
}
