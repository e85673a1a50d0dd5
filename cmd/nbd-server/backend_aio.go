//go:build linux

package main

import (
	"log/slog"

	"go.linka.cloud/nbd/internal/config"
	"go.linka.cloud/nbd/nbd"
)

const aioQueueDepth = 32

func openAIOBackend(cfg config.Server, log *slog.Logger) (nbd.Blocks, func(), error) {
	f, err := openSizedFile(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := nbd.NewAIOBlocks(f, aioQueueDepth)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return blocks, func() { blocks.Close(); f.Close() }, nil
}
