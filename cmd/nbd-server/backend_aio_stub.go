//go:build !linux

package main

import (
	"fmt"
	"log/slog"
	"runtime"

	"go.linka.cloud/nbd/internal/config"
	"go.linka.cloud/nbd/nbd"
)

func openAIOBackend(cfg config.Server, log *slog.Logger) (nbd.Blocks, func(), error) {
	return nil, nil, fmt.Errorf("the aio backend is not supported on %s", runtime.GOOS)
}
