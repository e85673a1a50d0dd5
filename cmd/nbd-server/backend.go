package main

import (
	"fmt"
	"log/slog"
	"os"

	"go.linka.cloud/nbd/internal/config"
	"go.linka.cloud/nbd/nbd"
)

// openBackend opens the Blocks implementation named by cfg.Backend,
// returning a cleanup func that releases any resources it opened.
func openBackend(cfg config.Server, log *slog.Logger) (nbd.Blocks, func(), error) {
	switch cfg.Backend {
	case "memory":
		if cfg.SizeMB <= 0 {
			return nil, nil, fmt.Errorf("--size is required for a memory-backed export")
		}
		return nbd.NewMemBlocks(make([]byte, cfg.SizeMB*1024*1024)), func() {}, nil

	case "rbd":
		return openRBDBackend(cfg)

	case "aio":
		return openAIOBackend(cfg, log)

	case "file", "":
		return openFileBackend(cfg, log)

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openSizedFile opens cfg.File. Without --no-create, a missing file is
// created, and the file (new or existing) is truncated to cfg.SizeMB when
// that is set. With --no-create, a missing file is an error and an existing
// file keeps its current size.
func openSizedFile(cfg config.Server, log *slog.Logger) (*os.File, error) {
	if cfg.File == "" {
		backend := cfg.Backend
		if backend == "" {
			backend = "file"
		}
		return nil, fmt.Errorf("a file path is required for the %s backend", backend)
	}

	_, statErr := os.Stat(cfg.File)
	existed := statErr == nil

	openFlags := os.O_RDWR
	if !cfg.NoCreate {
		openFlags |= os.O_CREATE
	}
	f, err := os.OpenFile(cfg.File, openFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.File, err)
	}

	if cfg.SizeMB > 0 {
		wantSize := cfg.SizeMB * 1024 * 1024
		if existed && cfg.NoCreate {
			log.Debug("file already existed, --no-create set: leaving size untouched", "path", cfg.File)
		} else {
			if err := f.Truncate(wantSize); err != nil {
				f.Close()
				return nil, fmt.Errorf("sizing %s to %d bytes: %w", cfg.File, wantSize, err)
			}
		}
	}

	return f, nil
}

func openFileBackend(cfg config.Server, log *slog.Logger) (nbd.Blocks, func(), error) {
	f, err := openSizedFile(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return nbd.NewFileBlocks(f), func() { f.Close() }, nil
}
