//go:build ceph

package main

import (
	"fmt"

	"go.linka.cloud/nbd/internal/config"
	"go.linka.cloud/nbd/nbd"
)

func openRBDBackend(cfg config.Server) (nbd.Blocks, func(), error) {
	if cfg.RBD == nil || cfg.RBD.Pool == "" || cfg.RBD.Image == "" {
		return nil, nil, fmt.Errorf("rbd backend requires rbd.pool and rbd.image in the config file")
	}
	blocks, err := nbd.OpenRBDBlocks(nbd.RBDConfig{
		ConfigFile: cfg.RBD.ConfigFile,
		Pool:       cfg.RBD.Pool,
		Image:      cfg.RBD.Image,
	})
	if err != nil {
		return nil, nil, err
	}
	return blocks, func() { blocks.Close() }, nil
}
