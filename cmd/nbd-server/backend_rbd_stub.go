//go:build !ceph

package main

import (
	"fmt"

	"go.linka.cloud/nbd/internal/config"
	"go.linka.cloud/nbd/nbd"
)

func openRBDBackend(cfg config.Server) (nbd.Blocks, func(), error) {
	return nil, nil, fmt.Errorf("this binary was built without the ceph backend (build with -tags ceph)")
}
