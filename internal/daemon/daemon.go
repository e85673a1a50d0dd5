// Package daemon backgrounds the nbd-client process before it connects to
// the server: the re-executed child performs the handshake, hands its
// socket to the kernel via NBD_SET_SOCK and blocks in NBD_DO_IT, while the
// parent exits. The process keeps running in the foreground only when
// asked. It wraps github.com/sevlyar/go-daemon for the double-fork and
// github.com/kardianos/osext to resolve the re-exec'd binary's path
// reliably (os.Args[0] is not trustworthy once PATH lookup or a symlink is
// involved).
package daemon

import (
	"fmt"
	"os"

	"github.com/kardianos/osext"
	"github.com/sevlyar/go-daemon"
)

// Context holds the daemonization parameters for one run.
type Context struct {
	PidFile string
	LogFile string
}

// Daemonize forks the current process into the background unless
// foreground is true, in which case it is a no-op and the caller runs
// inline. On the parent side after a successful fork, Daemonize always
// returns (false, nil); callers must exit promptly.
func Daemonize(foreground bool, cfg Context) (child bool, err error) {
	if foreground {
		return true, nil
	}

	execPath, err := osext.Executable()
	if err != nil {
		return false, fmt.Errorf("resolving executable path: %w", err)
	}

	dctx := &daemon.Context{
		PidFileName: cfg.PidFile,
		PidFilePerm: 0o644,
		LogFileName: cfg.LogFile,
		LogFilePerm: 0o640,
		WorkDir:     "/",
		Umask:       0o027,
		Args:        append([]string{execPath}, os.Args[1:]...),
	}

	d, err := dctx.Reborn()
	if err != nil {
		return false, fmt.Errorf("forking into background: %w", err)
	}
	if d != nil {
		// parent process: the child has been launched, nothing left to do.
		return false, nil
	}
	defer dctx.Release()
	return true, nil
}
