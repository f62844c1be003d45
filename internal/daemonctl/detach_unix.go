//go:build unix

package daemonctl

import (
	"os/exec"
	"syscall"
)

// detach puts the daemon in its own session so closing the terminal does not
// signal it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
