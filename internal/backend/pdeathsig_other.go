//go:build unix && !linux

package backend

import "syscall"

func setParentDeathSignal(*syscall.SysProcAttr) {}
