//go:build linux

// Package unix provides platform-specific Unix constants.
package unix

import "syscall"

// ONonblock opens supervise control FIFOs without waiting for a reader on Linux.
const ONonblock = syscall.O_NONBLOCK
