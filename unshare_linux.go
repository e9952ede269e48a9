//go:build linux

package fibre

import "golang.org/x/sys/unix"

// unshareFiles detaches the calling thread's file descriptor table from
// its process group, the Linux-only half of EventScope.Clone (§4.9
// "performs the OS 'unshare file descriptors' operation where
// supported").
func unshareFiles() {
	_ = unix.Unshare(unix.CLONE_FILES)
}
