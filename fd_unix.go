//go:build linux

package uvloop

import "golang.org/x/sys/unix"

// closeFD, readFD and writeFD are the thin syscall wrappers shared by the
// wake primitive and Socket; kept as named functions rather than inlined
// unix.* calls so tests can substitute fakes if ever needed.

func closeFD(fd int) error { return unix.Close(fd) }

func readFD(fd int, buf []byte) (int, error) { return unix.Read(fd, buf) }

func writeFD(fd int, buf []byte) (int, error) { return unix.Write(fd, buf) }
