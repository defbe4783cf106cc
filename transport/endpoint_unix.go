//go:build unix

package transport

import (
	"fmt"
	"os"
	"syscall"
)

// OpenInherited wraps descriptors inherited from the parent process.
// The descriptors are switched to non-blocking mode so the read poll can use deadlines,
// and marked close-on-exec so processes started by the helper do not hold the pipes.
func OpenInherited(readFD, writeFD uintptr, opts ...Option) (*Channel, error) {
	for _, fd := range []uintptr{readFD, writeFD} {
		if err := syscall.SetNonblock(int(fd), true); err != nil {
			return nil, fmt.Errorf("%w %d: %v", ErrMalformedEndpoint, fd, err)
		}
		syscall.CloseOnExec(int(fd))
	}
	r := os.NewFile(readFD, "plugview-read")
	w := os.NewFile(writeFD, "plugview-write")
	return NewChannel(r, w, opts...), nil
}
