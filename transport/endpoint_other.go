//go:build !unix

package transport

import (
	"fmt"
	"os"
)

// OpenInherited wraps handles inherited from the parent process.
// These endpoints have no read deadlines, so the channel reads through its pump.
func OpenInherited(readFD, writeFD uintptr, opts ...Option) (*Channel, error) {
	r := os.NewFile(readFD, "plugview-read")
	w := os.NewFile(writeFD, "plugview-write")
	if r == nil || w == nil {
		return nil, fmt.Errorf("%w: invalid handle", ErrMalformedEndpoint)
	}
	return NewChannel(r, w, opts...), nil
}
