package transport

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Descriptor numbers the helper sees when its endpoints are passed as the first two
// extra files of the child process (after stdin, stdout, stderr).
const (
	InheritedReadFD  = 3
	InheritedWriteFD = 4
)

var (
	ErrMissingEndpoints  = errors.New("missing endpoint descriptors: expected <read-fd> <write-fd>")
	ErrMalformedEndpoint = errors.New("malformed endpoint descriptor")
)

// ChildFiles are the helper's ends of a channel, handed over at process creation
type ChildFiles struct {
	Read  *os.File
	Write *os.File
}

// Files returns the endpoints in inheritance order: read, then write
func (f *ChildFiles) Files() []*os.File {
	return []*os.File{f.Read, f.Write}
}

// Args returns the positional arguments naming the inherited endpoints
func (f *ChildFiles) Args() []string {
	return []string{strconv.Itoa(InheritedReadFD), strconv.Itoa(InheritedWriteFD)}
}

// Close releases the parent's copies once the child has inherited them
func (f *ChildFiles) Close() error {
	return errors.Join(f.Read.Close(), f.Write.Close())
}

// Pipe creates the two unidirectional pipes for a host/helper pair. The returned Channel
// is the host side; ChildFiles must be passed to the helper process.
func Pipe(opts ...Option) (*Channel, *ChildFiles, error) {
	toChildR, toChildW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create host->helper pipe: %w", err)
	}
	toHostR, toHostW, err := os.Pipe()
	if err != nil {
		toChildR.Close()
		toChildW.Close()
		return nil, nil, fmt.Errorf("create helper->host pipe: %w", err)
	}

	host := NewChannel(toHostR, toChildW, opts...)
	return host, &ChildFiles{Read: toChildR, Write: toHostW}, nil
}

// NewPipePair creates two connected channels in the current process
func NewPipePair(opts ...Option) (*Channel, *Channel, error) {
	host, child, err := Pipe(opts...)
	if err != nil {
		return nil, nil, err
	}
	return host, NewChannel(child.Read, child.Write, opts...), nil
}

// ParseEndpoints reads the read and write descriptors from the first two positional
// arguments and returns the remaining arguments.
func ParseEndpoints(args []string) (readFD, writeFD uintptr, rest []string, err error) {
	if len(args) < 2 {
		return 0, 0, nil, ErrMissingEndpoints
	}
	r, err := parseDescriptor(args[0])
	if err != nil {
		return 0, 0, nil, err
	}
	w, err := parseDescriptor(args[1])
	if err != nil {
		return 0, 0, nil, err
	}
	if r == w {
		return 0, 0, nil, fmt.Errorf("%w: read and write descriptors are both %d", ErrMalformedEndpoint, r)
	}
	return r, w, args[2:], nil
}

func parseDescriptor(s string) (uintptr, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrMalformedEndpoint, s)
	}
	return uintptr(v), nil
}
