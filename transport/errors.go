package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/machinefabric/plugview-go/wire"
)

// ErrTimeout is returned by a read poll when no data arrived within the timeout.
// It is the normal "nothing to do yet" result, not a failure.
var ErrTimeout = errors.New("read poll timed out")

// ErrBroken matches (via errors.Is) every ChannelError: the channel can no longer be used
// and must be recreated together with its helper.
var ErrBroken = errors.New("channel broken")

// ChannelError represents a transport failure. Every ChannelError is terminal for its channel.
type ChannelError struct {
	Type ErrorType
	Op   string
	Err  error
}

type ErrorType int

const (
	ErrorTypeClosed ErrorType = iota
	ErrorTypeTruncated
	ErrorTypeEncode
	ErrorTypeIo
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeClosed:
		return "closed"
	case ErrorTypeTruncated:
		return "truncated"
	case ErrorTypeEncode:
		return "encode"
	case ErrorTypeIo:
		return "io"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

func (e *ChannelError) Error() string {
	switch e.Type {
	case ErrorTypeClosed:
		return fmt.Sprintf("channel %s: endpoint closed", e.Op)
	case ErrorTypeTruncated:
		return fmt.Sprintf("channel %s: partial frame: %v", e.Op, e.Err)
	case ErrorTypeEncode:
		return fmt.Sprintf("channel %s: encode error: %v", e.Op, e.Err)
	case ErrorTypeIo:
		return fmt.Sprintf("channel %s: I/O error: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
	}
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is makes every ChannelError match ErrBroken
func (e *ChannelError) Is(target error) bool {
	return target == ErrBroken
}

// classify maps a low-level error to an ErrorType
func classify(err error) ErrorType {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorTypeTruncated
	case errors.Is(err, io.EOF),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return ErrorTypeClosed
	case errors.Is(err, wire.ErrPayloadTooLarge),
		errors.Is(err, wire.ErrNegativeLength):
		return ErrorTypeEncode
	default:
		return ErrorTypeIo
	}
}
