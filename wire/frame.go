package wire

import (
	"fmt"
)

// HeaderSize is the fixed size of the tag + length prefix.
const HeaderSize = 6

// Tag identifies the operation carried by a frame
type Tag int16

const (
	TagTerminate           Tag = 0 // MUST be 0 - stops the receiving dispatcher
	TagHello               Tag = 1
	TagNavigate            Tag = 2
	TagRunScript           Tag = 3
	TagInjectScript        Tag = 4
	TagNavigationCompleted Tag = 5
	TagDocumentMessage     Tag = 6
	TagWindowClosed        Tag = 7
	TagScriptError         Tag = 8
	TagResize              Tag = 9
	TagLog                 Tag = 10
)

// String returns the tag name
func (t Tag) String() string {
	switch t {
	case TagTerminate:
		return "TERMINATE"
	case TagHello:
		return "HELLO"
	case TagNavigate:
		return "NAVIGATE"
	case TagRunScript:
		return "RUN_SCRIPT"
	case TagInjectScript:
		return "INJECT_SCRIPT"
	case TagNavigationCompleted:
		return "NAVIGATION_COMPLETED"
	case TagDocumentMessage:
		return "DOCUMENT_MESSAGE"
	case TagWindowClosed:
		return "WINDOW_CLOSED"
	case TagScriptError:
		return "SCRIPT_ERROR"
	case TagResize:
		return "RESIZE"
	case TagLog:
		return "LOG"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int16(t))
	}
}

// Known reports whether the tag belongs to the built-in set.
// Unknown tags are still valid on the wire; the set is extensible.
func (t Tag) Known() bool {
	return t >= TagTerminate && t <= TagLog
}

// Frame is one complete tag + length + value unit.
// Value is nil when the frame carries no payload.
type Frame struct {
	Tag   Tag
	Value []byte
}

// NewFrame creates a frame. An empty payload is stored as nil.
func NewFrame(tag Tag, payload []byte) *Frame {
	if len(payload) == 0 {
		payload = nil
	}
	return &Frame{Tag: tag, Value: payload}
}

// NewTerminate creates a TERMINATE frame (length 0)
func NewTerminate() *Frame {
	return &Frame{Tag: TagTerminate}
}

// NewStringFrame creates a frame whose payload is a null-terminated string
func NewStringFrame(tag Tag, s string) *Frame {
	return &Frame{Tag: tag, Value: EncodeString(s)}
}

// Len returns the payload length as written in the length field
func (f *Frame) Len() int {
	return len(f.Value)
}

// String decodes the payload as a null-terminated string.
func (f *Frame) String() string {
	s, _ := DecodeString(f.Value)
	return s
}

// IsTerminate returns true for the reserved TERMINATE tag
func (f *Frame) IsTerminate() bool {
	return f.Tag == TagTerminate
}
