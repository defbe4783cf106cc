// Package wire defines the binary frame format shared by the plugin process and
// the browser helper process.
//
// Every frame has the same fixed layout in both directions:
//
//	[tag: int16 LE][length: int32 LE][value: length bytes, omitted when length == 0]
//
// There is no type information beyond the tag. The consumer interprets the
// payload by tag:
//
//	TERMINATE             no payload
//	HELLO                 CBOR HelperInfo
//	NAVIGATE              CBOR Navigation
//	RUN_SCRIPT            null-terminated string
//	INJECT_SCRIPT         null-terminated string
//	NAVIGATION_COMPLETED  CBOR Navigation
//	DOCUMENT_MESSAGE      null-terminated string (JSON text)
//	WINDOW_CLOSED         no payload
//	SCRIPT_ERROR          null-terminated string
//	RESIZE                Size, 8 bytes fixed layout
//	LOG                   CBOR LogRecord
package wire
