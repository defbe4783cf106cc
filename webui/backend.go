// Package webui binds a webview backend to the plugin side: navigation, the readiness
// gate, mapped-method calls into the document and routing of document messages.
package webui

// Backend is a webview engine treated as a black box: a native webview, an out-of-process
// browser helper or an in-process script engine.
type Backend interface {
	// Load starts loading url as the document of session
	Load(session, url string) error
	// RunScript evaluates src in the current document
	RunScript(src string) error
	// InjectScript registers src to run before page scripts in every new document
	InjectScript(src string) error
	// SetObserver registers the single observer for backend events
	SetObserver(obs Observer)
	Close() error
}

// Observer receives backend events. Callbacks may arrive on any goroutine.
type Observer interface {
	// OnDocumentReady is called when the document loaded for session is ready
	OnDocumentReady(session string)
	// OnMessageReceived is called with the JSON text posted by the document
	OnMessageReceived(payload string)
}
