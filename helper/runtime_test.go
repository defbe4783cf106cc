package helper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/plugview-go/transport"
	"github.com/machinefabric/plugview-go/wire"
)

// lazyEngine finishes a navigation only when the next one starts, or on the
// "complete" script, the way a browser finishes loading asynchronously
type lazyEngine struct {
	sink EventSink

	mu      sync.Mutex
	pending *wire.Navigation
}

func (e *lazyEngine) Navigate(session, url string) error {
	e.mu.Lock()
	prev := e.pending
	e.pending = &wire.Navigation{Session: session, URL: url}
	e.mu.Unlock()
	if prev != nil {
		e.sink.NavigationCompleted(prev.Session, prev.URL)
	}
	return nil
}

func (e *lazyEngine) RunScript(src string) error {
	if src != "complete" {
		return nil
	}
	e.mu.Lock()
	nav := e.pending
	e.pending = nil
	e.mu.Unlock()
	if nav != nil {
		e.sink.NavigationCompleted(nav.Session, nav.URL)
	}
	return nil
}

func (e *lazyEngine) InjectScript(string) error { return nil }
func (e *lazyEngine) Resize(int, int) error     { return nil }
func (e *lazyEngine) Close() error              { return nil }

func sendNavigate(t *testing.T, ch *transport.Channel, session, url string) {
	t.Helper()
	payload, err := wire.EncodeCBOR(wire.Navigation{Session: session, URL: url})
	require.NoError(t, err)
	require.NoError(t, ch.Write(wire.TagNavigate, payload))
}

// TEST078: A navigation that completes after the next one started keeps its own session
func TestRuntimeCompletionKeepsSession(t *testing.T) {
	host, child, err := transport.NewPipePair()
	require.NoError(t, err)
	defer host.Close()

	rt, err := NewRuntime(child,
		func(sink EventSink) (Engine, error) { return &lazyEngine{sink: sink}, nil },
		WithRuntimePollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(context.Background()) }()

	completed := make(chan wire.Navigation, 4)
	disp := transport.NewDispatcher(host, transport.WithPollInterval(10*time.Millisecond))
	disp.Handle(wire.TagHello, func(*wire.Frame) error { return nil })
	disp.Handle(wire.TagNavigationCompleted, func(frame *wire.Frame) error {
		var nav wire.Navigation
		if err := wire.DecodeCBOR(frame.Value, &nav); err != nil {
			return err
		}
		completed <- nav
		return nil
	})
	require.NoError(t, disp.Start())
	defer disp.Stop()

	sendNavigate(t, host, "A", "a")
	sendNavigate(t, host, "B", "b")
	require.NoError(t, host.Write(wire.TagRunScript, wire.EncodeString("complete")))

	var got []wire.Navigation
	for len(got) < 2 {
		select {
		case nav := <-completed:
			got = append(got, nav)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d navigations completed", len(got))
		}
	}
	assert.Equal(t, []wire.Navigation{
		{Session: "A", URL: "a"},
		{Session: "B", URL: "b"},
	}, got)

	require.NoError(t, host.Write(wire.TagTerminate, nil))
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop on TERMINATE")
	}
}
