package helper

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/machinefabric/plugview-go/transport"
	"github.com/machinefabric/plugview-go/wire"
)

// helperModeEnv switches the test binary into a fake helper process
const helperModeEnv = "PLUGVIEW_TEST_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		os.Exit(runTestHelper(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runTestHelper(mode string, args []string) int {
	readFD, writeFD, _, err := transport.ParseEndpoints(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "test helper:", err)
		return 2
	}
	ch, err := transport.OpenInherited(readFD, writeFD)
	if err != nil {
		fmt.Fprintln(os.Stderr, "test helper:", err)
		return 2
	}

	switch mode {
	case "stubborn":
		// Announces itself, then never reads: TERMINATE goes unanswered
		ch.Write(wire.TagHello, nil)
		time.Sleep(time.Hour)
		return 0

	case "crash":
		ch.Write(wire.TagHello, nil)
		return 3

	case "runtime", "log":
		logger := zap.NewNop()
		if mode == "log" {
			logger = zap.New(NewForwardCore(ch, zapcore.DebugLevel)).Named("test")
		}
		rt, err := NewRuntime(ch, newFakeEngine,
			WithRuntimeLogger(logger),
			WithRuntimePollInterval(20*time.Millisecond),
			WithInfo(wire.HelperInfo{PID: os.Getpid(), Engine: "fake", Version: "1.0"}),
		)
		if err != nil {
			fmt.Fprintln(os.Stderr, "test helper:", err)
			return 1
		}
		logger.Info("engine started", zap.String("engine", "fake"))
		if err := rt.Run(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "test helper:", err)
			return 1
		}
		return 0

	default:
		fmt.Fprintln(os.Stderr, "test helper: unknown mode", mode)
		return 2
	}
}

// fakeEngine completes navigations immediately and interprets a few scripts:
// "window.close()" closes the window, "post:<json>" posts a document message and
// "throw" fails.
type fakeEngine struct {
	sink EventSink

	mu       sync.Mutex
	injected []string
}

func newFakeEngine(sink EventSink) (Engine, error) {
	return &fakeEngine{sink: sink}, nil
}

func (e *fakeEngine) Navigate(session, url string) error {
	go e.sink.NavigationCompleted(session, url)
	return nil
}

func (e *fakeEngine) RunScript(src string) error {
	switch {
	case src == "window.close()":
		go e.sink.WindowClosed()
	case src == "throw":
		return fmt.Errorf("script threw")
	case strings.HasPrefix(src, "post:"):
		e.sink.DocumentMessage(strings.TrimPrefix(src, "post:"))
	}
	return nil
}

func (e *fakeEngine) InjectScript(src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.injected = append(e.injected, src)
	return nil
}

func (e *fakeEngine) Resize(width, height int) error {
	return nil
}

func (e *fakeEngine) Close() error {
	return nil
}
