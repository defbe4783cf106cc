package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/machinefabric/plugview-go/helper"
	"github.com/machinefabric/plugview-go/webui"
)

type engineOptions struct {
	width      int
	height     int
	headless   bool
	profileDir string
	chromePath string
}

// chromeEngine hosts the document in a Chrome tab driven over the DevTools protocol
type chromeEngine struct {
	sink   helper.EventSink
	logger *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	// navigation generation; completions of superseded navigations are not reported
	nav     atomic.Uint64
	closing atomic.Bool

	closeOnce sync.Once
}

func newChromeEngine(opts engineOptions, sink helper.EventSink, logger *zap.Logger) (*chromeEngine, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(opts.profileDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.WindowSize(opts.width, opts.height),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
	)
	if !opts.headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.chromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.chromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	sugar := logger.Named("chromedp").Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	e := &chromeEngine{
		sink:        sink,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}
	chromedp.ListenTarget(tabCtx, e.onEvent)

	// The first Run starts the browser
	if err := chromedp.Run(tabCtx, runtime.AddBinding(webui.NativeBinding)); err != nil {
		e.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	go e.watchTab()
	return e, nil
}

// onEvent runs on the chromedp event loop and must not block on the browser
func (e *chromeEngine) onEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		if ev.Name == webui.NativeBinding {
			e.sink.DocumentMessage(ev.Payload)
		}
	case *runtime.EventExceptionThrown:
		if ev.ExceptionDetails != nil {
			e.sink.ScriptError(ev.ExceptionDetails.Error())
		}
	case *inspector.EventDetached:
		e.logger.Info("browser detached", zap.Any("reason", ev.Reason))
		e.windowClosed()
	}
}

// watchTab reports the window closed when the tab or browser goes away on its own
func (e *chromeEngine) watchTab() {
	<-e.tabCtx.Done()
	e.windowClosed()
}

func (e *chromeEngine) windowClosed() {
	if e.closing.CompareAndSwap(false, true) {
		e.sink.WindowClosed()
	}
}

// Navigate starts loading url and returns; completion is reported to the sink
// under session
func (e *chromeEngine) Navigate(session, url string) error {
	gen := e.nav.Add(1)
	go func() {
		err := chromedp.Run(e.tabCtx, chromedp.Navigate(url))
		if e.nav.Load() != gen {
			return
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				e.sink.ScriptError(fmt.Sprintf("navigate %s: %v", url, err))
			}
			return
		}
		e.sink.NavigationCompleted(session, url)
	}()
	return nil
}

func (e *chromeEngine) RunScript(src string) error {
	return chromedp.Run(e.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, exc, err := runtime.Evaluate(src).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		return nil
	}))
}

func (e *chromeEngine) InjectScript(src string) error {
	return chromedp.Run(e.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx)
		return err
	}))
}

func (e *chromeEngine) Resize(width, height int) error {
	return chromedp.Run(e.tabCtx,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
	)
}

// Close shuts the browser down. Closing is not reported as a closed window.
func (e *chromeEngine) Close() error {
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		e.tabCancel()
		e.allocCancel()
	})
	return nil
}
