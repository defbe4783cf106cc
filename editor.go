package plugview

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/machinefabric/plugview-go/config"
	"github.com/machinefabric/plugview-go/devwatch"
	"github.com/machinefabric/plugview-go/helper"
	"github.com/machinefabric/plugview-go/keyroute"
	"github.com/machinefabric/plugview-go/processor"
	"github.com/machinefabric/plugview-go/webui"
)

// Option configures an Editor
type Option func(*options)

type options struct {
	logger  *zap.Logger
	backend webui.Backend
	keys    *keyroute.Router
}

// WithLogger sets the editor logger. Without it the logger is built from the config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBackend hosts the document in backend instead of a helper process
func WithBackend(backend webui.Backend) Option {
	return func(o *options) {
		o.backend = backend
	}
}

// WithKeyRouter registers the editor's view as a key target of a router shared by all
// editors of the process
func WithKeyRouter(router *keyroute.Router) Option {
	return func(o *options) {
		o.keys = router
	}
}

// resizer is a backend whose window can be resized
type resizer interface {
	Resize(width, height int) error
}

// Editor is one plugin editor: a document hosted in a helper process (or another
// backend), bound to an audio processor.
type Editor struct {
	id      string
	cfg     *config.Config
	logger  *zap.Logger
	sup     *helper.Supervisor
	backend webui.Backend
	view    *webui.View
	ctrl    *processor.Controller

	releaseKeys func()
	stopWatch   context.CancelFunc
	watchDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Open starts the helper, waits for it to announce itself, binds proc to the document
// and navigates to cfg.URL. ctx bounds the helper startup.
func Open(ctx context.Context, cfg *config.Config, proc processor.AudioProcessor, opts ...Option) (*Editor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		logger, err := cfg.NewLogger()
		if err != nil {
			return nil, err
		}
		o.logger = logger
	}

	e := &Editor{
		id:      uuid.NewString(),
		cfg:     cfg,
		backend: o.backend,
		closed:  make(chan struct{}),
	}
	e.logger = o.logger.With(zap.String("editor", e.id))

	if e.backend == nil {
		if err := e.startHelper(ctx); err != nil {
			return nil, err
		}
	}

	view, err := webui.NewView(e.backend, webui.WithLogger(e.logger.Named("view")))
	if err != nil {
		e.backend.Close()
		return nil, err
	}
	e.view = view

	e.ctrl, err = processor.NewController(proc, view, e.logger.Named("controller"))
	if err != nil {
		view.Close()
		return nil, err
	}

	if o.keys != nil {
		release, err := o.keys.Register(e.id, view)
		if err != nil {
			view.Close()
			return nil, fmt.Errorf("register key target: %w", err)
		}
		e.releaseKeys = release
		if err := o.keys.Focus(e.id); err != nil {
			e.logger.Warn("focus key target", zap.Error(err))
		}
	}

	if cfg.Watch {
		if err := e.startWatch(); err != nil {
			e.Close()
			return nil, err
		}
	}

	if err := view.Navigate(cfg.URL); err != nil {
		e.Close()
		return nil, fmt.Errorf("navigate %s: %w", cfg.URL, err)
	}
	e.logger.Info("editor opened", zap.String("url", cfg.URL))
	return e, nil
}

func (e *Editor) startHelper(ctx context.Context) error {
	sup := helper.New(helper.Config{
		Path:         e.cfg.HelperPath,
		Args:         helperArgs(e.cfg),
		StopTimeout:  e.cfg.StopTimeout,
		PollInterval: e.cfg.PollInterval,
		Limits:       e.cfg.Limits,
	}, helper.WithLogger(e.logger.Named("helper")))
	backend := helper.NewBackend(sup, e.logger.Named("helper"))
	sup.OnStateChange(func(from, to helper.State) {
		if to == helper.Terminated {
			e.logger.Info("helper terminated", zap.Stringer("from", from), zap.Error(sup.ExitErr()))
		}
	})

	if err := sup.Start(); err != nil {
		sup.Stop()
		return err
	}
	if err := sup.WaitReady(ctx); err != nil {
		sup.Stop()
		return fmt.Errorf("helper did not announce itself: %w", err)
	}
	info := sup.Info()
	e.logger.Info("helper ready",
		zap.String("helper", sup.ID()),
		zap.Int("pid", info.PID),
		zap.String("engine", info.Engine),
		zap.String("version", info.Version))

	e.sup = sup
	e.backend = backend
	return nil
}

// helperArgs are the helper's flags after its endpoint descriptors
func helperArgs(cfg *config.Config) []string {
	args := []string{
		"--width", strconv.Itoa(cfg.Width),
		"--height", strconv.Itoa(cfg.Height),
		"--profile-dir", cfg.ProfileDir,
		"--log-level", cfg.LogLevel,
	}
	if cfg.Headless {
		args = append(args, "--headless")
	}
	return append(args, cfg.HelperArgs...)
}

func (e *Editor) startWatch() error {
	w, err := devwatch.New(e.cfg.AssetDir, e.view,
		devwatch.WithPatterns(e.cfg.WatchPatterns...),
		devwatch.WithDebounce(e.cfg.WatchDebounce),
		devwatch.WithLogger(e.logger.Named("devwatch")),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.stopWatch = cancel
	e.watchDone = make(chan struct{})
	go func() {
		defer close(e.watchDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("asset watcher stopped", zap.Error(err))
		}
	}()
	return nil
}

// ID returns the editor id, also its key routing target id
func (e *Editor) ID() string {
	return e.id
}

// View returns the editor's document view
func (e *Editor) View() *webui.View {
	return e.view
}

// Controller returns the parameter controller
func (e *Editor) Controller() *processor.Controller {
	return e.ctrl
}

// Supervisor returns the helper supervisor, or nil when the editor was opened with
// another backend
func (e *Editor) Supervisor() *helper.Supervisor {
	return e.sup
}

// Done is closed when the editor is closed or its helper terminated
func (e *Editor) Done() <-chan struct{} {
	if e.sup != nil {
		return e.sup.Done()
	}
	return e.closed
}

// Resize resizes the editor window when the backend supports it
func (e *Editor) Resize(width, height int) error {
	r, ok := e.backend.(resizer)
	if !ok {
		return fmt.Errorf("backend %T cannot resize", e.backend)
	}
	return r.Resize(width, height)
}

// Close stops the asset watcher, releases key routing and closes the view, which stops
// the helper. It is idempotent.
func (e *Editor) Close() error {
	e.closeOnce.Do(func() {
		if e.stopWatch != nil {
			e.stopWatch()
			<-e.watchDone
		}
		if e.releaseKeys != nil {
			e.releaseKeys()
		}
		e.closeErr = e.view.Close()
		close(e.closed)
		e.logger.Info("editor closed")
	})
	return e.closeErr
}
