// Package helper spawns and supervises the out-of-process browser helper and provides
// the runtime the helper itself runs.
package helper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/machinefabric/plugview-go/transport"
	"github.com/machinefabric/plugview-go/wire"
)

const (
	DefaultStopTimeout = 3 * time.Second
	// waitDelay bounds how long Wait waits for the helper's stderr after it exits;
	// browser grandchildren may keep the pipe open.
	waitDelay = time.Second
)

// Config describes how to launch a helper
type Config struct {
	Path         string
	Args         []string // appended after the two endpoint descriptors
	Env          []string // appended to the current environment
	StopTimeout  time.Duration
	PollInterval time.Duration
	Limits       wire.Limits
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLogger sets the supervisor logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Supervisor owns one helper process, its channel and the dispatcher reading it.
//
// State machine: Unstarted -> Spawning -> Running -> Terminating -> Terminated, with
// Spawning -> Failed on launch errors. Stop is idempotent: an explicit stop, the helper
// closing its window, an abnormal exit and a broken channel all race to Terminating and
// exactly one of them drives the shutdown.
type Supervisor struct {
	cfg    Config
	id     string
	logger *zap.Logger

	state atomic.Int32

	// mu serializes state transitions and guards the fields below
	mu        sync.Mutex
	cmd       *exec.Cmd
	ch        *transport.Channel
	disp      *transport.Dispatcher
	handlers  map[wire.Tag]transport.Handler
	listeners []func(from, to State)
	info      wire.HelperInfo
	stderr    *zapio.Writer

	// transitions waiting to be delivered to listeners, in order
	pending  []transition
	emitting bool

	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}
	exitErr   error
	done      chan struct{}
}

// New creates an Unstarted supervisor
func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = transport.DefaultPollInterval
	}
	if cfg.Limits.MaxFrame == 0 {
		cfg.Limits = wire.DefaultLimits()
	}

	s := &Supervisor{
		cfg:      cfg,
		id:       uuid.NewString(),
		logger:   zap.NewNop(),
		handlers: make(map[wire.Tag]transport.Handler),
		ready:    make(chan struct{}),
		exited:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("helper", s.id))
	return s
}

// ID returns the unique id of this helper instance
func (s *Supervisor) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// PID returns the helper's process id, 0 before it was spawned
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Info returns what the helper announced in HELLO
func (s *Supervisor) Info() wire.HelperInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Ready is closed once the helper has sent HELLO
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the supervisor reaches Terminated
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ExitErr returns the helper's exit status once it has exited
func (s *Supervisor) ExitErr() error {
	select {
	case <-s.exited:
		return s.exitErr
	default:
		return nil
	}
}

// WaitReady blocks until the helper has sent HELLO, terminated, or ctx is done
func (s *Supervisor) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		// A helper may announce itself and exit right away
		select {
		case <-s.ready:
			return nil
		default:
			return ErrTerminated
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnStateChange registers a listener for state transitions. Listeners run outside the
// supervisor lock, on the goroutine that made the transition.
func (s *Supervisor) OnStateChange(fn func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Handle registers a handler for frames sent by the helper. Handlers registered for
// HELLO, WINDOW_CLOSED and LOG run after the supervisor's own handling.
func (s *Supervisor) Handle(tag wire.Tag, fn transport.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[tag] = fn
	if s.disp != nil {
		s.disp.Handle(tag, s.wrapLocked(tag))
	}
}

// Send writes one frame to the helper
func (s *Supervisor) Send(tag wire.Tag, payload []byte) error {
	if s.State() != Running {
		return fmt.Errorf("%w: %s", ErrNotRunning, s.State())
	}
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch.Write(tag, payload)
}

type transition struct {
	from, to State
}

// transitionLocked moves from one state to another and queues the listener
// notification; the caller holds mu and calls emit after unlocking.
func (s *Supervisor) transitionLocked(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.pending = append(s.pending, transition{from: from, to: to})
	return true
}

// emit delivers queued transitions in order. A goroutine that finds another one
// delivering leaves its transitions to it.
func (s *Supervisor) emit() {
	s.mu.Lock()
	if s.emitting {
		s.mu.Unlock()
		return
	}
	s.emitting = true
	for len(s.pending) > 0 {
		t := s.pending[0]
		s.pending = s.pending[1:]
		listeners := append([]func(State, State){}, s.listeners...)
		s.mu.Unlock()

		s.logger.Debug("state change", zap.Stringer("from", t.from), zap.Stringer("to", t.to))
		for _, fn := range listeners {
			fn(t.from, t.to)
		}

		s.mu.Lock()
	}
	s.emitting = false
	s.mu.Unlock()
}

// Start spawns the helper. It returns once the process is running; use WaitReady for HELLO.
// Launch failures leave the supervisor Failed and return a *LaunchError.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if !s.transitionLocked(Unstarted, Spawning) {
		state := s.State()
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}

	// mu is held until Running or Failed, so Stop never observes Spawning
	err := s.spawnLocked()
	if err != nil {
		s.transitionLocked(Spawning, Failed)
		s.mu.Unlock()
		s.logger.Error("helper launch failed", zap.Error(err))
		s.emit()
		return err
	}
	s.transitionLocked(Spawning, Running)
	s.mu.Unlock()

	go s.monitor()
	s.emit()
	return nil
}

// spawnLocked creates the pipes, starts the process and the dispatcher
func (s *Supervisor) spawnLocked() error {
	host, child, err := transport.Pipe(
		transport.WithLimits(s.cfg.Limits),
		transport.WithLogger(s.logger.Named("channel")),
	)
	if err != nil {
		return &LaunchError{Path: s.cfg.Path, Err: err}
	}

	cmd := exec.Command(s.cfg.Path, s.cfg.Args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	s.stderr = &zapio.Writer{Log: s.logger.Named("stderr"), Level: zapcore.InfoLevel}
	cmd.Stderr = s.stderr
	cmd.WaitDelay = waitDelay
	if err := attachEndpoints(cmd, child); err != nil {
		child.Close()
		host.Close()
		return &LaunchError{Path: s.cfg.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		child.Close()
		host.Close()
		return &LaunchError{Path: s.cfg.Path, Err: err}
	}
	// The child holds its own copies now
	child.Close()

	s.cmd = cmd
	s.ch = host
	s.disp = transport.NewDispatcher(host,
		transport.WithPollInterval(s.cfg.PollInterval),
		transport.WithDispatcherLogger(s.logger.Named("dispatcher")),
	)
	for _, tag := range []wire.Tag{wire.TagHello, wire.TagWindowClosed, wire.TagLog, wire.TagTerminate} {
		s.disp.Handle(tag, s.wrapLocked(tag))
	}
	for tag := range s.handlers {
		s.disp.Handle(tag, s.wrapLocked(tag))
	}
	s.disp.OnExit(s.onDispatcherExit)
	if err := s.disp.Start(); err != nil {
		cmd.Process.Kill()
		host.Close()
		return &LaunchError{Path: s.cfg.Path, Err: err}
	}

	s.logger.Info("helper spawned", zap.String("path", s.cfg.Path), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// wrapLocked combines the supervisor's own handling of a tag with the registered handler
func (s *Supervisor) wrapLocked(tag wire.Tag) transport.Handler {
	var own transport.Handler
	switch tag {
	case wire.TagHello:
		own = s.handleHello
	case wire.TagWindowClosed:
		own = s.handleWindowClosed
	case wire.TagLog:
		own = s.handleLog
	case wire.TagTerminate:
		own = s.handleTerminate
	}

	return func(frame *wire.Frame) error {
		if own != nil {
			if err := own(frame); err != nil {
				return err
			}
		}
		s.mu.Lock()
		fn := s.handlers[tag]
		s.mu.Unlock()
		if fn == nil {
			return nil
		}
		return fn(frame)
	}
}

func (s *Supervisor) handleHello(frame *wire.Frame) error {
	var info wire.HelperInfo
	if len(frame.Value) > 0 {
		if err := wire.DecodeCBOR(frame.Value, &info); err != nil {
			return fmt.Errorf("decode HELLO: %w", err)
		}
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("helper ready", zap.String("engine", info.Engine), zap.String("version", info.Version))
	return nil
}

// handleWindowClosed runs on the dispatcher worker; Stop waits for that worker, so the
// shutdown runs on its own goroutine.
func (s *Supervisor) handleWindowClosed(*wire.Frame) error {
	s.logger.Info("helper window closed")
	go s.Stop()
	return nil
}

func (s *Supervisor) handleTerminate(*wire.Frame) error {
	s.logger.Info("helper requested termination")
	go s.Stop()
	return nil
}

func (s *Supervisor) handleLog(frame *wire.Frame) error {
	var rec wire.LogRecord
	if err := wire.DecodeCBOR(frame.Value, &rec); err != nil {
		return fmt.Errorf("decode LOG: %w", err)
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(rec.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	logger := s.logger.Named("remote")
	if rec.Logger != "" {
		logger = logger.Named(rec.Logger)
	}
	fields := make([]zap.Field, 0, len(rec.Fields))
	for k, v := range rec.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	logger.Log(level, rec.Message, fields...)
	return nil
}

func (s *Supervisor) onDispatcherExit(err error) {
	if err != nil && s.State() == Running {
		s.logger.Warn("helper channel broken", zap.Error(err))
		go s.Stop()
	}
}

// monitor waits for the process to exit. An exit while Running is abnormal and drives
// the same shutdown as an explicit stop.
func (s *Supervisor) monitor() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	err := cmd.Wait()
	s.exitErr = err
	close(s.exited)
	s.stderr.Close()

	if s.State() == Running {
		s.logger.Warn("helper exited unexpectedly", zap.Error(err))
		s.Stop()
	}
}

// Stop shuts the helper down and returns once the supervisor is Terminated.
// Only the first caller to reach Terminating drives the shutdown; others wait for it.
// A helper that ignores TERMINATE is killed after the stop timeout.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	switch {
	case s.transitionLocked(Running, Terminating):
		s.mu.Unlock()
		s.emit()
		s.shutdown()

	case s.transitionLocked(Unstarted, Terminated), s.transitionLocked(Failed, Terminated):
		close(s.done)
		s.mu.Unlock()
		s.emit()

	default:
		s.mu.Unlock()
		<-s.done
	}
}

// Reset returns a Failed supervisor to Unstarted so Start can be retried
func (s *Supervisor) Reset() error {
	s.mu.Lock()
	if !s.transitionLocked(Failed, Unstarted) {
		state := s.State()
		s.mu.Unlock()
		return fmt.Errorf("cannot reset helper in state %s", state)
	}
	s.mu.Unlock()
	s.emit()
	return nil
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	cmd, ch, disp := s.cmd, s.ch, s.disp
	s.mu.Unlock()

	if err := ch.Write(wire.TagTerminate, nil); err != nil {
		s.logger.Debug("terminate not delivered", zap.Error(err))
	}

	// The dispatcher stops before the channel closes, so it never reports the
	// helper's exit as a broken channel.
	disp.Stop()
	select {
	case <-disp.Done():
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("dispatcher did not stop in time")
	}

	select {
	case <-s.exited:
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("helper did not exit in time, killing", zap.Duration("timeout", s.cfg.StopTimeout))
		if err := cmd.Process.Kill(); err != nil {
			s.logger.Warn("kill helper", zap.Error(err))
		}
		<-s.exited
	}

	if err := ch.Close(); err != nil {
		s.logger.Debug("close channel", zap.Error(err))
	}

	s.mu.Lock()
	s.transitionLocked(Terminating, Terminated)
	close(s.done)
	s.mu.Unlock()
	s.logger.Info("helper terminated", zap.NamedError("exit", s.exitErr))
	s.emit()
}
