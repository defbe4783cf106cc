// Command plugview-helper hosts a plugin editor's document in a browser engine.
//
// It is started by the plugin with two inherited pipe descriptors as its first two
// arguments:
//
//	plugview-helper <read-fd> <write-fd> [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/machinefabric/plugview-go/helper"
	"github.com/machinefabric/plugview-go/transport"
	"github.com/machinefabric/plugview-go/wire"
)

// Version is reported to the plugin in HELLO
var Version = "dev"

const lockName = ".plugview.lock"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	readFD, writeFD, rest, err := transport.ParseEndpoints(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugview-helper: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: plugview-helper <read-fd> <write-fd> [flags]")
		return 2
	}

	fs := flag.NewFlagSet("plugview-helper", flag.ContinueOnError)
	var opts engineOptions
	fs.IntVar(&opts.width, "width", 800, "window width")
	fs.IntVar(&opts.height, "height", 600, "window height")
	fs.BoolVar(&opts.headless, "headless", false, "run the browser without a window")
	fs.StringVar(&opts.profileDir, "profile-dir", "", "browser profile directory")
	fs.StringVar(&opts.chromePath, "chrome", "", "browser executable (default: search)")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "plugview-helper: %v\n", err)
		return 2
	}

	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	stderrCore := func(enab zapcore.LevelEnabler) zapcore.Core {
		return zapcore.NewCore(enc, zapcore.Lock(os.Stderr), enab)
	}

	// Channel failures are reported on stderr only; they cannot travel over the channel
	ch, err := transport.OpenInherited(readFD, writeFD,
		transport.WithLogger(zap.New(stderrCore(zapcore.WarnLevel)).Named("channel")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugview-helper: %v\n", err)
		return 2
	}

	// Logs go to the plugin as LOG frames, and errors to stderr as well
	logger := zap.New(zapcore.NewTee(
		helper.NewForwardCore(ch, level),
		stderrCore(zapcore.ErrorLevel),
	)).Named("helper")
	defer logger.Sync()

	if err := serve(ch, opts, logger); err != nil {
		logger.Error("helper failed", zap.Error(err))
		return 1
	}
	return 0
}

func serve(ch *transport.Channel, opts engineOptions, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.profileDir == "" {
		dir, err := os.MkdirTemp("", "plugview-profile-")
		if err != nil {
			ch.Close()
			return err
		}
		defer os.RemoveAll(dir)
		opts.profileDir = dir
	}
	unlock, err := lockProfile(opts.profileDir)
	if err != nil {
		ch.Close()
		return err
	}
	defer unlock()

	rt, err := helper.NewRuntime(ch,
		func(sink helper.EventSink) (helper.Engine, error) {
			return newChromeEngine(opts, sink, logger.Named("engine"))
		},
		helper.WithRuntimeLogger(logger),
		helper.WithInfo(wire.HelperInfo{PID: os.Getpid(), Engine: "chromium", Version: Version}),
	)
	if err != nil {
		ch.Close()
		return err
	}

	logger.Info("helper started",
		zap.Int("pid", os.Getpid()),
		zap.String("profile", opts.profileDir),
		zap.Bool("headless", opts.headless))
	err = rt.Run(ctx)
	if errors.Is(err, transport.ErrBroken) {
		// The plugin went away without TERMINATE
		logger.Warn("channel to plugin lost", zap.Error(err))
		return nil
	}
	return err
}

// lockProfile takes the profile directory lock so two helpers never share a profile
func lockProfile(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock profile %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("profile %s is in use by another helper", dir)
	}
	return func() { lock.Unlock() }, nil
}
