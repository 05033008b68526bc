// Copyright 2022 The jackal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppnotify/pkg/log"
	"github.com/ortuman/xmppnotify/pkg/notification"
	"github.com/ortuman/xmppnotify/pkg/taskrunner"
	"github.com/ortuman/xmppnotify/pkg/transport"
	"github.com/ortuman/xmppnotify/pkg/version"
	"github.com/ortuman/xmppnotify/pkg/xmpp"
)

const (
	defaultBootstrapTimeout = time.Minute
	defaultShutdownTimeout  = time.Second * 30

	envConfigFile = "XMPPNOTIFY_CONFIG_FILE"
)

const usageStr = `
Usage: xmppnotify [options]
Channel Options:
    --config <file>    Configuration file path
Common Options:
    --help             Show this message
    --version          Print version information
`

type starter interface {
	Start(ctx context.Context) error
}

type stopper interface {
	Stop(ctx context.Context) error
}

type startStopper interface {
	starter
	stopper
}

// App is the root data structure for xmppnotify.
type App struct {
	output io.Writer
	args   []string

	runner  *taskrunner.RunQueue
	network *transport.TLSNetwork
	channel *xmpp.Channel
	webhook *notification.Webhook

	starters []starter
	stoppers []stopper

	waitStopCh chan os.Signal
	fatalCh    chan error

	logger kitlog.Logger
}

// New makes a new App.
func New(output io.Writer, args []string) *App {
	return &App{
		output:     output,
		args:       args,
		waitStopCh: make(chan os.Signal, 1),
		fatalCh:    make(chan error, 1),
	}
}

// Run starts the notification channel, and blocks until it stops.
func (a *App) Run() error {
	fs := flag.NewFlagSet("xmppnotify", flag.ExitOnError)
	fs.SetOutput(a.output)

	var configFile string
	var showVersion, showUsage bool

	fs.BoolVar(&showUsage, "help", false, "Show this message")
	fs.BoolVar(&showVersion, "version", false, "Print version information.")
	fs.StringVar(&configFile, "config", "config.yaml", "Configuration file path.")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(a.output, "%s\n", usageStr)
	}
	_ = fs.Parse(a.args[1:])

	// print usage
	if showUsage {
		fs.Usage()
		return nil
	}
	// print version
	if showVersion {
		_, _ = fmt.Fprintf(a.output, "xmppnotify version: %v\n", version.Version)
		return nil
	}
	// if present, override config file url with env var
	if envCfgFile := os.Getenv(envConfigFile); len(envCfgFile) > 0 {
		configFile = envCfgFile
	}
	// load configuration
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	// init logger
	logger, logCloser, err := log.Open(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	a.logger = logger

	level.Info(a.logger).Log("msg", "xmppnotify is starting...",
		"version", version.Version,
		"go_ver", runtime.Version(),
		"go_os", runtime.GOOS,
		"go_arch", runtime.GOARCH,
	)

	if err := a.initChannel(cfg); err != nil {
		return err
	}

	if err := a.bootstrap(); err != nil {
		return err
	}
	// ...wait for stop signal or a fatal channel failure to shut down
	select {
	case sig := <-a.waitForStopSignal():
		level.Info(a.logger).Log("msg", "received stop signal... shutting down...",
			"signal", sig.String(),
		)
		return a.shutdown()

	case err := <-a.fatalCh:
		level.Error(a.logger).Log("msg", "shutting down after fatal error", "err", err)
		if shErr := a.shutdown(); shErr != nil {
			level.Warn(a.logger).Log("msg", "failed to shut down", "err", shErr)
		}
		return err
	}
}

func (a *App) initChannel(cfg *Config) error {
	// channel event loop
	a.runner = taskrunner.New("xmpp")
	a.registerStartStopper(a.runner)

	a.network = transport.NewTLSNetwork(cfg.XMPP.NetworkConfig(), a.runner, a.logger)

	ch, err := xmpp.NewChannel(cfg.XMPP, a.runner, a.network, a.logger)
	if err != nil {
		return err
	}
	a.channel = ch

	// webhook forwarder
	a.webhook = notification.NewWebhook(cfg.Webhook, a.logger)
	a.registerStartStopper(a.webhook)

	d := &delegate{
		ch:          ch,
		sender:      a.webhook,
		tokenFile:   cfg.XMPP.AccessTokenFile,
		accessToken: cfg.XMPP.AccessToken,
		fatalCh:     a.fatalCh,
		logger:      kitlog.With(a.logger, "component", "delegate"),
	}
	chSvc := newChannelService(ch, a.runner, d)

	// init HTTP server
	a.registerStartStopper(newHTTPServer(cfg.HTTPPort, chSvc.IsConnected, a.logger))

	// connectivity monitor
	a.registerStartStopper(transport.NewConnectivityMonitor(
		cfg.Connectivity.PollInterval,
		a.network.NotifyConnectionChanged,
		a.logger,
	))

	a.registerStartStopper(chSvc)
	return nil
}

func (a *App) registerStartStopper(ss startStopper) {
	if ss == nil {
		return
	}
	a.starters = append(a.starters, ss)
	a.stoppers = append([]stopper{ss}, a.stoppers...)
}

func (a *App) bootstrap() error {
	// spin up all service subsystems
	ctx, cancel := context.WithTimeout(context.Background(), defaultBootstrapTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		// invoke all registered starters...
		for _, s := range a.starters {
			if err := s.Start(ctx); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) shutdown() error {
	// wait until shutdown has been completed
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		// invoke all registered stoppers...
		for _, st := range a.stoppers {
			if err := st.Stop(ctx); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) waitForStopSignal() <-chan os.Signal {
	signal.Notify(a.waitStopCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return a.waitStopCh
}
