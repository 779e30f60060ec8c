// Command managerd is the control-plane daemon: it loads config from the
// environment, wires the netlink and container gateways, and serves the
// Manager's three RPCs until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/naumachia-net/manager/internal/config"
	"github.com/naumachia-net/manager/internal/containergw"
	"github.com/naumachia-net/manager/internal/manager"
	"github.com/naumachia-net/manager/internal/netlinkgw"
	"github.com/naumachia-net/manager/internal/rpcserver"
)

// exitCode is swapped from main via os.Exit after deferred cleanup runs,
// so fatal-init failures still unwind normally instead of calling
// os.Exit directly mid-function.
var exitCode atomic.Int32

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Error("fatal")
		exitCode.Store(1)
	}
	os.Exit(int(exitCode.Load()))
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)

	nl := netlinkgw.New()
	cg := containergw.New(cfg.ComposeCmd, cfg.ChallengesRoot)
	mgr := manager.New(nl, cg)

	srv := rpcserver.New(mgr)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	httpSrv := &http.Server{Handler: srv.Handler()}

	serveErr := make(chan error, 1)
	go func() {
		logrus.WithField("addr", cfg.ListenAddr).Info("managerd listening")
		serveErr <- httpSrv.Serve(ln)
	}()

	var stopping atomic.Bool
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigChan:
			if stopping.Swap(true) {
				logrus.WithField("signal", sig).Debug("shutdown already in progress, ignoring repeat signal")
				continue
			}
			logrus.WithField("signal", sig).Info("shutting down")
			// Stop accepting and dispatching new RPCs first, so no
			// connect_user can race a fresh cluster into existence
			// while disconnect_all is tearing challenges down below.
			if err := httpSrv.Shutdown(context.Background()); err != nil {
				logrus.WithError(err).Warn("rpc server shutdown did not complete cleanly")
			}
			mgr.Stop()
			return nil
		case err := <-serveErr:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("rpc server: %w", err)
			}
			return nil
		}
	}
}
