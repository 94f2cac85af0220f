// Command wiredbg bridges a single-wire (UART or TCP-tunneled) debugging
// channel to three local TCP ports: a log stream, a process-tree mirror,
// and an interactive command shell. See SPEC_FULL.md for the wire protocol
// and task-tree design this implements.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/coreos/go-systemd/v22/activation"
	"github.com/hashicorp/go-hclog"
	flag "github.com/spf13/pflag"

	"wiredbg/internal/app"
	"wiredbg/internal/env"
	"wiredbg/internal/httpdebug"
	"wiredbg/internal/proc"
	"wiredbg/internal/tcplisten"
	"wiredbg/internal/wslog"
)

func main() {
	channel := flag.StringP("channel", "c", "tty", "debug channel: tty (default), socket")
	dbgPort := flag.IntP("port", "p", 2000, "device byte channel port (socket channel only)")
	logPort := flag.Int("log-port", 3000, "log stream TCP port")
	procPort := flag.Int("proc-port", 3001, "process-tree mirror TCP port")
	cmdPort := flag.Int("cmd-port", 3002, "command shell TCP port")
	httpPort := flag.Int("http-port", 3003, "debug HTTP port, 0 disables")
	wsLogPort := flag.Int("ws-log-port", 3004, "websocket log mirror port, 0 disables")
	restartUpgrade := flag.Bool("restart-upgrade", false, "run under a tableflip upgrader; SIGHUP triggers a zero-downtime re-exec")
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "wiredbg",
		Level: hclog.LevelFromString(*logLevel),
	})

	var upg *tableflip.Upgrader
	if *restartUpgrade {
		var err error
		upg, err = tableflip.New(tableflip.Options{})
		if err != nil {
			logger.Error("failed to create tableflip upgrader", "err", err)
			os.Exit(1)
		}
		defer upg.Stop()

		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGHUP)
			for range sig {
				logger.Info("SIGHUP received, upgrading")
				if err := upg.Upgrade(); err != nil {
					logger.Error("upgrade failed", "err", err)
				}
			}
		}()
	}

	activated, err := activation.Listeners()
	if err != nil {
		logger.Debug("systemd activation check failed", "err", err)
		activated = nil
	}

	bus := env.NewBus(env.Channel(*channel), *dbgPort, logger)

	factories := app.Factories{
		Log:  listenerFactoryFor(fmt.Sprintf("0.0.0.0:%d", *logPort), upg, activated, 0),
		Proc: listenerFactoryFor(fmt.Sprintf("0.0.0.0:%d", *procPort), upg, activated, 1),
		Cmd:  listenerFactoryFor(fmt.Sprintf("0.0.0.0:%d", *cmdPort), upg, activated, 2),
	}

	root := app.New(bus, app.Ports{Log: *logPort, Proc: *procPort, Cmd: *cmdPort}, factories)
	sched := proc.NewScheduler()

	httpSrv, wsSrv, mirror := startSideServers(bus, sched, logger, *httpPort, *wsLogPort)

	stopMirror := make(chan struct{})
	if mirror != nil {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		go mirror.Run(stopMirror, ticker.C)
	}

	if upg != nil {
		if err := upg.Ready(); err != nil {
			logger.Error("tableflip Ready failed", "err", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	exit := sig
	if upg != nil {
		exit = nil // under tableflip, upg.Exit() is the authoritative shutdown signal
	}

	for {
		select {
		case <-exit:
			logger.Info("shutdown signal received")
			goto shutdown
		default:
		}
		if upg != nil {
			select {
			case <-upg.Exit():
				logger.Info("tableflip exit requested")
				goto shutdown
			default:
			}
		}
		sched.RootTick(root.Task)
	}

shutdown:
	close(stopMirror)
	if httpSrv != nil {
		_ = httpSrv.Close()
	}
	if wsSrv != nil {
		_ = wsSrv.Close()
	}
}

// listenerFactoryFor picks the listener strategy for addr, in priority
// order: tableflip (graceful restart requested), systemd activation (a
// matching pre-bound socket is available), plain net.Listen otherwise.
func listenerFactoryFor(addr string, upg *tableflip.Upgrader, activated []net.Listener, idx int) tcplisten.ListenerFactory {
	if upg != nil {
		return func() (net.Listener, error) {
			return upg.Listen("tcp", addr)
		}
	}
	if idx < len(activated) && activated[idx] != nil {
		l := activated[idx]
		return func() (net.Listener, error) {
			return l, nil
		}
	}
	return tcplisten.PlainFactory(addr)
}

func startSideServers(bus *env.Bus, sched *proc.Scheduler, logger hclog.Logger, httpPort, wsLogPort int) (*httpdebug.Server, *http.Server, *wslog.Mirror) {
	var httpSrv *httpdebug.Server
	var wsSrv *http.Server
	var mirror *wslog.Mirror

	if httpPort != 0 {
		httpSrv = httpdebug.New(fmt.Sprintf("0.0.0.0:%d", httpPort), sched, bus, logger)
		go httpSrv.Run()
	}

	if wsLogPort != 0 {
		mirror = wslog.New(bus, logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/log", mirror.Handler)
		wsSrv = &http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", wsLogPort), Handler: mux}
		go func() {
			logger.Info("websocket log mirror listening", "addr", wsSrv.Addr)
			if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("websocket log mirror exited", "err", err)
			}
		}()
	}

	return httpSrv, wsSrv, mirror
}
