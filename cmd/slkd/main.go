// Command slkd is a small reference binary for ServerLink: it loads a
// slk.toml configuration, wires up the listeners/connectors it
// describes, and — for every ROUTER socket — runs a trivial echo relay
// so the binary is useful as both a smoke test and a worked example of
// the public serverlink facade: flags -> config -> wiring ->
// signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infodancer/serverlink"
	"github.com/infodancer/serverlink/internal/config"
	"github.com/infodancer/serverlink/internal/logging"
	"github.com/infodancer/serverlink/internal/metrics"
	"github.com/infodancer/serverlink/internal/zmsg"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	slkCtx := serverlink.NewContext(collector, logger)
	if err := slkCtx.SetOption(serverlink.OptIOThreads, cfg.Context.IOThreads); err != nil {
		logger.Warn("set io_threads", "error", err)
	}
	if err := slkCtx.SetOption(serverlink.OptMaxSockets, cfg.Context.MaxSockets); err != nil {
		logger.Warn("set max_sockets", "error", err)
	}

	logger.Info("starting slkd", "listeners", len(cfg.Listeners))

	for _, lc := range cfg.Listeners {
		if err := wireListener(ctx, slkCtx, lc, logger); err != nil {
			logger.Error("failed to wire listener", "endpoint", lc.Endpoint, "error", err)
			os.Exit(1)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := slkCtx.Destroy(); err != nil {
		logger.Error("context destroy", "error", err)
	}
	logger.Info("slkd stopped")
}

func wireListener(ctx context.Context, slkCtx *serverlink.Context, lc config.ListenerConfig, logger *slog.Logger) error {
	typ := serverlink.SocketType(lc.SocketType)
	opts := serverlink.Options{
		SndHWM:           lc.SndHWM,
		RcvHWM:           lc.RcvHWM,
		Identity:         []byte(lc.Identity),
		HeartbeatIvl:     lc.HeartbeatIvlDuration(),
		HeartbeatTimeout: lc.HeartbeatTimeoutDuration(),
	}

	sock, err := serverlink.NewSocket(slkCtx, typ, opts)
	if err != nil {
		return fmt.Errorf("create socket: %w", err)
	}

	switch lc.Role {
	case config.RoleBind:
		resolved, err := sock.Bind(lc.Endpoint)
		if err != nil {
			return fmt.Errorf("bind %s: %w", lc.Endpoint, err)
		}
		logger.Info("bound", "socket_type", lc.SocketType, "endpoint", resolved)
	case config.RoleConnect:
		if err := sock.Connect(lc.Endpoint); err != nil {
			return fmt.Errorf("connect %s: %w", lc.Endpoint, err)
		}
		logger.Info("connecting", "socket_type", lc.SocketType, "endpoint", lc.Endpoint)
	}

	for _, topic := range lc.Subscribe {
		if err := sock.Subscribe([]byte(topic)); err != nil {
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
	}

	if typ == serverlink.Router {
		go runEchoRelay(ctx, sock, logger)
	}
	return nil
}

// runEchoRelay sends every frame set received ([routing-id,
// ...payload]) straight back, so two ROUTER peers wired to each other
// round-trip messages unmodified.
func runEchoRelay(ctx context.Context, sock *serverlink.Socket, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := recvFrameSet(sock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("echo relay recv", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		for i, frame := range frames {
			flag := serverlink.FlagNone
			if i < len(frames)-1 {
				flag = serverlink.FlagMore
			}
			if err := sock.SendMsg(frame, flag); err != nil {
				logger.Warn("echo relay send", "error", err)
				break
			}
		}
	}
}

func recvFrameSet(sock *serverlink.Socket) ([]zmsg.Message, error) {
	msg, err := sock.RecvMsg(serverlink.FlagNone)
	if err != nil {
		return nil, err
	}
	frames := []zmsg.Message{msg}
	for msg.More() {
		msg, err = sock.RecvMsg(serverlink.FlagNone)
		if err != nil {
			return frames, err
		}
		frames = append(frames, msg)
	}
	return frames, nil
}
