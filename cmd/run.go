package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/backend"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/config"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/console"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/engine"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/link"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/logging"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/metrics"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/session"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/telemetry"
)

const metricsShutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator with an operator console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// logConsole picks where log lines are echoed besides the log file. The
// full-screen console shows the log itself, and the line console already
// prints operator messages, so stderr only gets the log when nothing else keeps it.
func logConsole(cfg config.Config, stderr io.Writer) io.Writer {
	if cfg.Console.Mode == config.ConsoleTUI || cfg.Log.File != "" {
		return nil
	}
	return stderr
}

type consoleRunner interface {
	Run(ctx context.Context) error
}

func run(ctx context.Context, cfg config.Config, stdin io.Reader, stdout io.Writer) error {
	logger := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, logConsole(cfg, os.Stderr))
	defer logger.Close()

	program, err := loadProgram(cfg)
	if err != nil {
		return err
	}
	logger.Printf("Main: Loaded program with %d exercises", program.Len())

	clk := clock.New()
	m := metrics.New()
	router := telemetry.NewRouter(clk, m, logger.Logger)
	eng := engine.New(program, cfg.EngineConfig(), clk, logger.Logger)

	backendLink := link.New("backend", link.WebsocketDialer{
		HandshakeTimeout: cfg.Link.DialTimeout,
		WriteTimeout:     cfg.Link.WriteTimeout,
	}, logger.Logger)
	peerDialer := link.TCPDialer{Timeout: cfg.Link.DialTimeout, WriteTimeout: cfg.Link.WriteTimeout}
	frontend := link.New("frontend", peerDialer, logger.Logger)
	headset := link.New("headset", peerDialer, logger.Logger)

	unwatch := []func(){m.WatchEngine(eng)}
	for _, l := range []*link.Link{backendLink, frontend, headset} {
		unwatch = append(unwatch, m.WatchLink(l))
	}
	defer func() {
		for _, fn := range unwatch {
			fn()
		}
	}()

	client := backend.NewClient(backendLink, router, m, logger.Logger)
	ctrl := session.NewController(cfg.SessionConfig(), client, frontend, headset, router, eng, logger.Logger)

	var con consoleRunner
	switch cfg.Console.Mode {
	case config.ConsoleTUI:
		con = console.NewTUI(ctrl, logger, logger.Logger)
	default:
		con = console.NewLine(ctrl, stdin, stdout, logger.Logger)
	}

	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return con.Run(ctx)
	})

	g.Go(func() error {
		ctrl.Startup(ctx, cfg.Frontend.AutoConnect)
		return nil
	})

	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(cfg.Metrics.Listen, m, func() error {
			select {
			case <-ctrl.Done():
				return errors.New("shutting down")
			default:
				return nil
			}
		}, logger.Logger)
		g.Go(func() error {
			if err := srv.Serve(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			logger.Println("Main: Interrupted")
		case <-ctrl.Done():
		}
		ctrl.Shutdown()
		cancel()
		return nil
	})

	err = g.Wait()
	logger.Println("Main: Exited")
	return err
}
