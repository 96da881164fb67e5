package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"depthwatch/internal/channel"
	"depthwatch/internal/console"
	"depthwatch/internal/dashboard"
	"depthwatch/internal/metrics"
	"depthwatch/logger"
	"depthwatch/processor"
	"depthwatch/reader/binance"
	"depthwatch/writer"
)

const shutdownTimeout = 30 * time.Second

// Run starts the feed connector, the analyzer and the optional side
// surfaces, and blocks until a signal, a console quit or ctx cancellation.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := a.Config
	log := a.Logger.WithComponent("app")
	log.WithFields(logger.Fields{
		"service": cfg.Depthwatch.Name,
		"version": cfg.Depthwatch.Version,
		"symbols": cfg.Symbols,
		"storage": cfg.Storage.Driver,
	}).Info("starting depthwatch")

	sink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	publishers, err := a.openPublishers(ctx)
	if err != nil {
		_ = sink.Close()
		return err
	}
	tee := writer.NewTeeSink(sink, publishers...)

	if logger.ReportEnabled(cfg.Logging.Level) {
		logger.StartReport(ctx, a.Logger, cfg.Metrics.ReportInterval)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	channels := channel.NewChannels(cfg.Channels.UpdateBuffer)
	metrics.StartChannelSizeMetrics(ctx, channels, cfg.Channels.MetricsInterval)

	connector := binance.NewConnector(cfg.Source.Binance, cfg.Symbols, channels)
	analyzer := processor.NewAnalyzer(cfg.Analysis, cfg.Symbols, channels, tee)

	g, gctx := errgroup.WithContext(ctx)

	if err := analyzer.Start(gctx); err != nil {
		_ = tee.Close()
		return err
	}
	if err := connector.Start(gctx); err != nil {
		analyzer.Stop()
		_ = tee.Close()
		return err
	}

	if addr := cfg.Metrics.PrometheusAddress; addr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, addr); err != nil {
				log.WithError(err).Warn("prometheus endpoint stopped")
			}
			return nil
		})
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, analyzer, a.Logger)
	if err != nil {
		log.WithError(err).Warn("dashboard disabled")
	} else if dash != nil {
		g.Go(func() error {
			if err := dash.Run(gctx, cfg.Depthwatch.Name); err != nil {
				log.WithError(err).Warn("dashboard stopped")
			}
			return nil
		})
	}

	if cfg.Console.Enabled {
		view := console.New(cfg.Console, analyzer, os.Stdin, os.Stdout)
		g.Go(func() error {
			return view.Run(gctx)
		})
	}

	log.Info("all components started successfully")
	<-gctx.Done()
	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan error, 1)
	go func() {
		connector.Stop()
		channels.Close()
		analyzer.Stop()
		done <- tee.Close()
	}()

	var closeErr error
	select {
	case closeErr = <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		log.Warn("graceful shutdown timeout exceeded")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, console.ErrQuit) {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("close sinks: %w", closeErr)
	}
	log.Info("depthwatch stopped")
	return nil
}
