package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/perfstats/internal/admin"
	"github.com/getsentry/perfstats/internal/logutil"
	"github.com/getsentry/perfstats/internal/measure"
	"github.com/getsentry/perfstats/internal/perfstats"
)

type environment struct {
	config    ServiceConfig
	selection measure.Selection
	stats     *perfstats.Stats[reflect.Type]
}

var release string

func newEnvironment(cfg ServiceConfig) *environment {
	e := environment{
		config:    cfg,
		selection: measure.Select(cfg.TrackAllocations),
	}
	logger := log.With().Str("component", "perfstats").Logger()
	e.stats = perfstats.NewTypeStats(perfstats.Config{
		Source: e.selection.Source,
		Unit:   e.selection.Mode.Unit(),
		Title:  cfg.ReportTitle,
		Logger: &logger,
	})
	return &e
}

// reportPeriodically logs the current report until ctx is done.
func (e *environment) reportPeriodically(ctx context.Context) {
	logger := log.Sample(&logutil.LevelSampler{Level: zerolog.WarnLevel, Every: e.config.ReportLogEvery})
	ticker := time.NewTicker(e.config.DumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var b bytes.Buffer
			if err := e.stats.DumpReport(&b); err != nil {
				sentry.CaptureException(err)
				log.Err(err).Msg("error building report")
				continue
			}
			logger.Info().Str("mode", e.selection.Mode.String()).Msg(b.String())
		}
	}
}

// shutdown stops the server then the workload and dumps the final report.
func (e *environment) shutdown(ctx context.Context, server *http.Server, stopWorkload context.CancelFunc, waitWorkload func()) error {
	var result error
	if err := server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	stopWorkload()
	waitWorkload()
	if err := e.stats.DumpAndClear(os.Stdout); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func main() {
	cfg, err := newServiceConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error loading service config")
	}

	logutil.ConfigureLogger(logutil.ParseLevel(cfg.LogLevel))

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     release,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	env := newEnvironment(cfg)
	log.Info().
		Str("mode", env.selection.Mode.String()).
		Int("workers", cfg.Workers).
		Msg("measuring workload")

	router, err := admin.NewRouter(env.stats)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	ctx, stopWorkload := context.WithCancel(context.Background())
	waitWorkload := runWorkload(ctx, env.stats, cfg)
	go env.reportPeriodically(ctx)

	waitForShutdown := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := env.shutdown(cctx, &server, stopWorkload, waitWorkload); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down")
		}

		close(waitForShutdown)
	}()

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	sentry.Flush(5 * time.Second)
}
