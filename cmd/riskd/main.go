// Command riskd serves the risk engine over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow"
	"github.com/warriorguo/riskflow/config"
	"github.com/warriorguo/riskflow/scoring/gemini"
	"github.com/warriorguo/riskflow/server"
	"github.com/warriorguo/riskflow/types"
)

func main() {
	if err := run(); err != nil {
		log.Errorf("riskd: %s", errors.ErrorStack(err))
		os.Exit(1)
	}
}

func run() error {
	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		return errors.Trace(err)
	}
	if err := cfg.SetupLogging(); err != nil {
		return errors.Trace(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := cfg.EngineOptions()
	if err != nil {
		return errors.Trace(err)
	}
	opts = append(opts, types.WithContext(ctx), types.WithRegisterer(prometheus.DefaultRegisterer))

	if cfg.GeminiAPIKey != "" {
		provider, err := gemini.NewProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return errors.Annotatef(err, "create gemini provider")
		}
		opts = append(opts, types.WithScoringProvider(provider))
	} else {
		log.Warn("GEMINI_API_KEY is not set, AI score nodes fall back to their configured action")
	}

	engine, err := riskflow.NewRiskEngine(opts...)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			log.Warnf("close engine: %v", err)
		}
	}()

	active := engine.ActiveWorkflow()
	log.Infof("active workflow: %s (v%d)", active.Name, active.Version)

	serverOpts := []server.Option{
		server.WithAddr(cfg.Addr()),
		server.WithGatherer(prometheus.DefaultGatherer),
	}
	if cfg.IsProduction() {
		serverOpts = append(serverOpts, server.WithReleaseMode())
	}
	srv, err := server.New(engine, serverOpts...)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(srv.Run(ctx))
}
