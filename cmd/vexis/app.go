package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maphikza/vexis-market/internal/analysis"
	"github.com/Maphikza/vexis-market/internal/assets"
	"github.com/Maphikza/vexis-market/internal/config"
	marketdb "github.com/Maphikza/vexis-market/internal/database"
	"github.com/Maphikza/vexis-market/internal/escrow"
	"github.com/Maphikza/vexis-market/internal/events"
	"github.com/Maphikza/vexis-market/internal/ledger"
	"github.com/Maphikza/vexis-market/internal/logger"
	"github.com/Maphikza/vexis-market/internal/metrics"
	"github.com/Maphikza/vexis-market/internal/sandbox"
	"github.com/Maphikza/vexis-market/internal/verification"
)

// app holds every long-lived collaborator for one process.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	params   *chaincfg.Params
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	bus      *events.Bus

	assets *assets.Store
	ledger *ledger.Ledger
	tests  *sandbox.Store

	authorship analysis.AuthorshipAnalyzer
	safety     analysis.SafetyAnalyzer
	runner     sandbox.Runner
	confirmer  escrow.Confirmer
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	params, err := cfg.ChainParams()
	if err != nil {
		return nil, err
	}
	db, err := marketdb.Open(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	registry := prometheus.NewRegistry()
	bus := events.NewBus(log.Named("events"))
	a := &app{
		cfg:        cfg,
		log:        log,
		db:         db,
		params:     params,
		registry:   registry,
		metrics:    metrics.NewMetrics(registry),
		bus:        bus,
		assets:     assets.NewStore(db, log.Named("assets")),
		ledger:     ledger.New(db, params, log.Named("ledger")),
		tests:      sandbox.NewStore(db, bus, log.Named("sandbox")),
		authorship: analysis.NewHeuristicAuthorship(),
		safety:     analysis.NewHeuristicSafety(),
		runner:     &sandbox.SimulatedRunner{PhaseDuration: cfg.Sandbox.PhaseDuration},
		confirmer:  &escrow.SimulatedConfirmer{Delay: cfg.Chain.ConfirmDelay},
	}
	log.Debug("application initialized",
		zap.String("env", cfg.Env),
		zap.String("db_path", cfg.DBPath),
		zap.String("network", params.Name))
	return a, nil
}

func (a *app) verificationDeps() verification.Deps {
	return verification.Deps{
		Assets:     a.assets,
		Tests:      a.tests,
		Runner:     a.runner,
		Authorship: a.authorship,
		Safety:     a.safety,
		Thresholds: verification.Thresholds{
			MinAuthorshipScore: a.cfg.Verification.MinAuthorshipScore,
			MinUsageProof:      a.cfg.Verification.MinUsageProof,
		},
		Events:  a.bus,
		Metrics: a.metrics,
		Log:     a.log.Named("verification"),
	}
}

func (a *app) escrowDeps() escrow.Deps {
	return escrow.Deps{
		Assets:             a.assets,
		Ledger:             a.ledger,
		Tests:              a.tests,
		Authorship:         a.authorship,
		Safety:             a.safety,
		Confirmer:          a.confirmer,
		MinAuthorshipScore: a.cfg.Verification.MinAuthorshipScore,
		Events:             a.bus,
		Metrics:            a.metrics,
		Log:                a.log.Named("escrow"),
	}
}

// serveMetrics exposes the registry on addr until the process exits.
func (a *app) serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", addr))
}

func (a *app) Close() {
	if err := marketdb.Close(a.db); err != nil {
		a.log.Warn("error closing database", zap.Error(err))
	}
	_ = a.log.Sync()
}
