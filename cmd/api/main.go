package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"metagate.io/internal/audit"
	"metagate.io/internal/breaker"
	"metagate.io/internal/config"
	"metagate.io/internal/credits"
	"metagate.io/internal/entitlement"
	"metagate.io/internal/extract"
	"metagate.io/internal/httpapi"
	"metagate.io/internal/identity"
	"metagate.io/internal/obs"
	"metagate.io/internal/risk"
	"metagate.io/internal/usage"
)

var version = "0.3.1"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	obs.Init()

	// Stores: postgres primary with in-memory fallback when a DSN is set,
	// in-memory only otherwise.
	var db *sql.DB
	memStore := usage.NewMemory()
	var counters *usage.TwoTier
	var trials usage.TrialStore = memStore
	var ledger credits.Ledger = credits.NewInMemory()
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		pg := usage.NewPG(db)
		counters = usage.NewTwoTier(pg, memStore)
		trials = pg
		ledger = credits.NewPG(db)
	} else {
		counters = usage.NewTwoTier(memStore, nil)
	}

	blacklist := identity.NewBlacklist(cfg.Identity.BlacklistCapacity, cfg.Identity.BlacklistTTL)
	issuer := identity.NewIssuer(cfg.Identity.Secret, cfg.Identity.TokenTTL,
		identity.WithBlacklist(blacklist),
		identity.WithLegacyTTL(cfg.Identity.LegacyTTL),
		identity.WithSecureCookies(cfg.Production()),
	)

	resolver := entitlement.NewResolver(trials, ledger, counters,
		entitlement.WithFreeLimit(cfg.Quota.FreeLimit),
		entitlement.WithTrialLimit(cfg.Quota.TrialLimit),
	)

	brk := breaker.New(breaker.Thresholds{
		QueueDepth:       cfg.Breaker.QueueDepthThreshold,
		CPUPercent:       cfg.Breaker.CPUThreshold,
		MemPercent:       cfg.Breaker.MemThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	})

	api := httpapi.New(httpapi.Deps{
		Issuer:   issuer,
		Resolver: resolver,
		Counters: counters,
		Trials:   trials,
		Ledger:   ledger,
		Tracker:  risk.NewTracker(),
		Breaker:  brk,
		Audit:    audit.NewLog(1000, 24*time.Hour),
		Engine:   extract.NewClient(cfg.Engine.Endpoint, cfg.Engine.Timeout),
		Authn:    httpapi.NewAuthenticator(cfg.Auth.JWTSecret),
		Ready:    httpapi.ReadyProbe{DB: db},
		Version:  version,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Starting metagate %s on %s", version, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Metrics sampler: the single mutation path for the breaker.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Breaker.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				brk.UpdateMetrics(obs.InFlight(), breaker.CPUPercent(), breaker.MemPercent())
				obs.SetBreakerState(brk.Snapshot().StateGauge())
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
