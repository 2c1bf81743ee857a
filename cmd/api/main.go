package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/auth"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/boost"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/config"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/credits"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/events"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/handlers"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/jobs"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ledger"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/memstore"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/middleware"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/observability"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/prediction"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ranking"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/registry"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/repository"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/router"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/validate"
)

// gigStore is what the engine needs from the gig table.
type gigStore interface {
	ranking.GigSource
	registry.GigStore
}

type backend struct {
	ledger  ledger.Store
	boosts  boost.Store
	gigs    gigStore
	apiKeys middleware.APIKeyRepo
	ping    handlers.Pinger
	pool    *pgxpool.Pool
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.OTel.Enabled,
		ServiceName: cfg.OTel.ServiceName,
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.Endpoint,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	clk := clock.Real()
	var be *backend
	switch cfg.StoreDriver {
	case config.DriverMemory:
		be = memoryBackend(cfg, clk, logger)
	default:
		if be, err = postgresBackend(ctx, cfg, logger); err != nil {
			return err
		}
		defer be.pool.Close()
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Redis.Addr != "" {
		rp, err := events.NewRedisPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Channel, logger)
		if err != nil {
			logger.Warn("redis unavailable, boost events disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer rp.Close()
			publisher = rp
		}
	}

	// Core services
	ledgerSvc := ledger.NewService(be.ledger, logger)
	index := ranking.NewIndex(ranking.NewModel(cfg.Score.HalfLife), clk)
	sweeper := ranking.NewSweeper(index, be.gigs, logger)
	coordinator := boost.NewCoordinator(ledgerSvc, be.boosts, index, publisher, clk, logger, boost.Config{
		MaxRetries:    cfg.Boost.MaxRetries,
		RecoveryGrace: cfg.Boost.RecoveryGrace,
	})
	predictor := prediction.NewService(index, be.gigs, clk)
	creditsSvc := credits.NewService(ledgerSvc, logger)
	registrySvc := registry.NewService(be.gigs, index, clk, logger)
	authSvc := auth.NewService(cfg.JWTSecret)

	n, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	logger.Info("ranking index loaded", "subjects", n)

	validator, err := validate.New()
	if err != nil {
		return err
	}

	handler := router.New(router.Deps{
		Gigs: &handlers.GigHandler{
			Ranks:     index,
			Gigs:      be.gigs,
			Predictor: predictor,
			Boosts:    coordinator,
			Validator: validator,
			Logger:    logger,
		},
		Credits: &handlers.CreditsHandler{
			Ledger:    ledgerSvc,
			Credits:   creditsSvc,
			Validator: validator,
			Logger:    logger,
		},
		Registry: registry.NewHandler(registrySvc, validator, logger),
		Tokens:   authSvc,
		APIKeys:  be.apiKeys,
		Spend:    ledgerSvc,
		Limits:   middleware.BoostLimits{MaxPoints: cfg.Boost.MaxPoints, DailyCap: cfg.Boost.DailyCap},
		Clock:    clk,
		Ping:     be.ping,
		Logger:   logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-API-Key"},
		AllowCredentials: true,
	}).Handler(handler)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	intervals := jobs.Intervals{
		DecaySweep:    cfg.Score.SweepInterval,
		BoostRecovery: cfg.Boost.RecoveryInterval,
		Reconcile:     cfg.Score.ReconcileInterval,
	}

	g, gctx := errgroup.WithContext(ctx)

	if be.pool != nil {
		workers := river.NewWorkers()
		jobs.Register(workers, sweeper, coordinator, ledgerSvc, logger)
		riverClient, err := river.NewClient(riverpgxv5.New(be.pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: 4},
			},
			Workers:      workers,
			PeriodicJobs: jobs.PeriodicJobs(intervals),
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := riverClient.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return riverClient.Stop(sctx)
		})
	} else {
		g.Go(func() error {
			return jobs.RunLocal(gctx, intervals, sweeper, coordinator, ledgerSvc, logger)
		})
	}

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", srv.Addr, "driver", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func postgresBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Error("Cannot reach PostgreSQL. Ensure Postgres is running or set STORE_DRIVER=memory", "error", err)
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("schema migrations applied")

	gigs := repository.NewGigRepo(pool)
	return &backend{
		ledger:  ledger.NewRepository(pool),
		boosts:  repository.NewBoostRepo(pool, gigs),
		gigs:    gigs,
		apiKeys: repository.NewAPIKeyRepo(pool),
		ping:    pool.Ping,
		pool:    pool,
	}, nil
}

func memoryBackend(cfg *config.Config, clk clock.Clock, logger *slog.Logger) *backend {
	store := memstore.New(clk)
	if cfg.InternalAPIKey != "" {
		store.AddAPIKey(models.APIKey{
			ID:          uuid.New(),
			ServiceName: "local",
			KeyHash:     middleware.HashKey(cfg.InternalAPIKey),
			IsActive:    true,
		})
	}
	logger.Warn("using in-memory store; balances are lost on restart")
	return &backend{
		ledger:  store,
		boosts:  store,
		gigs:    store,
		apiKeys: store,
	}
}
