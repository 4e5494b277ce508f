package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/config"
	"github.com/yswin-stack/campusride/internal/handler"
	"github.com/yswin-stack/campusride/internal/middleware"
	"github.com/yswin-stack/campusride/internal/repository"
	"github.com/yswin-stack/campusride/internal/service"
	"github.com/yswin-stack/campusride/pkg/cache"
	"github.com/yswin-stack/campusride/pkg/db"
	"github.com/yswin-stack/campusride/pkg/logging"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatalw("postgres connect failed", "error", err)
	}
	defer pgPool.Close()
	logger.Infow("postgres connected", "host", cfg.Postgres.Host, "db", cfg.Postgres.DBName)

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatalw("redis connect failed", "error", err)
	}
	defer redisClient.Close()
	logger.Infow("redis connected", "addr", cfg.Redis.Addr())

	// ── Stores ──────────────────────────────────────────
	slotRepo := repository.NewSlotRepository(pgPool)
	holdRepo := repository.NewHoldRepository(pgPool)
	rideRepo := repository.NewRideRepository(pgPool)
	planRepo := repository.NewPlanRepository(pgPool)
	windowRepo := repository.NewWindowRepository(pgPool)
	jobRepo := repository.NewJobRepository(pgPool)
	statsRepo := repository.NewStatsRepository(pgPool)
	availCache := repository.NewAvailabilityCache(redisClient, logger)

	// ── Core services ───────────────────────────────────
	params, err := service.ParamsFromConfig(cfg.Schedule)
	if err != nil {
		logger.Fatalw("invalid schedule config", "error", err)
	}
	clock := service.NewClock(params.Loc)

	travel := service.NewTravelTimeModel(service.TravelConfig{
		BaseSpeedKmph:    cfg.Travel.BaseSpeedKmph,
		RoadFactor:       cfg.Travel.RoadFactor,
		SafetyMultiplier: cfg.Travel.SafetyMultiplier,
	})
	behavior := service.NewRiderBehaviorModel(statsRepo, cfg.Travel.DefaultRiderDelay)

	catalog := service.NewSlotCatalog(slotRepo, availCache, params, logger)
	state := service.NewScheduleState(rideRepo, holdRepo, params)
	registry := service.NewPremiumRegistry(params.MaxPremiumSubscribers)
	planner := service.NewCapacityPlanner(catalog, registry, params, logger)
	feasibility := service.NewFeasibilityEngine(travel, behavior, state, catalog, params, logger)

	// The haversine estimator stands in for a real mapping client; the
	// stack still applies timeouts, rate limiting and response caching so
	// swapping in a remote provider is a one-line change.
	provider := service.NewProviderStack(
		cfg.Routing,
		service.NewHaversineProvider(cfg.Travel.RoadFactor, cfg.Travel.BaseSpeedKmph),
		logger,
	)
	fallback := service.NewHaversineProvider(0, cfg.Routing.FallbackSpeedKmph)

	routing := service.NewRoutingEngine(
		provider, fallback, windowRepo, planRepo, params,
		cfg.Routing.MaxDetourSeconds, cfg.Routing.TargetLateToleranceMinutes, logger,
	)

	notifier := service.NewRedisNotifier(redisClient, cfg.Redis.NotifyChannel, logger)
	holds := service.NewHoldManager(
		holdRepo, rideRepo, catalog, feasibility, planner, travel, state,
		availCache, params, clock, notifier, logger,
	)
	availability := service.NewAvailabilityService(catalog, feasibility, travel, state, availCache, params, logger)
	simulator := service.NewMonteCarloSimulator(
		travel, behavior, state, catalog, jobRepo, params,
		cfg.Simulation.DefaultRuns, cfg.Simulation.Workers, cfg.Simulation.Seed,
		cfg.Simulation.NoShowWaitMinutes, clock, logger,
	)
	admin := service.NewAdminService(catalog, planner, state, jobRepo, params, logger)

	// ── Handlers & router ───────────────────────────────
	availabilityHandler := handler.NewAvailabilityHandler(availability, logger)
	holdHandler := handler.NewHoldHandler(holds, logger)
	rideHandler := handler.NewRideHandler(holds, logger)
	windowHandler := handler.NewWindowHandler(routing, logger)
	simulationHandler := handler.NewSimulationHandler(simulator, logger)
	adminHandler := handler.NewAdminHandler(admin, catalog, planner, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RequestLogger(logger), middleware.Recoverer(logger))

	// Availability search
	api.HandleFunc("/availability/search", availabilityHandler.Search).Methods(http.MethodPost)
	// Hold lifecycle
	api.HandleFunc("/holds", holdHandler.CreateHold).Methods(http.MethodPost)
	api.HandleFunc("/holds/{hold_id}", holdHandler.GetHold).Methods(http.MethodGet)
	api.HandleFunc("/holds/{hold_id}/confirm", holdHandler.ConfirmHold).Methods(http.MethodPost)
	api.HandleFunc("/holds/{hold_id}/cancel", holdHandler.CancelHold).Methods(http.MethodPost)
	// Scheduled rides
	api.HandleFunc("/rides/{ride_id}", rideHandler.GetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{ride_id}/cancel", rideHandler.CancelRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/complete", rideHandler.CompleteRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/no-show", rideHandler.MarkNoShow).Methods(http.MethodPost)
	// Shared-window routing
	api.HandleFunc("/windows/{window_id}/check", windowHandler.CheckCandidate).Methods(http.MethodPost)
	api.HandleFunc("/windows/{window_id}/assignments", windowHandler.CreateAssignment).Methods(http.MethodPost)
	api.HandleFunc("/assignments/{assignment_id}/cancel", windowHandler.CancelAssignment).Methods(http.MethodPost)
	// Simulations
	api.HandleFunc("/simulations", simulationHandler.StartSimulation).Methods(http.MethodPost)
	api.HandleFunc("/simulations/run", simulationHandler.RunSimulation).Methods(http.MethodPost)
	api.HandleFunc("/simulations/{job_id}", simulationHandler.GetJob).Methods(http.MethodGet)
	// Admin
	api.HandleFunc("/admin/capacity/{date}", adminHandler.GetCapacityView).Methods(http.MethodGet)
	api.HandleFunc("/admin/capacity/{date}/rebalance", adminHandler.Rebalance).Methods(http.MethodPost)
	api.HandleFunc("/admin/slots", adminHandler.ListSlots).Methods(http.MethodGet)
	api.HandleFunc("/admin/slots/initialize", adminHandler.InitializeSlots).Methods(http.MethodPost)
	api.HandleFunc("/admin/slots/{slot_id}/fragility", adminHandler.SetFragility).Methods(http.MethodPut)
	api.HandleFunc("/admin/slots/{slot_id}/non-premium-cap", adminHandler.SetNonPremiumCap).Methods(http.MethodPut)

	// ── Background jobs ─────────────────────────────────
	initUpcomingSlots(ctx, catalog, clock, cfg.Jobs.SlotInitDaysAhead, logger)
	scheduler := startJobs(cfg.Jobs, holds, catalog, planner, clock, params, logger)
	defer scheduler.Stop()

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      middleware.CORS(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		logger.Infow("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server error", "error", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatalw("server forced to shutdown", "error", err)
	}

	logger.Infow("server stopped")
}

// initUpcomingSlots pre-generates slot grids for today and the next few
// days so the first availability query of a date never races catalog
// creation.
func initUpcomingSlots(ctx context.Context, catalog *service.SlotCatalog, clock service.Clock, daysAhead int, logger *zap.SugaredLogger) {
	for i := 0; i <= daysAhead; i++ {
		date := clock.Now().AddDate(0, 0, i).Format("2006-01-02")
		created, err := catalog.InitializeSlotsForDate(ctx, date)
		if err != nil {
			logger.Errorw("slot init failed", "date", date, "error", err)
			continue
		}
		if created > 0 {
			logger.Infow("slots initialized", "date", date, "created", created)
		}
	}
}

// startJobs wires the maintenance cron: the hold expiry sweep, daily slot
// pre-generation and the nightly capacity rebalance. Specs come from
// config so deployments can retune without a rebuild.
func startJobs(
	jobs config.JobsConfig,
	holds *service.HoldManager,
	catalog *service.SlotCatalog,
	planner *service.CapacityPlanner,
	clock service.Clock,
	params service.ScheduleParams,
	logger *zap.SugaredLogger,
) *cron.Cron {
	logger = logger.Named("jobs")
	c := cron.New(cron.WithLocation(params.Loc))

	mustAdd := func(name, spec string, fn func()) {
		if _, err := c.AddFunc(spec, fn); err != nil {
			logger.Fatalw("invalid cron spec", "job", name, "spec", spec, "error", err)
		}
	}

	mustAdd("hold_sweep", jobs.HoldSweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		expired, err := holds.ExpireHolds(ctx)
		if err != nil {
			logger.Errorw("hold sweep failed", "error", err)
		}
		if expired > 0 {
			logger.Infow("holds expired", "count", expired)
		}
	})

	mustAdd("slot_init", jobs.SlotInitSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		initUpcomingSlots(ctx, catalog, clock, jobs.SlotInitDaysAhead, logger)
	})

	mustAdd("auto_balance", jobs.AutoBalanceSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		date := clock.Now().Format("2006-01-02")
		adjusted, err := planner.AutoBalanceNonPremiumCapacity(ctx, date)
		if err != nil {
			logger.Errorw("auto balance failed", "date", date, "error", err)
			return
		}
		if adjusted > 0 {
			logger.Infow("capacity rebalanced", "date", date, "adjusted_slots", adjusted)
		}
	})

	c.Start()
	return c
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
