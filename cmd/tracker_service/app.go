package trackerservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"bus-tracker/internal/domain/access"
	"bus-tracker/internal/domain/schedule"
	"bus-tracker/internal/general/config"
	"bus-tracker/internal/general/jwt"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/general/memory"
	"bus-tracker/internal/general/postgres"
	"bus-tracker/internal/general/rabbitmq"
	"bus-tracker/internal/general/websocket"
	"bus-tracker/internal/ports"
	"bus-tracker/internal/software/tracker/handler"
	"bus-tracker/internal/software/tracker/service"

	"github.com/google/uuid"
)

// DefaultConfigPath is where Run looks for configuration.
const DefaultConfigPath = "config/config.yaml"

// Run wires the tracker service and blocks until ctx is cancelled.
func Run(ctx context.Context, configPath string, maxConcurrent int) error {
	// set up a new logger and context with a static request ID for startup logs
	logger := logger.New("tracker-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	instanceID := cfg.Service.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	checks := make(map[string]handler.HealthCheck)

	// pick the persistence backend
	var backend ports.SessionBackend
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg, logger)
		if err != nil {
			logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
			return err
		}
		defer pool.Close()

		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			logger.Error(ctx, "db_schema_failed", "Failed to ensure database schema", err, nil)
			return err
		}
		backend = postgres.NewBackend(postgres.NewUnitOfWork(pool), cfg.Store.RetainHistory)
		checks["database"] = pool.Ping
	default:
		limit := 0
		if cfg.Store.RetainHistory {
			limit = memory.DefaultHistoryLimit
		}
		backend = memory.NewBackend(limit)
	}

	// the store owns the current session; restore an ACTIVE one left by a previous run
	store := service.NewStore(backend, logger, service.WithBackendTimeout(cfg.Store.Timeout))
	if err := store.Restore(ctx); err != nil {
		logger.Error(ctx, "session_restore_failed", "Failed to restore the active session", err, nil)
		return err
	}

	// cross-instance fan-out
	var relay *service.Relay
	if cfg.RabbitMQ.Enabled {
		rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg.RabbitMQ, instanceID, logger)
		if err != nil {
			logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
			return err
		}
		defer rmq.Close()

		relay = service.NewRelay(store, rabbitmq.NewMQPublisher(rmq), rmq, instanceID, cfg.RabbitMQ.Prefetch, logger)
		relay.Start(ctx)
		checks["broker"] = func(context.Context) error {
			if !rmq.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	// set up the JWT manager
	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, cfg.JWT.TTL)

	// lifecycle and location publisher
	lifecycle := service.NewManager(store, access.NewAllowList(cfg.AllowedCodes()...), logger, cfg.Access.DefaultIdentity)
	publisher := service.NewPublisher(store, service.PublisherConfig{
		MinInterval:       cfg.Publisher.MinInterval,
		MinDistanceMeters: cfg.Publisher.MinDistanceMeters,
		SmoothingWindow:   cfg.Publisher.SmoothingWindow,
		LowAccuracyMeters: cfg.Publisher.LowAccuracyMeters,
		BufferSize:        cfg.Publisher.BufferSize,
	}, logger)
	publisher.Start()
	defer publisher.Close()

	// auto-session scheduler
	calendar, err := schedule.NewCalendar(cfg.Scheduler.Holidays, cfg.Scheduler.ClosedWeekdays)
	if err != nil {
		logger.Error(ctx, "calendar_invalid", "Failed to build the operating calendar", err, nil)
		return err
	}
	window, err := schedule.NewWindow(cfg.Scheduler.Start, cfg.Scheduler.End)
	if err != nil {
		logger.Error(ctx, "window_invalid", "Failed to parse the auto-session window", err, nil)
		return err
	}
	scheduler := service.NewScheduler(lifecycle, store, calendar, service.SchedulerConfig{
		Enabled:         cfg.Scheduler.Enabled,
		Window:          window,
		Tick:            cfg.Scheduler.Tick,
		Location:        cfg.Location(),
		AutoCode:        cfg.Scheduler.AutoCode,
		AutoIdentity:    cfg.Scheduler.AutoIdentity,
		StopAtWindowEnd: cfg.Scheduler.StopAtWindowEnd,
	}, logger, nil)
	go scheduler.Run(ctx)

	// set up the websocket handler
	ws := websocket.NewWebSocket(logger, jwtManager, store, publisher, websocket.DefaultSendBuffer)

	// set up the HTTP handler and its routes
	mux := http.NewServeMux()
	httpHandler := handler.NewTrackerHTTPHandler(store, lifecycle, publisher, scheduler, jwtManager, ws, logger, cfg.Store.Backend, checks)
	httpHandler.RegisterRoutes(mux)

	// concurrency limiter (global), blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	// set up the server configurations
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Service.Port),              // listen on the specified port
		Handler:           limitedHandler,                                    // apply the concurrency limiter to the HTTP handler
		ReadHeaderTimeout: 5 * time.Second,                                   // time to read headers
		ReadTimeout:       10 * time.Second,                                  // time to read full request body
		WriteTimeout:      15 * time.Second,                                  // full response write timeout
		IdleTimeout:       60 * time.Second,                                  // keep-alive window
		BaseContext:       func(net.Listener) context.Context { return ctx }, // pass base ctx to all handlers
	}

	// log service start
	logger.Info(ctx, "service_started",
		fmt.Sprintf("Tracker Service started on port %d", cfg.Service.Port),
		map[string]any{
			"port":           cfg.Service.Port,
			"max_concurrent": maxConcurrent,
			"backend":        cfg.Store.Backend,
			"relay":          cfg.RabbitMQ.Enabled,
			"instance_id":    instanceID,
		},
	)

	// start the server in a background goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// wait for context cancellation or server error
	select {
	case <-ctx.Done():
		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(ctx, "shutdown_started", "Start graceful shutdown", nil)
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
		if relay != nil {
			relay.Wait()
		}
	case err := <-errCh:
		// server returned a terminal error at startup or during run
		if err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.Service.Port})
			return err
		}
		return nil
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
