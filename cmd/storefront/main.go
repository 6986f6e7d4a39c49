package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/backend"
	"storefront/internal/backend/memory"
	"storefront/internal/broker"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/asaskevich/EventBus"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
)

// stack is the backend selected by configuration plus whatever must be
// released on shutdown
type stack struct {
	auth    backend.Auth
	tables  backend.Tables
	cache   service.CatalogCache
	refresh worker.Refresher
	closers []io.Closer
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	var st *stack
	switch cfg.Backend.Kind {
	case config.BackendMemory:
		st = memoryStack()
	case config.BackendPostgres:
		st, err = postgresStack(cfg)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
	}
	if err != nil {
		log.Fatalf("Failed to set up backend: %v", err)
	}
	defer func() {
		for i := len(st.closers) - 1; i >= 0; i-- {
			if err := st.closers[i].Close(); err != nil {
				log.Printf("Error closing resource: %v", err)
			}
		}
	}()

	bus := EventBus.New()

	session := service.NewSessionState(st.auth, bus)
	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout)
	err = session.Initialize(initCtx)
	initCancel()
	if err != nil {
		log.Fatalf("Failed to initialize session: %v", err)
	}
	defer session.Close()

	cart, err := service.NewCartState(st.tables, session, bus)
	if err != nil {
		log.Fatalf("Failed to create cart: %v", err)
	}
	defer cart.Close()

	catalog := service.NewCatalog(st.tables, st.cache, cfg.Catalog.CacheTTL)
	orders := service.NewOrderService(st.tables, session)

	if st.refresh != nil {
		scheduler, err := worker.NewRefreshScheduler(cfg.Auth.RefreshSchedule, st.refresh, logger.Named("refresh"))
		if err != nil {
			log.Fatalf("Invalid refresh schedule %q: %v", cfg.Auth.RefreshSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(session, cart, catalog, orders, cfg.Server.RequestTimeout)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func memoryStack() *stack {
	tables := memory.NewTables()
	memory.SeedCatalog(tables)
	log.Println("Using in-memory backend with demo catalog")
	return &stack{auth: memory.NewAuth(), tables: tables}
}

func postgresStack(cfg *config.Config) (*stack, error) {
	st := &stack{}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	st.closers = append(st.closers, db)
	log.Println("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	st.closers = append(st.closers, redisClient)
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAuth)
	st.closers = append(st.closers, producer)
	log.Println("Kafka producer initialized")

	sources := func(groupID string) worker.MessageSource {
		return broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAuth, groupID, kafka.LastOffset)
	}

	authService := auth.NewService(db, redisClient, broker.NewEventPublisher(producer), sources, auth.Config{
		ClientID: cfg.Auth.ClientID,
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: cfg.Auth.TokenTTL,
	})

	st.auth = authService
	st.refresh = authService
	st.tables = backend.NewBreakerTables(db, cfg.Backend.BreakerMaxFailures, cfg.Backend.BreakerOpenTimeout, util.GetLogger())
	st.cache = redisClient
	return st, nil
}
