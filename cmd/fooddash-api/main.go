// README: Entry point; loads config, wires services and the saga, starts HTTP server and background jobs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"fooddash/internal/config"
	"fooddash/internal/events"
	httptransport "fooddash/internal/http"
	"fooddash/internal/infra"
	"fooddash/internal/jobs"
	"fooddash/internal/modules/dispatch"
	"fooddash/internal/modules/driver"
	"fooddash/internal/modules/notify"
	"fooddash/internal/modules/order"
	"fooddash/internal/modules/payment"
	"fooddash/internal/modules/transfer"
	"fooddash/internal/routing"
	"fooddash/internal/saga"
	"fooddash/internal/telemetry"
)

const serviceName = "fooddash-api"

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)
	if cfg.Log.Level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Info("starting", "version", version, "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, serviceName, version)
	if err != nil {
		return err
	}
	metricsHandler, shutdownMetrics, err := telemetry.InitMeterProvider(serviceName, version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(flushCtx)
		_ = shutdownTracing(flushCtx)
	}()

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		if redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr); err != nil {
			return err
		}
		defer redisClient.Close()
	}

	scheduler := jobs.NewScheduler(logger)
	bus := events.NewBus(logger)

	// Route durations: cache in Redis when available, otherwise in process.
	var routeCache routing.DurationCache
	if redisClient != nil {
		routeCache = routing.NewRedisCache(redisClient, cfg.Dispatch.RouteCacheTTL)
	} else {
		memCache := routing.NewMemoryCache(cfg.Dispatch.RouteCacheTTL)
		routeCache = memCache
		if err := scheduler.Add("route_cache_sweep", "0 * * * * *", jobs.SweepRouteCache(memCache, logger)); err != nil {
			return err
		}
	}
	var router routing.Provider
	if cfg.Maps.APIKey != "" {
		google, err := routing.NewGoogle(cfg.Maps.APIKey, cfg.Dispatch.RouteTimeout)
		if err != nil {
			return err
		}
		router = routing.NewCached(google, routeCache, cfg.Dispatch.RouteTimeout)
	} else {
		logger.Warn("no maps key, dispatch ranks by distance only")
	}

	driverStore := driver.NewStore(dbPool)
	var (
		driverIndex driver.Index
		unindexer   dispatch.Unindexer
		source      dispatch.Source = dispatch.StoreSource{Store: driverStore}
	)
	if redisClient != nil {
		geo := driver.NewGeoIndex(redisClient)
		available, err := driverStore.ListAvailable(ctx)
		if err != nil {
			return err
		}
		if err := geo.Rebuild(ctx, available); err != nil {
			return err
		}
		driverIndex, unindexer = geo, geo
		source = dispatch.GeoSource{Index: geo, Store: driverStore, Fallback: source, Logger: logger}
	}
	driverSvc := driver.NewService(driverStore, driverIndex, logger)

	orderSvc := order.NewService(order.NewStore(dbPool), bus, cfg.Order, logger)

	var gateway payment.Gateway
	if cfg.Payment.Secret != "" {
		gateway = payment.NewHTTPGateway(cfg.Payment.BaseURL, cfg.Payment.Secret, cfg.Payment.Timeout)
	} else {
		logger.Warn("no payment secret, using the fake gateway")
		gateway = payment.NewFakeGateway()
	}
	paymentSvc := payment.NewService(payment.NewStore(dbPool), gateway, orderSvc, bus, cfg.Payment, logger)

	engine := dispatch.NewEngine(source, router, logger)
	dispatchSvc := dispatch.NewService(dispatch.NewStore(dbPool), engine, bus, unindexer, cfg.Dispatch, logger)
	transferSvc := transfer.NewService(transfer.NewStore(dbPool), logger)

	var notifier notify.Notifier
	if cfg.Mail.URL != "" {
		notifier = notify.NewHTTPMailer(cfg.Mail.URL, cfg.Mail.From, cfg.Mail.Timeout, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	var relay *events.KafkaRelay
	if len(cfg.Kafka.Brokers) > 0 {
		relay = events.NewKafkaRelay(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		defer relay.Close()
	}

	saga.Register(saga.Deps{
		Bus:        bus,
		Orders:     orderSvc,
		Payments:   paymentSvc,
		Dispatcher: dispatchSvc,
		Transfers:  transferSvc,
		Notifier:   notifier,
		Relay:      relay,
		Logger:     logger,
	})

	if cfg.Dispatch.RedispatchSpec != "" {
		if err := scheduler.Add("redispatch", cfg.Dispatch.RedispatchSpec, jobs.Redispatch(dispatchSvc, logger)); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Orders:   orderSvc,
		Payments: paymentSvc,
		Drivers:  driverSvc,
		Verifier: verifier,
		Metrics:  metricsHandler,
		Logger:   logger,
	})
	return httptransport.NewServer(cfg.HTTP.Addr, handler, logger).Run(ctx)
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (infra.TokenVerifier, error) {
	if cfg.Mode == "firebase" {
		return infra.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	}
	return infra.NewJWTVerifier(cfg.JWTSecret)
}
