package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/gateway"
	"storefront/internal/httpserver"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/migrate"
	"storefront/internal/ratelimit"
	cartrepo "storefront/internal/repository/cart"
	customerrepo "storefront/internal/repository/customer"
	orderrepo "storefront/internal/repository/order"
	productrepo "storefront/internal/repository/product"
	cartsvc "storefront/internal/service/cart"
	checkoutsvc "storefront/internal/service/checkout"
	customersvc "storefront/internal/service/customer"
	inventorysvc "storefront/internal/service/inventory"
	productsvc "storefront/internal/service/product"
	sessionsvc "storefront/internal/service/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DB.DSN, logger)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	version, err := migrate.Apply(ctx, dbpool)
	if err != nil {
		return err
	}
	logger.Info("schema ready", zap.Uint("version", version))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	baseURL, err := cfg.Gateway.BaseURL()
	if err != nil {
		return err
	}
	gw, err := gateway.New(gateway.Config{
		MerchantCode:      cfg.Gateway.MerchantCode,
		APIKey:            cfg.Gateway.APIKey,
		BaseURL:           baseURL,
		CallbackURL:       cfg.Gateway.CallbackURL,
		ReturnURL:         cfg.Gateway.ReturnURL,
		ExpiryMinutes:     cfg.Gateway.ExpiryMinutes,
		Timeout:           cfg.Gateway.Timeout,
		BreakerFailures:   cfg.Gateway.BreakerFailures,
		BreakerOpenPeriod: cfg.Gateway.BreakerOpenPeriod,
	}, gateway.WithLogger(logger), gateway.WithMetrics(m))
	if err != nil {
		return err
	}
	logger.Info("payment gateway configured", zap.String("environment", cfg.Gateway.Environment), zap.String("base_url", baseURL))

	taxRate, err := cfg.Checkout.Tax()
	if err != nil {
		return err
	}

	productRepo := productrepo.NewPostgres(dbpool, logger)
	cartService := cartsvc.New(cartrepo.NewPostgres(dbpool), productRepo, cfg.Checkout.Currency)
	inventoryService := inventorysvc.New(productRepo, logger, m)
	checkoutService := checkoutsvc.New(cartService, orderrepo.NewPostgres(dbpool), gw, inventoryService, checkoutsvc.Pricing{
		Currency:    cfg.Checkout.Currency,
		ShippingFee: cfg.Checkout.ShippingFee,
		TaxRate:     taxRate,
	}, logger, m)
	sessionService, err := sessionsvc.New(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		return err
	}
	customerService := customersvc.New(customerrepo.NewPostgres(dbpool, logger), sessionService, logger)
	checkoutService.WithAddressBook(customerService)

	limiter := ratelimit.NewMemory()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		limiter = ratelimit.NewRedis(rdb)
		logger.Info("rate limiter backed by redis", zap.String("addr", cfg.Redis.Addr))
	}

	gin.SetMode(gin.ReleaseMode)
	srv, err := httpserver.New(cfg.HTTP.Addr, logger, dbpool, httpserver.Deps{
		Products:  productsvc.New(productRepo),
		Carts:     cartService,
		Checkout:  checkoutService,
		Customers: customerService,
		Sessions:  sessionService,
		Limiter:   limiter,
		Metrics:   m,
		Gatherer:  reg,
		Callback:  httpserver.CallbackAuth{MerchantCode: cfg.Gateway.MerchantCode, APIKey: cfg.Gateway.APIKey},
		Options: httpserver.Options{
			CORSOrigins:     cfg.HTTP.CORSOrigins,
			HomeURL:         cfg.HTTP.HomeURL,
			CookieName:      cfg.Session.CookieName,
			CookieSecure:    cfg.Session.Secure,
			RateLimitWindow: cfg.RateLimit.Window,
			RateLimitMax:    cfg.RateLimit.Max,
		},
	})
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
