package httpserver

import (
	"errors"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storefront/internal/metrics"
	"storefront/internal/ratelimit"
)

// Deps are the services the router dispatches to.
// Customers is optional; without it the customer routes are not mounted.
type Deps struct {
	Products  productService
	Carts     cartService
	Checkout  checkoutService
	Customers customerService
	Sessions  sessionResolver
	Limiter   ratelimit.Limiter
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Callback  CallbackAuth
	Options   Options
}

type Options struct {
	CORSOrigins     []string
	HomeURL         string
	CookieName      string
	CookieSecure    bool
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// buildRouter wires routes for the API.
func buildRouter(logger *zap.Logger, db Pinger, deps Deps) (*gin.Engine, error) {
	if deps.Products == nil || deps.Carts == nil || deps.Checkout == nil || deps.Sessions == nil {
		return nil, errors.New("httpserver: products, carts, checkout and sessions are required")
	}
	if deps.Callback.MerchantCode == "" || deps.Callback.APIKey == "" {
		return nil, errors.New("httpserver: callback merchant credentials are required")
	}
	opts := deps.Options
	if opts.HomeURL == "" {
		opts.HomeURL = "/"
	}
	if opts.CookieName == "" {
		opts.CookieName = "sf_session"
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}

	router := gin.New()
	router.Use(gin.Recovery(), accessLog(logger, deps.Metrics))
	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	h := &handlers{
		logger:    logger,
		products:  deps.Products,
		carts:     deps.Carts,
		checkout:  deps.Checkout,
		customers: deps.Customers,
		callback:  deps.Callback,
		homeURL:   opts.HomeURL,
		tokenTTL:  deps.Sessions.TTL(),
		onForged:  deps.Metrics.RecordCallbackRejected,
	}
	limited := rateLimit(deps.Limiter, opts.RateLimitWindow, opts.RateLimitMax, logger, deps.Metrics)

	router.GET("/products", h.listProducts)
	router.GET("/products/:id", h.getProduct)

	shopper := router.Group("/", ownerMiddleware(deps.Sessions, cookieOptions{Name: opts.CookieName, Secure: opts.CookieSecure}, logger))
	shopper.GET("/cart", h.getCart)
	shopper.POST("/cart/items", h.addCartItem)
	shopper.PATCH("/cart/items/:lineId", h.changeCartItem)
	shopper.GET("/checkout/payment-methods", h.paymentMethods)
	shopper.POST("/checkout", limited, h.processCheckout)
	shopper.GET("/orders/:orderNumber", h.getOrder)
	shopper.POST("/orders/:orderNumber/payment", limited, h.retryPayment)

	if deps.Customers != nil {
		router.POST("/customers/signup", limited, h.signup)
		router.POST("/customers/login", limited, h.login)
		me := shopper.Group("/customers/me", requireCustomer)
		me.GET("", h.me)
		me.GET("/addresses", h.listAddresses)
		me.POST("/addresses", h.addAddress)
	}

	router.GET("/order/confirmation", h.confirmation)
	router.POST("/payment/callback", limited, h.paymentCallback)

	return router, nil
}
