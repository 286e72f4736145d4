// Package gateway talks to the hosted payment gateway's merchant API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/signature"
)

const (
	inquiryPath        = "/v2/inquiry"
	statusPath         = "/transactionStatus"
	paymentMethodsPath = "/paymentmethod/getpaymentmethod"

	maxResponseBytes = 1 << 20
	datetimeLayout   = "2006-01-02 15:04:05"
)

// Config is the resolved gateway configuration. BaseURL already points at a
// single environment.
type Config struct {
	MerchantCode      string
	APIKey            string
	BaseURL           string
	CallbackURL       string
	ReturnURL         string
	ExpiryMinutes     int
	Timeout           time.Duration
	BreakerFailures   uint32
	BreakerOpenPeriod time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its Timeout is left alone.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.MerchantCode) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gateway: merchant code and api key are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenPeriod <= 0 {
		cfg.BreakerOpenPeriod = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).Named("gateway")

	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// CreateTransaction signs and posts an inquiry. The amount is rounded once
// and the same integer is used for the signature and the wire payload.
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return nil, errors.New("gateway: order number is required")
	}
	amount := RoundAmount(req.Amount)
	if amount <= 0 {
		return nil, fmt.Errorf("gateway: amount must be positive, got %d", amount)
	}

	customerName := strings.TrimSpace(req.Customer.FirstName + " " + req.Customer.LastName)
	body := inquiryRequest{
		MerchantCode:     c.cfg.MerchantCode,
		PaymentAmount:    amount,
		PaymentMethod:    req.PaymentMethod,
		MerchantOrderID:  req.OrderNumber,
		ProductDetails:   req.ProductDetails,
		AdditionalParam:  req.AdditionalParam,
		MerchantUserInfo: req.MerchantUserInfo,
		CustomerVaName:   customerName,
		Email:            req.Customer.Email,
		PhoneNumber:      req.Customer.PhoneNumber,
		ItemDetails:      req.Items,
		CustomerDetail:   &req.Customer,
		CallbackURL:      c.cfg.CallbackURL,
		ReturnURL:        c.cfg.ReturnURL,
		Signature:        signature.TransactionRequest(c.cfg.MerchantCode, req.OrderNumber, amount, c.cfg.APIKey),
		ExpiryPeriod:     c.cfg.ExpiryMinutes,
	}

	raw, err := c.post(ctx, "inquiry", inquiryPath, body)
	if err != nil {
		return nil, err
	}

	var resp inquiryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode inquiry response: %v", ErrIntegration, err)
	}
	if resp.StatusCode != StatusSuccess {
		c.logger.Warn("inquiry declined",
			zap.String("order_number", req.OrderNumber),
			zap.String("status_code", resp.StatusCode),
			zap.String("status_message", resp.StatusMessage),
		)
		return nil, &StatusError{Operation: "inquiry", Code: resp.StatusCode, Message: resp.StatusMessage}
	}

	tx := &Transaction{
		Reference:     resp.Reference,
		PaymentURL:    resp.PaymentURL,
		VANumber:      resp.VANumber,
		QRString:      resp.QRString,
		Amount:        amount,
		StatusCode:    resp.StatusCode,
		StatusMessage: resp.StatusMessage,
	}
	if resp.Amount != "" {
		if parsed, err := strconv.ParseInt(resp.Amount, 10, 64); err == nil {
			tx.Amount = parsed
		}
	}
	if tx.Amount != amount {
		c.logger.Warn("inquiry amount differs from request",
			zap.String("order_number", req.OrderNumber),
			zap.Int64("requested", amount),
			zap.Int64("answered", tx.Amount),
		)
	}
	return tx, nil
}

// CheckTransactionStatus asks the gateway for the current state of an order.
// The payload is returned as decoded; the caller interprets StatusCode.
func (c *Client) CheckTransactionStatus(ctx context.Context, orderNumber string) (*TransactionStatus, error) {
	body := statusRequest{
		MerchantCode:    c.cfg.MerchantCode,
		MerchantOrderID: orderNumber,
		Signature:       signature.StatusCheck(c.cfg.MerchantCode, orderNumber, c.cfg.APIKey),
	}
	raw, err := c.post(ctx, "status", statusPath, body)
	if err != nil {
		return nil, err
	}
	var status TransactionStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: decode status response: %v", ErrIntegration, err)
	}
	return &status, nil
}

// ListPaymentMethods returns the methods enabled for amount.
func (c *Client) ListPaymentMethods(ctx context.Context, amount int64) ([]PaymentMethod, error) {
	datetime := c.now().Format(datetimeLayout)
	body := paymentMethodsRequest{
		MerchantCode: c.cfg.MerchantCode,
		Amount:       amount,
		Datetime:     datetime,
		Signature:    signature.PaymentMethods(c.cfg.MerchantCode, amount, datetime, c.cfg.APIKey),
	}
	raw, err := c.post(ctx, "payment_methods", paymentMethodsPath, body)
	if err != nil {
		return nil, err
	}
	var resp paymentMethodsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode payment methods response: %v", ErrIntegration, err)
	}
	if resp.ResponseCode != StatusSuccess {
		return nil, &StatusError{Operation: "payment_methods", Code: resp.ResponseCode, Message: resp.ResponseMessage}
	}
	return resp.PaymentFee, nil
}

func (c *Client) post(ctx context.Context, operation, path string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", operation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, truncate(body, 256))
		}
		return body, nil
	})
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordGatewayRequest(operation, "error", elapsed)
		c.logger.Error("gateway request failed",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %w", ErrIntegration, operation, ErrCircuitOpen)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrIntegration, operation, err)
	}
	c.metrics.RecordGatewayRequest(operation, "ok", elapsed)
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
