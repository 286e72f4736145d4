package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/metrics"
	"storefront/internal/ratelimit"
	cartsvc "storefront/internal/service/cart"
	"storefront/internal/service/checkout"
	"storefront/internal/service/session"
	"storefront/internal/signature"
)

const (
	testMerchant = "D0001"
	testAPIKey   = "secret-key"
	testHome     = "https://shop.example.com/"

	testProductID = "0b6e3f1c-5d1a-4c5e-9a38-2f0d5c7e9b11"
	testLineID    = "6f1d2c3b-8a9e-4f70-b1c2-d3e4f5a6b7c8"
)

type stubProducts struct {
	products []domain.Product
}

func (s *stubProducts) List(_ context.Context) ([]domain.Product, error) {
	return s.products, nil
}

func (s *stubProducts) Get(_ context.Context, id string) (*domain.Product, error) {
	for _, p := range s.products {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type stubCarts struct {
	mu      sync.Mutex
	owners  []domain.CartOwner
	actions []cartsvc.UpdateAction
	err     error
}

func (s *stubCarts) Get(_ context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners = append(s.owners, owner)
	return &domain.Cart{Currency: "IDR"}, nil
}

func (s *stubCarts) Update(_ context.Context, owner domain.CartOwner, in cartsvc.UpdateInput) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners = append(s.owners, owner)
	s.actions = append(s.actions, in.Actions...)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Cart{ID: "cart-1", Currency: "IDR"}, nil
}

type stubCheckout struct {
	mu         sync.Mutex
	reconciles []checkout.ReconcileInput
	result     *checkout.Result
	err        error
	reconRes   *checkout.ReconcileResult
	reconErr   error
	methods    []gateway.PaymentMethod
}

func (s *stubCheckout) ProcessCheckout(_ context.Context, _ domain.CartOwner, _ checkout.Input) (*checkout.Result, error) {
	return s.result, s.err
}

func (s *stubCheckout) RetryPayment(_ context.Context, _ domain.CartOwner, _ string) (*checkout.Result, error) {
	return s.result, s.err
}

func (s *stubCheckout) GetOrder(_ context.Context, owner domain.CartOwner, orderNumber string) (*domain.Order, error) {
	if s.result == nil || s.result.Order.OrderNumber != orderNumber || !s.result.Order.OwnedBy(owner) {
		return nil, domain.ErrNotFound
	}
	return s.result.Order, nil
}

func (s *stubCheckout) PaymentMethods(_ context.Context, _ int64) ([]gateway.PaymentMethod, error) {
	return s.methods, nil
}

func (s *stubCheckout) Reconcile(_ context.Context, in checkout.ReconcileInput) (*checkout.ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciles = append(s.reconciles, in)
	return s.reconRes, s.reconErr
}

func (s *stubCheckout) reconcileCalls() []checkout.ReconcileInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checkout.ReconcileInput(nil), s.reconciles...)
}

type fixture struct {
	router   *gin.Engine
	carts    *stubCarts
	checkout *stubCheckout
	sessions *session.Service
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions, err := session.New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	f := &fixture{
		carts:    &stubCarts{},
		checkout: &stubCheckout{},
		sessions: sessions,
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	deps := Deps{
		Products: &stubProducts{products: []domain.Product{{
			ID: testProductID, Name: "Tee", Currency: "IDR",
			Variants: []domain.Variant{{ID: "v1", SKU: "TEE-M", Price: 50000, Cost: 20000, StockQuantity: 3, Active: true}},
		}}},
		Carts:    f.carts,
		Checkout: f.checkout,
		Sessions: sessions,
		Metrics:  f.metrics,
		Callback: CallbackAuth{MerchantCode: testMerchant, APIKey: testAPIKey},
		Options:  Options{HomeURL: testHome, CookieName: "sf_session"},
	}
	if mutate != nil {
		mutate(&deps)
	}
	router, err := buildRouter(zap.NewNop(), nil, deps)
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	f.router = router
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	if body.Success {
		t.Errorf("expected success=false in %s", rec.Body.String())
	}
	return body
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if got := decodeError(t, rec).Error.Code; got != want {
		t.Fatalf("expected error code %q, got %q", want, got)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, nil)

	expectStatus(t, f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)), http.StatusOK)
	expectStatus(t, f.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)), http.StatusServiceUnavailable)
}

func TestBuildRouterRequiresCallbackCredentials(t *testing.T) {
	sessions, err := session.New("s", time.Hour)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	_, err = buildRouter(zap.NewNop(), nil, Deps{
		Products: &stubProducts{},
		Carts:    &stubCarts{},
		Checkout: &stubCheckout{},
		Sessions: sessions,
	})
	if err == nil {
		t.Fatalf("expected error without callback credentials")
	}
}

func TestProductsHideCost(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/products/"+testProductID, nil))
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"sku":"TEE-M"`) {
		t.Errorf("expected sku in %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "cost") {
		t.Errorf("cost leaked in %s", rec.Body.String())
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/products/"+testLineID, nil))
	expectStatus(t, rec, http.StatusNotFound)
	expectErrorCode(t, rec, "not_found")
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/products/abc", nil))
	expectStatus(t, rec, http.StatusNotFound)
	expectErrorCode(t, rec, "not_found")

	req := httptest.NewRequest(http.MethodPatch, "/cart/items/abc", strings.NewReader(`{"quantity":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec = f.do(req)
	expectStatus(t, rec, http.StatusNotFound)
	expectErrorCode(t, rec, "not_found")
	if len(f.carts.actions) != 0 {
		t.Fatalf("expected no cart updates, got %+v", f.carts.actions)
	}
}

func TestSessionCookieIssuedOnceAndReused(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/cart", nil))
	expectStatus(t, rec, http.StatusOK)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	if cookies[0].Name != "sf_session" || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookie %+v", cookies[0])
	}

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(cookies[0])
	rec = f.do(req)
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Result().Cookies(); len(got) != 0 {
		t.Fatalf("valid cookie was reissued: %+v", got)
	}

	if len(f.carts.owners) != 2 {
		t.Fatalf("expected 2 cart lookups, got %d", len(f.carts.owners))
	}
	if f.carts.owners[0].SessionID == "" {
		t.Fatalf("expected a session owner")
	}
	if f.carts.owners[0] != f.carts.owners[1] {
		t.Fatalf("owner changed between requests: %+v vs %+v", f.carts.owners[0], f.carts.owners[1])
	}
}

func TestInvalidSessionCookieIsReplaced(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: "sf_session", Value: "forged"})
	rec := f.do(req)
	expectStatus(t, rec, http.StatusOK)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected replacement cookie, got %d", len(cookies))
	}
	if cookies[0].Value == "forged" {
		t.Fatalf("forged cookie was kept")
	}
}

func TestBearerTokenSelectsCustomerOwner(t *testing.T) {
	f := newFixture(t, nil)
	token, err := f.sessions.IssueCustomer("cust-9")
	if err != nil {
		t.Fatalf("IssueCustomer: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Result().Cookies(); len(got) != 0 {
		t.Fatalf("expected no session cookie, got %+v", got)
	}
	if len(f.carts.owners) != 1 || f.carts.owners[0] != domain.CustomerOwner("cust-9") {
		t.Fatalf("unexpected owners %+v", f.carts.owners)
	}

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer nope")
	expectStatus(t, f.do(req), http.StatusUnauthorized)
}

func TestAddAndChangeCartItems(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"sku":"TEE-M"}`))
	req.Header.Set("Content-Type", "application/json")
	expectStatus(t, f.do(req), http.StatusOK)

	req = httptest.NewRequest(http.MethodPatch, "/cart/items/"+testLineID, strings.NewReader(`{"quantity":0}`))
	req.Header.Set("Content-Type", "application/json")
	expectStatus(t, f.do(req), http.StatusOK)

	req = httptest.NewRequest(http.MethodPatch, "/cart/items/"+testLineID, strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	expectStatus(t, f.do(req), http.StatusBadRequest)

	if len(f.carts.actions) != 2 {
		t.Fatalf("expected 2 actions, got %+v", f.carts.actions)
	}
	if want := (cartsvc.UpdateAction{Action: "addLineItem", SKU: "TEE-M", Quantity: 1}); f.carts.actions[0] != want {
		t.Errorf("expected %+v, got %+v", want, f.carts.actions[0])
	}
	if want := (cartsvc.UpdateAction{Action: "removeLineItem", LineItemID: testLineID}); f.carts.actions[1] != want {
		t.Errorf("expected %+v, got %+v", want, f.carts.actions[1])
	}
}

func TestCartValidationErrorIs400(t *testing.T) {
	f := newFixture(t, nil)
	f.carts.err = fmt.Errorf("%w: unknown sku", domain.ErrValidation)

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"sku":"NOPE","quantity":2}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)
	expectStatus(t, rec, http.StatusBadRequest)
	expectErrorCode(t, rec, "validation_failed")
}

func checkoutRequest() *http.Request {
	body := `{"paymentMethod":"VC","email":"a@example.com","shippingAddress":{"fullName":"A B","street":"Jl 1","city":"Jakarta","postalCode":"10110","country":"ID"}}`
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCheckoutSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ref := "REF1"
	f.checkout.result = &checkout.Result{
		Order:      &domain.Order{OrderNumber: "ORD-1", TotalAmount: 115000, PaymentStatus: domain.PaymentStatusPending, PaymentReference: &ref},
		PaymentURL: "https://pay.example/1",
		Reference:  ref,
	}

	rec := f.do(checkoutRequest())
	expectStatus(t, rec, http.StatusCreated)

	var body struct {
		Success bool         `json:"success"`
		Data    checkoutView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success {
		t.Errorf("expected success=true")
	}
	if body.Data.PaymentURL != "https://pay.example/1" {
		t.Errorf("unexpected payment url %q", body.Data.PaymentURL)
	}
	if body.Data.Order.OrderNumber != "ORD-1" || !body.Data.Order.PaymentInitiated {
		t.Errorf("unexpected order %+v", body.Data.Order)
	}
}

func TestCheckoutGatewayFailuresKeepOrder(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unreachable", fmt.Errorf("%w: %w", checkout.ErrPaymentUnavailable, gateway.ErrIntegration), http.StatusBadGateway, "payment_unavailable"},
		{"circuit open", fmt.Errorf("%w: %w", checkout.ErrPaymentUnavailable, fmt.Errorf("%w: inquiry: %w", gateway.ErrIntegration, gateway.ErrCircuitOpen)), http.StatusServiceUnavailable, "payment_unavailable"},
		{"declined", fmt.Errorf("%w: insufficient", checkout.ErrPaymentDeclined), http.StatusUnprocessableEntity, "payment_declined"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.checkout.result = &checkout.Result{Order: &domain.Order{OrderNumber: "ORD-2", PaymentStatus: domain.PaymentStatusPending}}
			f.checkout.err = tc.err

			rec := f.do(checkoutRequest())
			expectStatus(t, rec, tc.status)
			body := decodeError(t, rec)
			if body.Error.Code != tc.code {
				t.Errorf("expected code %q, got %q", tc.code, body.Error.Code)
			}
			if body.Order == nil {
				t.Fatalf("expected the order in the error body")
			}
			if body.Order.OrderNumber != "ORD-2" || body.Order.PaymentInitiated {
				t.Errorf("unexpected order %+v", body.Order)
			}
		})
	}
}

func TestCheckoutEmptyCartAndMalformedBody(t *testing.T) {
	f := newFixture(t, nil)
	f.checkout.err = checkout.ErrEmptyCart

	rec := f.do(checkoutRequest())
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if order := decodeError(t, rec).Order; order != nil {
		t.Fatalf("expected no order, got %+v", order)
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"email":`))
	req.Header.Set("Content-Type", "application/json")
	expectStatus(t, f.do(req), http.StatusBadRequest)
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	f := newFixture(t, nil)
	f.checkout.err = errors.New("pq: connection refused to 10.0.0.5")

	rec := f.do(checkoutRequest())
	expectStatus(t, rec, http.StatusInternalServerError)
	if msg := decodeError(t, rec).Error.Message; msg != "internal error" {
		t.Fatalf("expected generic message, got %q", msg)
	}
}

func TestOrderTrackingRequiresOwner(t *testing.T) {
	f := newFixture(t, nil)
	token, err := f.sessions.IssueCustomer("cust-1")
	if err != nil {
		t.Fatalf("IssueCustomer: %v", err)
	}
	cust := "cust-1"
	f.checkout.result = &checkout.Result{Order: &domain.Order{OrderNumber: "ORD-3", CustomerID: &cust}}

	req := httptest.NewRequest(http.MethodGet, "/orders/ORD-3", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	expectStatus(t, f.do(req), http.StatusOK)

	expectStatus(t, f.do(httptest.NewRequest(http.MethodGet, "/orders/ORD-3", nil)), http.StatusNotFound)
}

func TestRetryPaymentNotPayable(t *testing.T) {
	f := newFixture(t, nil)
	f.checkout.err = fmt.Errorf("%w: ORD-4 is paid", checkout.ErrNotPayable)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/orders/ORD-4/payment", nil))
	expectStatus(t, rec, http.StatusConflict)
	expectErrorCode(t, rec, "not_payable")
}

func TestPaymentMethodsAmountValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.checkout.methods = []gateway.PaymentMethod{{Code: "VC", Name: "Credit Card"}}

	expectStatus(t, f.do(httptest.NewRequest(http.MethodGet, "/checkout/payment-methods?amount=abc", nil)), http.StatusBadRequest)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/checkout/payment-methods?amount=10000", nil))
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"paymentMethod":"VC"`) {
		t.Fatalf("expected VC in %s", rec.Body.String())
	}
}

func TestConfirmationRedirectsHomeOnUnusableInput(t *testing.T) {
	f := newFixture(t, nil)

	for _, query := range []string{
		"",
		"?resultCode=00",
		"?merchantOrderId=ORD-1",
		"?merchantOrderId=ORD-1&resultCode=03",
	} {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/order/confirmation"+query, nil))
		if rec.Code != http.StatusFound {
			t.Errorf("%q: expected 302, got %d", query, rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != testHome {
			t.Errorf("%q: expected redirect to %s, got %q", query, testHome, loc)
		}
	}
	if calls := f.checkout.reconcileCalls(); len(calls) != 0 {
		t.Fatalf("expected no reconcile, got %+v", calls)
	}
}

func TestConfirmationReconcilesReturn(t *testing.T) {
	f := newFixture(t, nil)
	f.checkout.reconRes = &checkout.ReconcileResult{
		Order:   &domain.Order{OrderNumber: "ORD-5", PaymentStatus: domain.PaymentStatusFailed, OrderStatus: domain.OrderStatusCancelled, Email: "private@example.com"},
		Outcome: checkout.OutcomeFailed,
		Changed: true,
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/order/confirmation?merchantOrderId=ORD-5&resultCode=02&reference=R5", nil))
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"paymentStatus":"failed"`) {
		t.Errorf("expected failed status in %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "private@example.com") {
		t.Errorf("email leaked in %s", rec.Body.String())
	}

	calls := f.checkout.reconcileCalls()
	want := checkout.ReconcileInput{OrderNumber: "ORD-5", ResultCode: "02", Source: checkout.SourceReturn, Reference: "R5"}
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("expected reconcile %+v, got %+v", want, calls)
	}
}

func TestConfirmationUnknownOrderRedirectsHome(t *testing.T) {
	f := newFixture(t, nil)
	f.checkout.reconErr = domain.ErrNotFound

	rec := f.do(httptest.NewRequest(http.MethodGet, "/order/confirmation?merchantOrderId=ORD-X&resultCode=00", nil))
	expectStatus(t, rec, http.StatusFound)
	if loc := rec.Header().Get("Location"); loc != testHome {
		t.Fatalf("expected redirect to %s, got %q", testHome, loc)
	}
}

func callbackForm(orderNumber, amount, code, sig string) url.Values {
	return url.Values{
		"merchantCode":    {testMerchant},
		"amount":          {amount},
		"merchantOrderId": {orderNumber},
		"productDetail":   {"Order " + orderNumber},
		"paymentCode":     {"VC"},
		"resultCode":      {code},
		"reference":       {"REF-" + orderNumber},
		"signature":       {sig},
	}
}

func postForm(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payment/callback", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func expectAck(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	expectStatus(t, rec, http.StatusOK)
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"received"}` {
		t.Fatalf("expected acknowledgement, got %s", got)
	}
}

func TestCallbackValidSignatureReconciles(t *testing.T) {
	f := newFixture(t, nil)
	f.checkout.reconRes = &checkout.ReconcileResult{Order: &domain.Order{OrderNumber: "ORD-6"}, Outcome: checkout.OutcomePaid, Changed: true}

	sig := signature.Callback(testMerchant, "115000", "ORD-6", testAPIKey)
	expectAck(t, f.do(postForm(callbackForm("ORD-6", "115000", "00", sig))))

	calls := f.checkout.reconcileCalls()
	want := checkout.ReconcileInput{
		OrderNumber: "ORD-6",
		ResultCode:  "00",
		Source:      checkout.SourceCallback,
		Reference:   "REF-ORD-6",
		Amount:      "115000",
	}
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("expected reconcile %+v, got %+v", want, calls)
	}
}

func TestCallbackJSONBody(t *testing.T) {
	f := newFixture(t, nil)
	f.checkout.reconRes = &checkout.ReconcileResult{Order: &domain.Order{OrderNumber: "ORD-7"}, Outcome: checkout.OutcomeFailed}

	sig := signature.Callback(testMerchant, "20000", "ORD-7", testAPIKey)
	body := fmt.Sprintf(`{"merchantCode":%q,"amount":20000,"merchantOrderId":"ORD-7","resultCode":"01","signature":%q}`, testMerchant, sig)
	req := httptest.NewRequest(http.MethodPost, "/payment/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	expectStatus(t, f.do(req), http.StatusOK)

	calls := f.checkout.reconcileCalls()
	if len(calls) != 1 || calls[0].Amount != "20000" {
		t.Fatalf("expected one reconcile with amount 20000, got %+v", calls)
	}
}

func TestCallbackForgedSignatureAcknowledgedNotApplied(t *testing.T) {
	f := newFixture(t, nil)

	sig := signature.Callback(testMerchant, "115000", "ORD-8", testAPIKey)
	mutated := sig[:len(sig)-1] + "x"
	expectAck(t, f.do(postForm(callbackForm("ORD-8", "115000", "00", mutated))))

	// A signature over a different amount is also forged.
	expectStatus(t, f.do(postForm(callbackForm("ORD-8", "1", "00", sig))), http.StatusOK)

	if calls := f.checkout.reconcileCalls(); len(calls) != 0 {
		t.Fatalf("forged callback reconciled: %+v", calls)
	}
	if got := testutil.ToFloat64(f.metrics.CallbackRejectedTotal); got != 2 {
		t.Fatalf("expected 2 rejections counted, got %v", got)
	}
}

func TestCallbackForeignMerchantRejected(t *testing.T) {
	f := newFixture(t, nil)

	values := callbackForm("ORD-9", "1000", "00", signature.Callback("OTHER", "1000", "ORD-9", testAPIKey))
	values.Set("merchantCode", "OTHER")
	expectStatus(t, f.do(postForm(values)), http.StatusOK)
	if calls := f.checkout.reconcileCalls(); len(calls) != 0 {
		t.Fatalf("foreign merchant reconciled: %+v", calls)
	}
}

func TestCallbackMissingFieldsIs400(t *testing.T) {
	f := newFixture(t, nil)

	values := callbackForm("ORD-10", "1000", "00", "sig")
	values.Del("signature")
	expectStatus(t, f.do(postForm(values)), http.StatusBadRequest)
	if calls := f.checkout.reconcileCalls(); len(calls) != 0 {
		t.Fatalf("incomplete callback reconciled: %+v", calls)
	}
}

func TestCallbackOutcomeErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown order", domain.ErrNotFound, http.StatusOK},
		{"unknown code", checkout.ErrUnknownResultCode, http.StatusOK},
		{"amount mismatch", checkout.ErrAmountMismatch, http.StatusOK},
		{"storage failure", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.checkout.reconErr = tc.err
			sig := signature.Callback(testMerchant, "500", "ORD-11", testAPIKey)
			expectStatus(t, f.do(postForm(callbackForm("ORD-11", "500", "00", sig))), tc.status)
		})
	}
}

func TestCheckoutRateLimited(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemory()
		d.Options.RateLimitMax = 2
		d.Options.RateLimitWindow = time.Hour
	})
	f.checkout.err = checkout.ErrEmptyCart

	for i := 0; i < 2; i++ {
		expectStatus(t, f.do(checkoutRequest()), http.StatusUnprocessableEntity)
	}
	rec := f.do(checkoutRequest())
	expectStatus(t, rec, http.StatusTooManyRequests)
	expectErrorCode(t, rec, "rate_limited")
	if got := rec.Header().Get("Retry-After"); got != "3600" {
		t.Errorf("expected Retry-After 3600, got %q", got)
	}
	if got := testutil.ToFloat64(f.metrics.RateLimitedTotal.WithLabelValues("/checkout")); got != 1 {
		t.Errorf("expected 1 limited request counted, got %v", got)
	}

	// Unlimited routes are unaffected.
	expectStatus(t, f.do(httptest.NewRequest(http.MethodGet, "/cart", nil)), http.StatusOK)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, time.Duration, int) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimiterFailureLetsRequestThrough(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Limiter = failingLimiter{}
		d.Options.RateLimitMax = 1
	})
	f.checkout.err = checkout.ErrEmptyCart

	expectStatus(t, f.do(checkoutRequest()), http.StatusUnprocessableEntity)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, func(d *Deps) {
		d.Metrics = metrics.New(reg)
		d.Gatherer = reg
	})

	f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "storefront_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}
