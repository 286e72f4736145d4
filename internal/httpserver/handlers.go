package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	cartsvc "storefront/internal/service/cart"
	"storefront/internal/service/checkout"
	"storefront/internal/signature"
)

type productService interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)
}

type cartService interface {
	Get(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	Update(ctx context.Context, owner domain.CartOwner, in cartsvc.UpdateInput) (*domain.Cart, error)
}

type checkoutService interface {
	ProcessCheckout(ctx context.Context, owner domain.CartOwner, in checkout.Input) (*checkout.Result, error)
	RetryPayment(ctx context.Context, owner domain.CartOwner, orderNumber string) (*checkout.Result, error)
	GetOrder(ctx context.Context, owner domain.CartOwner, orderNumber string) (*domain.Order, error)
	PaymentMethods(ctx context.Context, amount int64) ([]gateway.PaymentMethod, error)
	Reconcile(ctx context.Context, in checkout.ReconcileInput) (*checkout.ReconcileResult, error)
}

// CallbackAuth holds the merchant credentials inbound callbacks are
// verified against.
type CallbackAuth struct {
	MerchantCode string
	APIKey       string
}

type handlers struct {
	logger    *zap.Logger
	products  productService
	carts     cartService
	checkout  checkoutService
	customers customerService
	callback  CallbackAuth
	homeURL   string
	tokenTTL  time.Duration
	onForged  func()
}

func (h *handlers) listProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context())
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, toProductView(p))
	}
	writeOK(c, http.StatusOK, out)
}

func (h *handlers) getProduct(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		abortWithError(c, http.StatusNotFound, "not_found", "product not found")
		return
	}
	p, err := h.products.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusOK, toProductView(*p))
}

func (h *handlers) getCart(c *gin.Context) {
	cart, err := h.carts.Get(c.Request.Context(), ownerFrom(c))
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusOK, toCartView(*cart))
}

type addItemRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity"`
}

func (h *handlers) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeServiceError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err), nil)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := h.carts.Update(c.Request.Context(), ownerFrom(c), cartsvc.UpdateInput{
		Actions: []cartsvc.UpdateAction{{Action: "addLineItem", SKU: req.SKU, Quantity: req.Quantity}},
	})
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusOK, toCartView(*cart))
}

type changeItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *handlers) changeCartItem(c *gin.Context) {
	lineID := c.Param("lineId")
	if !isUUID(lineID) {
		abortWithError(c, http.StatusNotFound, "not_found", "line item not found")
		return
	}
	var req changeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeServiceError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err), nil)
		return
	}
	action := cartsvc.UpdateAction{Action: "changeLineItemQuantity", LineItemID: lineID, Quantity: *req.Quantity}
	if *req.Quantity == 0 {
		action = cartsvc.UpdateAction{Action: "removeLineItem", LineItemID: lineID}
	}
	cart, err := h.carts.Update(c.Request.Context(), ownerFrom(c), cartsvc.UpdateInput{Actions: []cartsvc.UpdateAction{action}})
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusOK, toCartView(*cart))
}

func (h *handlers) paymentMethods(c *gin.Context) {
	amount, err := strconv.ParseInt(strings.TrimSpace(c.Query("amount")), 10, 64)
	if err != nil {
		writeServiceError(c, fmt.Errorf("%w: amount must be an integer", domain.ErrValidation), nil)
		return
	}
	methods, err := h.checkout.PaymentMethods(c.Request.Context(), amount)
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusOK, methods)
}

func (h *handlers) processCheckout(c *gin.Context) {
	var in checkout.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		writeServiceError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err), nil)
		return
	}
	res, err := h.checkout.ProcessCheckout(c.Request.Context(), ownerFrom(c), in)
	if err != nil {
		writeServiceError(c, err, resultOrder(res))
		return
	}
	writeOK(c, http.StatusCreated, toCheckoutView(res))
}

func (h *handlers) getOrder(c *gin.Context) {
	order, err := h.checkout.GetOrder(c.Request.Context(), ownerFrom(c), c.Param("orderNumber"))
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusOK, toOrderView(*order))
}

func (h *handlers) retryPayment(c *gin.Context) {
	res, err := h.checkout.RetryPayment(c.Request.Context(), ownerFrom(c), c.Param("orderNumber"))
	if err != nil {
		writeServiceError(c, err, resultOrder(res))
		return
	}
	writeOK(c, http.StatusOK, toCheckoutView(res))
}

func resultOrder(res *checkout.Result) *domain.Order {
	if res == nil {
		return nil
	}
	return res.Order
}

// confirmation handles the browser return redirect. It carries no signature,
// so it only triggers reconciliation; anything unusable sends the shopper
// home.
func (h *handlers) confirmation(c *gin.Context) {
	orderNumber := strings.TrimSpace(c.Query("merchantOrderId"))
	code := strings.TrimSpace(c.Query("resultCode"))
	if orderNumber == "" || !domain.ReturnCode(code).Valid() {
		h.logger.Info("confirmation with unusable parameters, redirecting home",
			zap.String("order_number", orderNumber),
			zap.String("result_code", code),
		)
		c.Redirect(http.StatusFound, h.homeURL)
		return
	}

	res, err := h.checkout.Reconcile(c.Request.Context(), checkout.ReconcileInput{
		OrderNumber: orderNumber,
		ResultCode:  code,
		Source:      checkout.SourceReturn,
		Reference:   c.Query("reference"),
	})
	if err != nil || res == nil || res.Order == nil {
		h.logger.Warn("confirmation reconcile failed, redirecting home",
			zap.String("order_number", orderNumber),
			zap.Error(err),
		)
		c.Redirect(http.StatusFound, h.homeURL)
		return
	}
	writeOK(c, http.StatusOK, toConfirmationView(res))
}

// callbackRequest is the gateway's server-to-server notification, posted as
// a form or as JSON.
type callbackRequest struct {
	MerchantCode    string      `form:"merchantCode" json:"merchantCode" binding:"required"`
	Amount          json.Number `form:"amount" json:"amount" binding:"required"`
	MerchantOrderID string      `form:"merchantOrderId" json:"merchantOrderId" binding:"required"`
	ProductDetail   string      `form:"productDetail" json:"productDetail"`
	AdditionalParam string      `form:"additionalParam" json:"additionalParam"`
	PaymentCode     string      `form:"paymentCode" json:"paymentCode"`
	ResultCode      string      `form:"resultCode" json:"resultCode" binding:"required"`
	MerchantUserID  string      `form:"merchantUserId" json:"merchantUserId"`
	Reference       string      `form:"reference" json:"reference"`
	Signature       string      `form:"signature" json:"signature" binding:"required"`
}

var callbackReceived = gin.H{"status": "received"}

// paymentCallback verifies the signature before reconciling. Forged or
// unactionable notifications are acknowledged so the gateway stops
// retrying; only storage failures return 5xx.
func (h *handlers) paymentCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBind(&req); err != nil {
		writeServiceError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err), nil)
		return
	}
	log := h.logger.With(
		zap.String("order_number", req.MerchantOrderID),
		zap.String("result_code", req.ResultCode),
		zap.String("reference", req.Reference),
	)

	amount := req.Amount.String()
	if req.MerchantCode != h.callback.MerchantCode ||
		!signature.VerifyCallback(req.MerchantCode, amount, req.MerchantOrderID, h.callback.APIKey, req.Signature) {
		log.Warn("callback signature rejected", zap.String("merchant_code", req.MerchantCode))
		if h.onForged != nil {
			h.onForged()
		}
		c.JSON(http.StatusOK, callbackReceived)
		return
	}

	res, err := h.checkout.Reconcile(c.Request.Context(), checkout.ReconcileInput{
		OrderNumber: req.MerchantOrderID,
		ResultCode:  req.ResultCode,
		Source:      checkout.SourceCallback,
		Reference:   req.Reference,
		Amount:      amount,
	})
	switch {
	case err == nil:
		log.Info("callback reconciled", zap.String("outcome", string(res.Outcome)), zap.Bool("changed", res.Changed))
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, checkout.ErrUnknownResultCode),
		errors.Is(err, checkout.ErrAmountMismatch):
		log.Warn("callback not applied", zap.Error(err))
	default:
		log.Error("callback reconcile failed", zap.Error(err))
		writeServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, callbackReceived)
}

// isUUID reports whether id can name a stored row; catalog and cart rows are
// keyed by uuid.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
