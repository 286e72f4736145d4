package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/service/checkout"
	customersvc "storefront/internal/service/customer"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool       `json:"success"`
	Error   apiError   `json:"error"`
	Order   *orderView `json:"order,omitempty"`
}

type okResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func writeOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, okResponse{Success: true, Data: data})
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: apiError{Code: code, Message: message}})
}

// writeServiceError maps err to a status and error code. order, when set, is
// an order that exists despite the failure so the client can retry on it.
func writeServiceError(c *gin.Context, err error, order *domain.Order) {
	status, code := classifyError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		message = "internal error"
	}
	_ = c.Error(err)

	resp := errorResponse{Error: apiError{Code: code, Message: message}}
	if order != nil {
		v := toOrderView(*order)
		resp.Order = &v
	}
	c.AbortWithStatusJSON(status, resp)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, customersvc.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, checkout.ErrUnknownResultCode):
		return http.StatusBadRequest, "unknown_result_code"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, checkout.ErrNotPayable):
		return http.StatusConflict, "not_payable"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, checkout.ErrPaymentDeclined):
		return http.StatusUnprocessableEntity, "payment_declined"
	case errors.Is(err, checkout.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "amount_mismatch"
	case errors.Is(err, gateway.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "payment_unavailable"
	case errors.Is(err, checkout.ErrPaymentUnavailable):
		return http.StatusBadGateway, "payment_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type cartView struct {
	ID         string         `json:"id,omitempty"`
	Currency   string         `json:"currency"`
	State      string         `json:"state"`
	LineItems  []lineItemView `json:"lineItems"`
	TotalItems int            `json:"totalItems"`
	TotalPrice int64          `json:"totalPrice"`
}

type lineItemView struct {
	ID          string   `json:"id"`
	ProductID   string   `json:"productId"`
	VariantID   string   `json:"variantId"`
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	VariantName string   `json:"variantName,omitempty"`
	Images      []string `json:"images,omitempty"`
	Quantity    int      `json:"quantity"`
	UnitPrice   int64    `json:"unitPrice"`
	Subtotal    int64    `json:"subtotal"`
}

func toCartView(cart domain.Cart) cartView {
	lines := make([]lineItemView, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		name := l.Snapshot.ProductName
		if name == "" {
			name = l.Snapshot.ProductKey
		}
		lines = append(lines, lineItemView{
			ID:          l.ID,
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			SKU:         l.Snapshot.SKU,
			Name:        name,
			VariantName: l.Snapshot.VariantName,
			Images:      l.Snapshot.Images,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Subtotal:    l.Subtotal,
		})
	}
	state := cart.State
	if state == "" {
		state = "active"
	}
	return cartView{
		ID:         cart.ID,
		Currency:   cart.Currency,
		State:      state,
		LineItems:  lines,
		TotalItems: cart.TotalItems(),
		TotalPrice: cart.TotalPrice,
	}
}

type productView struct {
	ID          string        `json:"id"`
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Currency    string        `json:"currency"`
	Images      []string      `json:"images,omitempty"`
	Variants    []variantView `json:"variants"`
}

// variantView leaves out cost, which is internal.
type variantView struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	SKU           string             `json:"sku"`
	Price         int64              `json:"price"`
	InStock       bool               `json:"inStock"`
	StockQuantity int                `json:"stockQuantity"`
	WeightGrams   int                `json:"weightGrams,omitempty"`
	Dimensions    *domain.Dimensions `json:"dimensions,omitempty"`
}

func toProductView(p domain.Product) productView {
	variants := make([]variantView, 0, len(p.Variants))
	for _, v := range p.Variants {
		variants = append(variants, variantView{
			ID:            v.ID,
			Name:          v.Name,
			SKU:           v.SKU,
			Price:         v.Price,
			InStock:       v.StockQuantity > 0,
			StockQuantity: v.StockQuantity,
			WeightGrams:   v.WeightGrams,
			Dimensions:    v.Dimensions,
		})
	}
	return productView{
		ID:          p.ID,
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
		Currency:    p.Currency,
		Images:      p.Images(),
		Variants:    variants,
	}
}

type orderView struct {
	OrderNumber      string               `json:"orderNumber"`
	OrderStatus      domain.OrderStatus   `json:"orderStatus"`
	PaymentStatus    domain.PaymentStatus `json:"paymentStatus"`
	PaymentMethod    string               `json:"paymentMethod"`
	PaymentInitiated bool                 `json:"paymentInitiated"`
	PaymentReference string               `json:"paymentReference,omitempty"`
	PaymentURL       string               `json:"paymentUrl,omitempty"`
	VANumber         string               `json:"vaNumber,omitempty"`
	QRString         string               `json:"qrString,omitempty"`
	Currency         string               `json:"currency"`
	Subtotal         int64                `json:"subtotal"`
	ShippingFee      int64                `json:"shippingFee"`
	Tax              int64                `json:"tax"`
	TotalAmount      int64                `json:"totalAmount"`
	ShippingAddress  domain.Address       `json:"shippingAddress"`
	BillingAddress   domain.Address       `json:"billingAddress"`
	Email            string               `json:"email"`
	Note             string               `json:"note,omitempty"`
	Items            []orderItemView      `json:"items"`
	PaidAt           *time.Time           `json:"paidAt,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
}

type orderItemView struct {
	SKU         string `json:"sku"`
	ProductName string `json:"productName"`
	VariantName string `json:"variantName,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Subtotal    int64  `json:"subtotal"`
}

func toOrderView(o domain.Order) orderView {
	items := make([]orderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemView{
			SKU:         it.SKU,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal,
		})
	}
	return orderView{
		OrderNumber:      o.OrderNumber,
		OrderStatus:      o.OrderStatus,
		PaymentStatus:    o.PaymentStatus,
		PaymentMethod:    o.PaymentMethod,
		PaymentInitiated: o.PaymentInitiated(),
		PaymentReference: deref(o.PaymentReference),
		PaymentURL:       deref(o.PaymentURL),
		VANumber:         deref(o.VANumber),
		QRString:         deref(o.QRString),
		Currency:         o.Currency,
		Subtotal:         o.Subtotal,
		ShippingFee:      o.ShippingFee,
		Tax:              o.Tax,
		TotalAmount:      o.TotalAmount,
		ShippingAddress:  o.ShippingAddress,
		BillingAddress:   o.BillingAddress,
		Email:            o.Email,
		Note:             o.Note,
		Items:            items,
		PaidAt:           o.PaidAt,
		CreatedAt:        o.CreatedAt,
	}
}

// confirmationView is what the return page may show to anyone holding the
// order number: statuses and amount, no addresses or contact details.
type confirmationView struct {
	OrderNumber   string               `json:"orderNumber"`
	OrderStatus   domain.OrderStatus   `json:"orderStatus"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	Outcome       checkout.Outcome     `json:"outcome"`
	TotalAmount   int64                `json:"totalAmount"`
	Currency      string               `json:"currency"`
}

func toConfirmationView(res *checkout.ReconcileResult) confirmationView {
	return confirmationView{
		OrderNumber:   res.Order.OrderNumber,
		OrderStatus:   res.Order.OrderStatus,
		PaymentStatus: res.Order.PaymentStatus,
		Outcome:       res.Outcome,
		TotalAmount:   res.Order.TotalAmount,
		Currency:      res.Order.Currency,
	}
}

type checkoutView struct {
	Order      orderView `json:"order"`
	PaymentURL string    `json:"paymentUrl,omitempty"`
	Reference  string    `json:"reference,omitempty"`
	VANumber   string    `json:"vaNumber,omitempty"`
	QRString   string    `json:"qrString,omitempty"`
}

func toCheckoutView(res *checkout.Result) checkoutView {
	return checkoutView{
		Order:      toOrderView(*res.Order),
		PaymentURL: res.PaymentURL,
		Reference:  res.Reference,
		VANumber:   res.VANumber,
		QRString:   res.QRString,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
