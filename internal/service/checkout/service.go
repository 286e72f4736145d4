// Package checkout turns carts into orders, initiates gateway payments and
// reconciles payment outcomes against order state.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	orderrepo "storefront/internal/repository/order"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrPaymentDeclined    = errors.New("payment declined by gateway")
	ErrPaymentUnavailable = errors.New("payment could not be initiated")
	ErrUnknownResultCode  = errors.New("unknown payment result code")
	ErrAmountMismatch     = errors.New("payment amount does not match order total")
	ErrNotPayable         = errors.New("order is not awaiting payment")
)

const defaultSettleTimeout = 30 * time.Second

type cartService interface {
	GetActive(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	RemoveOrdered(ctx context.Context, cartID string, lines []domain.CartLine) error
}

type orderRepo interface {
	Create(ctx context.Context, order domain.Order) (*domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	TransitionStatus(ctx context.Context, orderID string, t orderrepo.StatusTransition) (*domain.Order, bool, error)
	SetPaymentDetails(ctx context.Context, orderID string, d orderrepo.PaymentDetails) (*domain.Order, error)
}

type paymentGateway interface {
	CreateTransaction(ctx context.Context, req gateway.TransactionRequest) (*gateway.Transaction, error)
	CheckTransactionStatus(ctx context.Context, orderNumber string) (*gateway.TransactionStatus, error)
	ListPaymentMethods(ctx context.Context, amount int64) ([]gateway.PaymentMethod, error)
}

type stockAdjuster interface {
	DecreaseStock(ctx context.Context, productID, variantID string, quantity int) error
}

type addressBook interface {
	Addresses(ctx context.Context, customerID string) ([]domain.Address, error)
}

type Pricing struct {
	Currency    string
	ShippingFee int64
	TaxRate     decimal.Decimal
}

type Service struct {
	carts     cartService
	orders    orderRepo
	gateway   paymentGateway
	inventory stockAdjuster
	addresses addressBook
	pricing   Pricing
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	settle    time.Duration // bound for work that outlives the caller's context
}

func New(carts cartService, orders orderRepo, gw paymentGateway, inventory stockAdjuster, pricing Pricing, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		carts:     carts,
		orders:    orders,
		gateway:   gw,
		inventory: inventory,
		pricing:   pricing,
		logger:    logging.OrNop(logger).Named("checkout"),
		metrics:   m,
		now:       time.Now,
		settle:    defaultSettleTimeout,
	}
}

// detach keeps ctx values but drops its cancellation, bounded by s.settle.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.settle)
}

// WithAddressBook lets customer checkouts without a shipping address fall
// back to the customer's default saved address.
func (s *Service) WithAddressBook(book addressBook) *Service {
	s.addresses = book
	return s
}

type Input struct {
	PaymentMethod   string          `json:"paymentMethod"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
	ShippingAddress domain.Address  `json:"shippingAddress"`
	BillingAddress  *domain.Address `json:"billingAddress,omitempty"`
	Note            string          `json:"note"`
}

func (in Input) validate() error {
	var problems []string
	if strings.TrimSpace(in.PaymentMethod) == "" {
		problems = append(problems, "paymentMethod required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.Email)); err != nil {
		problems = append(problems, "valid email required")
	}
	problems = append(problems, in.ShippingAddress.Problems("shippingAddress")...)
	if in.BillingAddress != nil {
		problems = append(problems, in.BillingAddress.Problems("billingAddress")...)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Result is what the shopper needs to complete payment. On a gateway
// failure the Result still carries the persisted, unpaid order.
type Result struct {
	Order      *domain.Order `json:"order"`
	PaymentURL string        `json:"paymentUrl,omitempty"`
	Reference  string        `json:"reference,omitempty"`
	VANumber   string        `json:"vaNumber,omitempty"`
	QRString   string        `json:"qrString,omitempty"`
}

// ProcessCheckout converts the owner's cart into an order and initiates the
// gateway transaction for it. Totals are computed here from line prices.
func (s *Service) ProcessCheckout(ctx context.Context, owner domain.CartOwner, in Input) (*Result, error) {
	if err := owner.Validate(); err != nil {
		s.metrics.RecordCheckout("invalid")
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	in = s.withSavedAddress(ctx, owner, in)
	if err := in.validate(); err != nil {
		s.metrics.RecordCheckout("invalid")
		return nil, err
	}

	cart, err := s.carts.GetActive(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && len(cart.Lines) == 0) {
		s.metrics.RecordCheckout("empty_cart")
		return nil, ErrEmptyCart
	}
	if err != nil {
		s.metrics.RecordCheckout("error")
		return nil, fmt.Errorf("load cart: %w", err)
	}

	draft, err := s.buildOrder(owner, cart, in)
	if err != nil {
		s.metrics.RecordCheckout("invalid")
		return nil, err
	}

	// The order and everything after it outlive the shopper's request.
	ctx, cancel := s.detach(ctx)
	defer cancel()

	order, err := s.createOrder(ctx, draft)
	if err != nil {
		s.metrics.RecordCheckout("error")
		return nil, fmt.Errorf("create order: %w", err)
	}
	log := s.logger.With(zap.String("order_number", order.OrderNumber), zap.String("owner", owner.Key()))
	log.Info("order created", zap.Int64("total_amount", order.TotalAmount), zap.Int("items", len(order.Items)))

	res, err := s.initiatePayment(ctx, order, in.Phone)
	if err != nil {
		return res, err
	}

	if err := s.carts.RemoveOrdered(ctx, cart.ID, cart.Lines); err != nil {
		log.Error("remove ordered lines from cart", zap.String("cart_id", cart.ID), zap.Error(err))
	}
	return res, nil
}

// RetryPayment re-initiates the gateway transaction for an owned order whose
// first initiation never produced a payment reference.
func (s *Service) RetryPayment(ctx context.Context, owner domain.CartOwner, orderNumber string) (*Result, error) {
	order, err := s.GetOrder(ctx, owner, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != domain.PaymentStatusPending || order.PaymentInitiated() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPayable, order.OrderNumber, order.PaymentStatus)
	}
	ctx, cancel := s.detach(ctx)
	defer cancel()
	return s.initiatePayment(ctx, order, order.Phone)
}

// GetOrder returns an order only to the owner who placed it.
func (s *Service) GetOrder(ctx context.Context, owner domain.CartOwner, orderNumber string) (*domain.Order, error) {
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	order, err := s.orders.FindByOrderNumber(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(owner) {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

// PaymentMethods lists the gateway methods available for amount.
func (s *Service) PaymentMethods(ctx context.Context, amount int64) ([]gateway.PaymentMethod, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	methods, err := s.gateway.ListPaymentMethods(ctx, amount)
	if err != nil {
		return nil, mapGatewayError(err)
	}
	return methods, nil
}

func (s *Service) withSavedAddress(ctx context.Context, owner domain.CartOwner, in Input) Input {
	if s.addresses == nil || owner.CustomerID == "" || in.ShippingAddress != (domain.Address{}) {
		return in
	}
	saved, err := s.addresses.Addresses(ctx, owner.CustomerID)
	if err != nil {
		s.logger.Warn("load saved addresses", zap.String("customer_id", owner.CustomerID), zap.Error(err))
		return in
	}
	if len(saved) > 0 {
		in.ShippingAddress = saved[0]
	}
	return in
}

func (s *Service) buildOrder(owner domain.CartOwner, cart *domain.Cart, in Input) (domain.Order, error) {
	var subtotal int64
	items := make([]domain.OrderItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: line %s has quantity %d", domain.ErrValidation, line.ID, line.Quantity)
		}
		lineTotal := line.UnitPrice * int64(line.Quantity)
		subtotal += lineTotal
		items = append(items, domain.OrderItem{
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			SKU:         line.Snapshot.SKU,
			ProductName: line.Snapshot.ProductName,
			VariantName: line.Snapshot.VariantName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    lineTotal,
		})
	}

	tax := gateway.RoundAmount(decimal.NewFromInt(subtotal).Mul(s.pricing.TaxRate))
	billing := in.ShippingAddress
	if in.BillingAddress != nil {
		billing = *in.BillingAddress
	}
	currency := cart.Currency
	if currency == "" {
		currency = s.pricing.Currency
	}

	o := domain.Order{
		Currency:        currency,
		Subtotal:        subtotal,
		ShippingFee:     s.pricing.ShippingFee,
		Tax:             tax,
		TotalAmount:     subtotal + s.pricing.ShippingFee + tax,
		OrderStatus:     domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   strings.TrimSpace(in.PaymentMethod),
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  billing,
		Email:           strings.TrimSpace(in.Email),
		Phone:           strings.TrimSpace(in.Phone),
		Note:            strings.TrimSpace(in.Note),
		Items:           items,
	}
	if owner.CustomerID != "" {
		id := owner.CustomerID
		o.CustomerID = &id
	} else {
		id := owner.SessionID
		o.SessionID = &id
	}
	return o, nil
}

func (s *Service) createOrder(ctx context.Context, draft domain.Order) (*domain.Order, error) {
	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		draft.OrderNumber = GenerateOrderNumber(s.now())
		order, err := s.orders.Create(ctx, draft)
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.logger.Warn("order number collision", zap.String("order_number", draft.OrderNumber), zap.Int("attempt", attempt))
			continue
		}
		return order, err
	}
	return nil, fmt.Errorf("allocate order number: %w", domain.ErrAlreadyExists)
}

func (s *Service) initiatePayment(ctx context.Context, order *domain.Order, phone string) (*Result, error) {
	log := s.logger.With(zap.String("order_number", order.OrderNumber))

	tx, err := s.gateway.CreateTransaction(ctx, transactionRequest(order, phone))
	if err != nil {
		mapped := mapGatewayError(err)
		if errors.Is(mapped, ErrPaymentDeclined) {
			s.metrics.RecordCheckout("declined")
		} else {
			s.metrics.RecordCheckout("unavailable")
		}
		log.Warn("payment initiation failed, order left unpaid", zap.Error(err))
		return &Result{Order: order}, mapped
	}

	updated, err := s.orders.SetPaymentDetails(ctx, order.ID, orderrepo.PaymentDetails{
		Reference:  tx.Reference,
		PaymentURL: tx.PaymentURL,
		VANumber:   tx.VANumber,
		QRString:   tx.QRString,
	})
	if err != nil {
		s.metrics.RecordCheckout("error")
		log.Error("persist payment reference", zap.String("reference", tx.Reference), zap.Error(err))
		return &Result{Order: order}, fmt.Errorf("persist payment reference: %w", err)
	}

	s.metrics.RecordCheckout("initiated")
	log.Info("payment initiated", zap.String("reference", tx.Reference))
	return &Result{
		Order:      updated,
		PaymentURL: tx.PaymentURL,
		Reference:  tx.Reference,
		VANumber:   tx.VANumber,
		QRString:   tx.QRString,
	}, nil
}

// transactionRequest itemises the order so the item prices sum to the
// charged amount, which the gateway checks.
func transactionRequest(order *domain.Order, phone string) gateway.TransactionRequest {
	items := make([]gateway.Item, 0, len(order.Items)+2)
	for _, it := range order.Items {
		name := it.ProductName
		if it.VariantName != "" {
			name += " - " + it.VariantName
		}
		items = append(items, gateway.Item{Name: name, Price: it.Subtotal, Quantity: it.Quantity})
	}
	if order.ShippingFee > 0 {
		items = append(items, gateway.Item{Name: "Shipping", Price: order.ShippingFee, Quantity: 1})
	}
	if order.Tax > 0 {
		items = append(items, gateway.Item{Name: "Tax", Price: order.Tax, Quantity: 1})
	}

	first, last := splitName(order.ShippingAddress.FullName)
	ship := gatewayAddress(order.ShippingAddress)
	bill := gatewayAddress(order.BillingAddress)
	return gateway.TransactionRequest{
		OrderNumber:    order.OrderNumber,
		Amount:         decimal.NewFromInt(order.TotalAmount),
		PaymentMethod:  order.PaymentMethod,
		ProductDetails: "Order " + order.OrderNumber,
		Customer: gateway.Customer{
			FirstName:       first,
			LastName:        last,
			Email:           order.Email,
			PhoneNumber:     phone,
			BillingAddress:  &bill,
			ShippingAddress: &ship,
		},
		Items: items,
	}
}

func gatewayAddress(a domain.Address) gateway.Address {
	first, last := splitName(a.FullName)
	return gateway.Address{
		FirstName:   first,
		LastName:    last,
		Address:     a.Street,
		City:        a.City,
		PostalCode:  a.PostalCode,
		Phone:       a.Phone,
		CountryCode: a.Country,
	}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func mapGatewayError(err error) error {
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("%w: %s", ErrPaymentDeclined, statusErr.Message)
	}
	return fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
}
