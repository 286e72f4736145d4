package order

import (
	"context"

	"storefront/internal/domain"
)

// StatusTransition is a partial update guarded on the current payment status.
// The update applies only when the stored payment status is one of
// AllowedFrom; empty optional fields leave the column unchanged.
type StatusTransition struct {
	PaymentStatus    domain.PaymentStatus
	OrderStatus      domain.OrderStatus
	PaymentReference string
	AllowedFrom      []domain.PaymentStatus
}

// PaymentDetails is what the gateway returned for a created transaction.
type PaymentDetails struct {
	Reference  string
	PaymentURL string
	VANumber   string
	QRString   string
}

type Repository interface {
	// Create persists the order and its items in one transaction. A taken
	// order number yields domain.ErrAlreadyExists.
	Create(ctx context.Context, order domain.Order) (*domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	// TransitionStatus reports changed=false with the current order when the
	// guard did not match, so exactly one concurrent caller wins a transition.
	TransitionStatus(ctx context.Context, orderID string, t StatusTransition) (order *domain.Order, changed bool, err error)
	SetPaymentDetails(ctx context.Context, orderID string, d PaymentDetails) (*domain.Order, error)
}
