package domain

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:  {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusFailed:   {PaymentStatusPaid},
	PaymentStatusPaid:     {PaymentStatusRefunded},
	PaymentStatusRefunded: {},
}

// CanTransitionTo reports whether a payment may move from s to target.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// PaymentSourcesFor lists every status from which target is reachable.
func PaymentSourcesFor(target PaymentStatus) []PaymentStatus {
	var out []PaymentStatus
	for _, from := range []PaymentStatus{PaymentStatusPending, PaymentStatusFailed, PaymentStatusPaid, PaymentStatusRefunded} {
		if from.CanTransitionTo(target) {
			out = append(out, from)
		}
	}
	return out
}

// Address is snapshotted onto the order at creation.
type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Problems lists the required fields of a that are blank, prefixed with field.
func (a Address) Problems(field string) []string {
	var out []string
	for _, f := range []struct{ name, value string }{
		{"fullName", a.FullName},
		{"street", a.Street},
		{"city", a.City},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, field+"."+f.name+" required")
		}
	}
	return out
}

// Order is the durable record of a checkout attempt. OrderNumber is the
// gateway-facing identifier and never changes after creation.
type Order struct {
	ID               string        `json:"id"`
	OrderNumber      string        `json:"orderNumber"`
	CustomerID       *string       `json:"customerId,omitempty"`
	SessionID        *string       `json:"-"`
	Currency         string        `json:"currency"`
	Subtotal         int64         `json:"subtotal"`
	ShippingFee      int64         `json:"shippingFee"`
	Tax              int64         `json:"tax"`
	TotalAmount      int64         `json:"totalAmount"`
	OrderStatus      OrderStatus   `json:"orderStatus"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	PaymentMethod    string        `json:"paymentMethod"`
	PaymentReference *string       `json:"paymentReference,omitempty"`
	PaymentURL       *string       `json:"paymentUrl,omitempty"`
	VANumber         *string       `json:"vaNumber,omitempty"`
	QRString         *string       `json:"qrString,omitempty"`
	ShippingAddress  Address       `json:"shippingAddress"`
	BillingAddress   Address       `json:"billingAddress"`
	Email            string        `json:"email"`
	Phone            string        `json:"phone,omitempty"`
	Note             string        `json:"note,omitempty"`
	Items            []OrderItem   `json:"items,omitempty"`
	PaidAt           *time.Time    `json:"paidAt,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// PaymentInitiated reports whether the gateway reference was persisted.
func (o Order) PaymentInitiated() bool {
	return o.PaymentReference != nil && *o.PaymentReference != ""
}

// OwnedBy reports whether the order was placed by owner.
func (o Order) OwnedBy(owner CartOwner) bool {
	if owner.CustomerID != "" {
		return o.CustomerID != nil && *o.CustomerID == owner.CustomerID
	}
	return owner.SessionID != "" && o.SessionID != nil && *o.SessionID == owner.SessionID
}

// OrderItem keeps name snapshots so historical orders render after the
// catalog entry is edited or deleted.
type OrderItem struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	ProductID   string    `json:"productId"`
	VariantID   string    `json:"variantId"`
	SKU         string    `json:"sku"`
	ProductName string    `json:"productName"`
	VariantName string    `json:"variantName,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unitPrice"`
	Subtotal    int64     `json:"subtotal"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ReturnCode is the result code carried by the browser return redirect.
type ReturnCode string

const (
	ReturnCodeSuccess   ReturnCode = "00"
	ReturnCodePending   ReturnCode = "01"
	ReturnCodeCancelled ReturnCode = "02"
)

// Valid reports whether c is a known return code.
func (c ReturnCode) Valid() bool {
	switch c {
	case ReturnCodeSuccess, ReturnCodePending, ReturnCodeCancelled:
		return true
	}
	return false
}

// CallbackCode is the result code carried by the server-to-server callback.
// It is a different enumeration from ReturnCode: "01" means failed here.
type CallbackCode string

const (
	CallbackCodeSuccess CallbackCode = "00"
	CallbackCodeFailed  CallbackCode = "01"
)

// Valid reports whether c is a known callback code.
func (c CallbackCode) Valid() bool {
	return c == CallbackCodeSuccess || c == CallbackCodeFailed
}
