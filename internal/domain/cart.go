package domain

import (
	"errors"
	"strings"
	"time"
)

// CartOwner identifies who a cart (and the order made from it) belongs to.
// Exactly one of CustomerID and SessionID is set.
type CartOwner struct {
	CustomerID string
	SessionID  string
}

// CustomerOwner returns an owner for an authenticated customer.
func CustomerOwner(customerID string) CartOwner {
	return CartOwner{CustomerID: strings.TrimSpace(customerID)}
}

// SessionOwner returns an owner for an anonymous visitor.
func SessionOwner(sessionID string) CartOwner {
	return CartOwner{SessionID: strings.TrimSpace(sessionID)}
}

// Validate enforces the customer XOR session invariant.
func (o CartOwner) Validate() error {
	hasCustomer := o.CustomerID != ""
	hasSession := o.SessionID != ""
	if hasCustomer == hasSession {
		return errors.New("cart owner must have exactly one of customer id or session id")
	}
	return nil
}

// Key is a stable string form usable for logging and rate limiting.
func (o CartOwner) Key() string {
	if o.CustomerID != "" {
		return "customer:" + o.CustomerID
	}
	return "session:" + o.SessionID
}

type Cart struct {
	ID         string     `json:"id"`
	CustomerID *string    `json:"customerId,omitempty"`
	SessionID  *string    `json:"-"`
	Currency   string     `json:"currency"`
	TotalPrice int64      `json:"totalPrice"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"createdAt"`
	Lines      []CartLine `json:"lineItems"`
}

// TotalItems sums the quantities of all lines.
func (c Cart) TotalItems() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

// OwnedBy reports whether the cart belongs to owner.
func (c Cart) OwnedBy(owner CartOwner) bool {
	if owner.CustomerID != "" {
		return c.CustomerID != nil && *c.CustomerID == owner.CustomerID
	}
	return owner.SessionID != "" && c.SessionID != nil && *c.SessionID == owner.SessionID
}

type CartLine struct {
	ID        string       `json:"id"`
	CartID    string       `json:"cartId"`
	ProductID string       `json:"productId"`
	VariantID string       `json:"variantId"`
	Quantity  int          `json:"quantity"`
	UnitPrice int64        `json:"unitPrice"`
	Subtotal  int64        `json:"subtotal"`
	Snapshot  LineSnapshot `json:"snapshot"`
	CreatedAt time.Time    `json:"createdAt"`
}

// LineSnapshot freezes catalog data at the moment a line was added.
type LineSnapshot struct {
	ProductKey  string   `json:"productKey,omitempty"`
	ProductName string   `json:"productName"`
	VariantName string   `json:"variantName,omitempty"`
	SKU         string   `json:"sku"`
	Images      []string `json:"images,omitempty"`
}
