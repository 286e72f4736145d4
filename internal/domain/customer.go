package domain

import "time"

// Customer is a registered shopper. The first saved address is the default
// shipping address.
type Customer struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Addresses    []Address `json:"addresses"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DefaultAddress returns the address used when checkout omits one.
func (c Customer) DefaultAddress() (Address, bool) {
	if len(c.Addresses) == 0 {
		return Address{}, false
	}
	return c.Addresses[0], true
}
