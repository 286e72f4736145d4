package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	customersvc "storefront/internal/service/customer"
)

type customerService interface {
	Signup(ctx context.Context, in customersvc.SignupInput) (*customersvc.Session, error)
	Login(ctx context.Context, email, password string) (*customersvc.Session, error)
	Get(ctx context.Context, id string) (*domain.Customer, error)
	Addresses(ctx context.Context, customerID string) ([]domain.Address, error)
	AddAddress(ctx context.Context, customerID string, a domain.Address, asDefault bool) (*domain.Customer, error)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type addAddressRequest struct {
	domain.Address
	Default bool `json:"default"`
}

type customerView struct {
	ID        string           `json:"id"`
	Email     string           `json:"email"`
	FirstName string           `json:"firstName,omitempty"`
	LastName  string           `json:"lastName,omitempty"`
	Phone     string           `json:"phone,omitempty"`
	Addresses []domain.Address `json:"addresses"`
	CreatedAt time.Time        `json:"createdAt"`
}

type authView struct {
	Customer    customerView `json:"customer"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"`
}

func toCustomerView(c domain.Customer) customerView {
	addresses := c.Addresses
	if addresses == nil {
		addresses = []domain.Address{}
	}
	return customerView{
		ID:        c.ID,
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Phone:     c.Phone,
		Addresses: addresses,
		CreatedAt: c.CreatedAt,
	}
}

func (h *handlers) toAuthView(s *customersvc.Session) authView {
	return authView{
		Customer:    toCustomerView(*s.Customer),
		AccessToken: s.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokenTTL.Seconds()),
	}
}

func (h *handlers) signup(c *gin.Context) {
	var req customersvc.SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	sess, err := h.customers.Signup(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusCreated, h.toAuthView(sess))
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	sess, err := h.customers.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusOK, h.toAuthView(sess))
}

func (h *handlers) me(c *gin.Context) {
	customer, err := h.customers.Get(c.Request.Context(), ownerFrom(c).CustomerID)
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusOK, toCustomerView(*customer))
}

func (h *handlers) listAddresses(c *gin.Context) {
	addresses, err := h.customers.Addresses(c.Request.Context(), ownerFrom(c).CustomerID)
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	if addresses == nil {
		addresses = []domain.Address{}
	}
	writeOK(c, http.StatusOK, addresses)
}

func (h *handlers) addAddress(c *gin.Context) {
	var req addAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	customer, err := h.customers.AddAddress(c.Request.Context(), ownerFrom(c).CustomerID, req.Address, req.Default)
	if err != nil {
		writeServiceError(c, err, nil)
		return
	}
	writeOK(c, http.StatusCreated, toCustomerView(*customer))
}

// requireCustomer rejects shoppers that are not authenticated with a bearer token.
func requireCustomer(c *gin.Context) {
	if ownerFrom(c).CustomerID == "" {
		abortWithError(c, http.StatusUnauthorized, "unauthorized", "customer login required")
		return
	}
	c.Next()
}
