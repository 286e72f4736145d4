package gateway

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrIntegration marks transport-level failures (unreachable, timeout,
// non-2xx, undecodable body, breaker open). These are safe to retry.
var ErrIntegration = errors.New("payment gateway unavailable")

// ErrCircuitOpen is wrapped together with ErrIntegration when the breaker
// refused the call without contacting the gateway.
var ErrCircuitOpen = errors.New("gateway circuit open")

// StatusSuccess is the gateway's success code in a 2xx response body.
const StatusSuccess = "00"

// StatusError is a business failure: the gateway answered 2xx but refused
// the request. It is not retryable.
type StatusError struct {
	Operation string
	Code      string
	Message   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s declined: %s %s", e.Operation, e.Code, e.Message)
}

// RoundAmount converts a money amount to the integer value that is both
// signed and transmitted. The gateway accepts no fractional units.
func RoundAmount(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}

type Address struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName,omitempty"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PostalCode  string `json:"postalCode"`
	Phone       string `json:"phone,omitempty"`
	CountryCode string `json:"countryCode"`
}

type Customer struct {
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName,omitempty"`
	Email           string   `json:"email"`
	PhoneNumber     string   `json:"phoneNumber,omitempty"`
	BillingAddress  *Address `json:"billingAddress,omitempty"`
	ShippingAddress *Address `json:"shippingAddress,omitempty"`
}

// Item is one line of itemDetails. Price is the line total.
type Item struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type TransactionRequest struct {
	OrderNumber      string
	Amount           decimal.Decimal
	PaymentMethod    string
	ProductDetails   string
	Customer         Customer
	Items            []Item
	AdditionalParam  string
	MerchantUserInfo string
}

// Transaction is the gateway's answer to a successful inquiry.
type Transaction struct {
	Reference     string
	PaymentURL    string
	VANumber      string
	QRString      string
	Amount        int64
	StatusCode    string
	StatusMessage string
}

// TransactionStatus is the decoded status-check payload.
type TransactionStatus struct {
	MerchantOrderID string `json:"merchantOrderId"`
	Reference       string `json:"reference"`
	Amount          string `json:"amount"`
	Fee             string `json:"fee"`
	StatusCode      string `json:"statusCode"`
	StatusMessage   string `json:"statusMessage"`
}

// Transaction status codes reported by the status-check endpoint.
const (
	TransactionStatusSuccess   = "00"
	TransactionStatusPending   = "01"
	TransactionStatusCancelled = "02"
)

// Paid reports whether the gateway considers the transaction settled.
func (s TransactionStatus) Paid() bool {
	return s.StatusCode == TransactionStatusSuccess
}

type PaymentMethod struct {
	Code     string `json:"paymentMethod"`
	Name     string `json:"paymentName"`
	ImageURL string `json:"paymentImage"`
	TotalFee string `json:"totalFee"`
}

type inquiryRequest struct {
	MerchantCode     string    `json:"merchantCode"`
	PaymentAmount    int64     `json:"paymentAmount"`
	PaymentMethod    string    `json:"paymentMethod"`
	MerchantOrderID  string    `json:"merchantOrderId"`
	ProductDetails   string    `json:"productDetails"`
	AdditionalParam  string    `json:"additionalParam,omitempty"`
	MerchantUserInfo string    `json:"merchantUserInfo,omitempty"`
	CustomerVaName   string    `json:"customerVaName,omitempty"`
	Email            string    `json:"email"`
	PhoneNumber      string    `json:"phoneNumber,omitempty"`
	ItemDetails      []Item    `json:"itemDetails,omitempty"`
	CustomerDetail   *Customer `json:"customerDetail,omitempty"`
	CallbackURL      string    `json:"callbackUrl"`
	ReturnURL        string    `json:"returnUrl"`
	Signature        string    `json:"signature"`
	ExpiryPeriod     int       `json:"expiryPeriod"`
}

type inquiryResponse struct {
	MerchantCode  string `json:"merchantCode"`
	Reference     string `json:"reference"`
	PaymentURL    string `json:"paymentUrl"`
	VANumber      string `json:"vaNumber"`
	QRString      string `json:"qrString"`
	Amount        string `json:"amount"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

type statusRequest struct {
	MerchantCode    string `json:"merchantCode"`
	MerchantOrderID string `json:"merchantOrderId"`
	Signature       string `json:"signature"`
}

type paymentMethodsRequest struct {
	MerchantCode string `json:"merchantcode"`
	Amount       int64  `json:"amount"`
	Datetime     string `json:"datetime"`
	Signature    string `json:"signature"`
}

type paymentMethodsResponse struct {
	PaymentFee      []PaymentMethod `json:"paymentFee"`
	ResponseCode    string          `json:"responseCode"`
	ResponseMessage string          `json:"responseMessage"`
}
