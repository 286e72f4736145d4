// Package signature computes and verifies the payment gateway's keyed-hash
// signatures. The gateway concatenates the same fields and hashes them on its
// side, so the concatenation order and decimal rendering must match byte for
// byte.
package signature

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

// TransactionRequest signs an inquiry: MD5(merchantCode + orderNumber + amount + secret).
func TransactionRequest(merchantCode, orderNumber string, amount int64, secret string) string {
	return md5Hex(merchantCode + orderNumber + strconv.FormatInt(amount, 10) + secret)
}

// StatusCheck signs a transaction status inquiry. The protocol uses amount 0.
func StatusCheck(merchantCode, orderNumber, secret string) string {
	return TransactionRequest(merchantCode, orderNumber, 0, secret)
}

// Callback computes MD5(merchantCode + amount + orderNumber + secret). amount is
// the value exactly as it appeared on the wire.
func Callback(merchantCode, amount, orderNumber, secret string) string {
	return md5Hex(merchantCode + amount + orderNumber + secret)
}

// VerifyCallback recomputes the callback signature and compares it with
// supplied. The comparison is exact and case-sensitive.
func VerifyCallback(merchantCode, amount, orderNumber, secret, supplied string) bool {
	if supplied == "" {
		return false
	}
	expected := Callback(merchantCode, amount, orderNumber, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// PaymentMethods signs a payment-method listing:
// SHA256(merchantCode + amount + datetime + secret).
func PaymentMethods(merchantCode string, amount int64, datetime, secret string) string {
	sum := sha256.Sum256([]byte(merchantCode + strconv.FormatInt(amount, 10) + datetime + secret))
	return hex.EncodeToString(sum[:])
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
