package platform

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method is the payment rail a record was created on.
type Method string

const (
	MethodCard   Method = "card"
	MethodCrypto Method = "crypto"
	MethodBank   Method = "bank"
)

// PaymentRecord is the platform's view of one payment. Only the platform mutates it;
// the client keeps the last copy it fetched.
type PaymentRecord struct {
	PaymentID        string          `json:"payment_id,omitempty"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           Method          `json:"payment_method"`
	CardHolder       string          `json:"card_holder,omitempty"`
	MaskedCardNumber string          `json:"card_number,omitempty"`
}

// normalize lower-cases the method ("CARD" and "card" are both sent by the platform).
func (r *PaymentRecord) normalize(paymentID string) {
	if r.PaymentID == "" {
		r.PaymentID = paymentID
	}
	r.Method = Method(strings.ToLower(strings.TrimSpace(string(r.Method))))
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

// PaymentStep is one entry of the platform's processing history for a payment.
type PaymentStep struct {
	Step        string    `json:"step"`
	Status      string    `json:"status,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewCardRequest is the body of POST /payments/payment/{id}/new-card.
type NewCardRequest struct {
	CardNumber string `json:"card_number"`
	ExpiryDate string `json:"expiry_date"`
	CVV        string `json:"cvv"`
	CardHolder string `json:"card_holder"`
}

// CardPaymentRequest is the body of POST /payments/create-card-payment.
type CardPaymentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	CardHolder string          `json:"card_holder"`
	CardNumber string          `json:"card_number"`
	CardExpiry string          `json:"card_expiry"`
	CardCVV    string          `json:"card_cvv"`
}

// CryptoPaymentRequest is the body of POST /payments/create-crypto-payment.
type CryptoPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	CryptoType    string          `json:"crypto_type"`
	CryptoNetwork string          `json:"crypto_network"`
	WalletAddress string          `json:"wallet_address,omitempty"`
}

// BankPaymentRequest is the body of POST /payments/create-bank-payment.
type BankPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}
