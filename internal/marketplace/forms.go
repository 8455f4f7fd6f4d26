package marketplace

import (
	"math"
	"strconv"
	"strings"
)

const (
	defaultUnit     = "kg"
	defaultCurrency = "INR"
)

// OfferForm is the raw producer input for a harvest lot.
type OfferForm struct {
	ProductType   string `json:"productType"`
	Unit          string `json:"unit"`
	BasePrice     string `json:"basePrice"`
	TotalQuantity string `json:"totalQuantity"`
	Currency      string `json:"currency"`
	Notes         string `json:"notes"`
}

func NewOfferForm() OfferForm {
	return OfferForm{Unit: defaultUnit, Currency: defaultCurrency}
}

type BidForm struct {
	ParentID string `json:"parentId"`
	Quantity string `json:"quantity"`
	BidPrice string `json:"bidPrice"`
}

// PaymentForm is the manual fallback when the checkout callback never arrived.
type PaymentForm struct {
	RequestID string `json:"requestId"`
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
}

type FulfillForm struct {
	RequestID    string `json:"requestId"`
	ChildBatchID string `json:"childBatchId"`
	ProductType  string `json:"productType"`
}

// ValidationError is a local input failure; no request was sent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// nonNegative parses s as a number >= 0.
func nonNegative(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
