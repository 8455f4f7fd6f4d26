// Package checkout drives the hosted payment widget that collects advance
// payments for approved marketplace bids.
package checkout

import (
	"context"
	"errors"
)

// ErrDismissed is returned when the payer closes the widget without paying.
var ErrDismissed = errors.New("payment dismissed")

type Prefill struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Options are the widget parameters. Amount, Currency and OrderID come from
// the backend's payment order; the rest is local configuration.
type Options struct {
	KeyID       string  `json:"key"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
	ThemeColor  string  `json:"-"`
}

// Result is what the widget reports on a successful payment.
type Result struct {
	PaymentID string `json:"razorpay_payment_id"`
	OrderID   string `json:"razorpay_order_id"`
	Signature string `json:"razorpay_signature"`
}

// Checkout opens the widget and blocks until the payer pays, dismisses it or
// ctx is done.
type Checkout interface {
	Open(ctx context.Context, opts Options) (Result, error)
}

// Func adapts a function to Checkout.
type Func func(ctx context.Context, opts Options) (Result, error)

func (f Func) Open(ctx context.Context, opts Options) (Result, error) {
	return f(ctx, opts)
}
