package domain

import "fmt"

// EnsureRequestTransition checks a marketplace request status change.
// awaiting_payment -> awaiting_payment is a payment retry with a fresh order.
func EnsureRequestTransition(from, to RequestStatus) error {
	switch from {
	case StatusPendingApproval:
		if to == StatusApproved || to == StatusRejected {
			return nil
		}
	case StatusApproved:
		if to == StatusAwaitingPayment {
			return nil
		}
	case StatusAwaitingPayment:
		if to == StatusAwaitingPayment || to == StatusPaid {
			return nil
		}
	case StatusPaid:
		if to == StatusFulfilled {
			return nil
		}
	}
	return fmt.Errorf("invalid request status transition %s -> %s", from, to)
}

func EnsureOfferTransition(from, to OfferStatus) error {
	if from == OfferDraft && to == OfferPublished {
		return nil
	}
	if from == to {
		return fmt.Errorf("parent offer already %s", to)
	}
	return fmt.Errorf("invalid offer status transition %s -> %s", from, to)
}

// Terminal reports whether no further transition leaves s.
func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusFulfilled
}
