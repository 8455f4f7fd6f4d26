package marketplace

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"freshchain/internal/domain"
	freshchainsdk "freshchain/sdk/go"
)

// RequestAction is an affordance offered on a single request.
type RequestAction string

const (
	ActionApprove        RequestAction = "approve"
	ActionReject         RequestAction = "reject"
	ActionPay            RequestAction = "pay"
	ActionRetryPayment   RequestAction = "retry_payment"
	ActionConfirmPayment RequestAction = "confirm_payment"
	ActionFulfill        RequestAction = "fulfill"
)

type OfferView struct {
	freshchainsdk.ParentOffer
	CanPublish bool `json:"canPublish"`
	CanBid     bool `json:"canBid"`
}

type RequestView struct {
	freshchainsdk.MarketplaceRequest
	StatusLabel   string          `json:"statusLabel"`
	AdvanceAmount decimal.Decimal `json:"advanceAmount"`
	PaymentNote   string          `json:"paymentNote,omitempty"`
	Actions       []RequestAction `json:"actions"`
}

// View is a deterministic projection of the last fetched state. Rendering it
// twice from the same fetch yields the same value.
type View struct {
	Role         domain.Role                       `json:"role"`
	Drafts       []OfferView                       `json:"drafts"`
	Published    []OfferView                       `json:"published"`
	Requests     []RequestView                     `json:"requests"`
	Fulfilled    int                               `json:"fulfilled"`
	Error        string                            `json:"error,omitempty"`
	Success      string                            `json:"success,omitempty"`
	InFlight     []string                          `json:"inFlight,omitempty"`
	PaymentOrder *freshchainsdk.PaymentOrderResult `json:"paymentOrder,omitempty"`
	OfferForm    OfferForm                         `json:"offerForm"`
	BidForm      BidForm                           `json:"bidForm"`
	PaymentForm  PaymentForm                       `json:"paymentForm"`
	FulfillForm  FulfillForm                       `json:"fulfillForm"`
}

func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := View{
		Role:        w.user.Role,
		Drafts:      []OfferView{},
		Published:   []OfferView{},
		Requests:    make([]RequestView, 0, len(w.requests)),
		Error:       w.errMsg,
		Success:     w.success,
		OfferForm:   w.offerForm,
		BidForm:     w.bidForm,
		PaymentForm: w.payForm,
		FulfillForm: w.fulfill,
	}
	for _, o := range w.offers {
		ov := OfferView{ParentOffer: o}
		if o.Status == string(domain.OfferPublished) {
			ov.CanBid = w.profile.Allows(domain.ActionSubmitBid)
			v.Published = append(v.Published, ov)
			continue
		}
		ov.CanPublish = w.profile.Allows(domain.ActionPublishOffer)
		v.Drafts = append(v.Drafts, ov)
	}
	for _, r := range w.requests {
		if r.Status == string(domain.StatusFulfilled) {
			v.Fulfilled++
		}
		v.Requests = append(v.Requests, RequestView{
			MarketplaceRequest: r,
			StatusLabel:        StatusLabel(r.Status),
			AdvanceAmount:      AdvanceAmount(r),
			PaymentNote:        paymentNote(r.Payment),
			Actions:            requestActions(w.profile, domain.RequestStatus(r.Status)),
		})
	}
	for id := range w.inFlight {
		v.InFlight = append(v.InFlight, id)
	}
	sort.Strings(v.InFlight)
	if w.lastOrder != nil {
		order := *w.lastOrder
		v.PaymentOrder = &order
	}
	return v
}

// requestActions lists what the viewer may request next for a request in
// status s.
func requestActions(p domain.Profile, s domain.RequestStatus) []RequestAction {
	var out []RequestAction
	add := func(a domain.Action, ra ...RequestAction) {
		if p.Allows(a) {
			out = append(out, ra...)
		}
	}
	switch s {
	case domain.StatusPendingApproval:
		add(domain.ActionApproveBid, ActionApprove)
		add(domain.ActionRejectBid, ActionReject)
	case domain.StatusApproved:
		add(domain.ActionCreatePaymentOrder, ActionPay)
	case domain.StatusAwaitingPayment:
		add(domain.ActionCreatePaymentOrder, ActionRetryPayment)
		add(domain.ActionConfirmPayment, ActionConfirmPayment)
	case domain.StatusPaid:
		add(domain.ActionFulfillBid, ActionFulfill)
	}
	return out
}

// AdvanceAmount is quantity x bid price x advance percent, rounded to two
// decimals in the request currency.
func AdvanceAmount(r freshchainsdk.MarketplaceRequest) decimal.Decimal {
	return decimal.NewFromFloat(r.Quantity).
		Mul(decimal.NewFromFloat(r.BidPrice)).
		Mul(decimal.NewFromFloat(r.AdvancePercent)).
		Round(2)
}

// StatusLabel renders a status for display, pending_approval as PENDING APPROVAL.
func StatusLabel(status string) string {
	return strings.ToUpper(strings.ReplaceAll(status, "_", " "))
}

func paymentNote(p *freshchainsdk.PaymentInfo) string {
	if p == nil {
		return ""
	}
	if p.Status == string(domain.StatusPaid) {
		return "Paid " + decimal.New(p.Amount, -2).String() + " " + p.Currency
	}
	if p.OrderID != "" {
		return "Order: " + p.OrderID
	}
	return ""
}
