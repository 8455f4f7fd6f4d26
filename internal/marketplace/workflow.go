// Package marketplace orchestrates the parent offer and bid lifecycle against
// the backend. The backend owns every status transition; the workflow only
// requests them and refetches the resulting state.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freshchain/internal/checkout"
	"freshchain/internal/domain"
	freshchainsdk "freshchain/sdk/go"
)

// ErrActionInFlight is returned when the same action is already running.
var ErrActionInFlight = errors.New("action already in flight")

// ErrCheckoutUnavailable is returned by CreatePaymentOrder without a checkout.
var ErrCheckoutUnavailable = errors.New("payment checkout not loaded")

// Gateway is the slice of the backend client the workflow needs.
type Gateway interface {
	ListParentOffers(ctx context.Context, status string) freshchainsdk.Response[[]freshchainsdk.ParentOffer]
	CreateParentOffer(ctx context.Context, payload freshchainsdk.ParentOfferPayload) freshchainsdk.Response[freshchainsdk.ParentOffer]
	PublishParentOffer(ctx context.Context, parentID string) freshchainsdk.Response[freshchainsdk.ParentOffer]
	ListMarketplaceRequests(ctx context.Context, parentID string) freshchainsdk.Response[[]freshchainsdk.MarketplaceRequest]
	CreateMarketplaceRequest(ctx context.Context, payload freshchainsdk.RetailerBidPayload) freshchainsdk.Response[freshchainsdk.MarketplaceRequest]
	ApproveMarketplaceRequest(ctx context.Context, requestID string) freshchainsdk.Response[freshchainsdk.MarketplaceRequest]
	RejectMarketplaceRequest(ctx context.Context, requestID string) freshchainsdk.Response[freshchainsdk.MarketplaceRequest]
	CreateMarketplacePaymentOrder(ctx context.Context, requestID string) freshchainsdk.Response[freshchainsdk.PaymentOrderResult]
	ConfirmMarketplacePayment(ctx context.Context, requestID string, payload freshchainsdk.PaymentConfirmationPayload) freshchainsdk.Response[freshchainsdk.MarketplaceRequest]
	FulfillMarketplaceRequest(ctx context.Context, requestID string, payload freshchainsdk.FulfillBidPayload) freshchainsdk.Response[freshchainsdk.MarketplaceRequest]
}

// PaymentSettings are the local checkout parameters.
type PaymentSettings struct {
	KeyID        string
	MerchantName string
	ThemeColor   string
}

const (
	msgOfferFields      = "Fill in all offer fields before publishing."
	msgOfferNumbers     = "Base price and total quantity must be non-negative numbers."
	msgBidFields        = "Select an offer and enter bid details."
	msgBidNumbers       = "Quantity and bid price must be non-negative numbers."
	msgCheckoutMissing  = "Payment checkout not loaded. Configure a payment key and retry."
	msgPaymentFields    = "Provide both payment order ID and payment ID."
	msgFulfillFields    = "Enter a child batch ID before fulfilling a request."
	msgPaymentCancelled = "Payment cancelled. You can retry anytime."
)

type Workflow struct {
	gw       Gateway
	user     domain.User
	profile  domain.Profile
	checkout checkout.Checkout
	payment  PaymentSettings
	log      *zap.Logger
	newKey   func() string

	mu        sync.Mutex
	offers    []freshchainsdk.ParentOffer
	requests  []freshchainsdk.MarketplaceRequest
	errMsg    string
	success   string
	inFlight  map[string]struct{}
	lastOrder *freshchainsdk.PaymentOrderResult
	offerForm OfferForm
	bidForm   BidForm
	payForm   PaymentForm
	fulfill   FulfillForm
}

// New builds a workflow for user. co may be nil, in which case payment orders
// cannot be opened.
func New(gw Gateway, user domain.User, co checkout.Checkout, payment PaymentSettings, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if payment.MerchantName == "" {
		payment.MerchantName = "FreshChain Marketplace"
	}
	if payment.ThemeColor == "" {
		payment.ThemeColor = "#14b8a6"
	}
	return &Workflow{
		gw:        gw,
		user:      user,
		profile:   domain.RoleProfile(user.Role),
		checkout:  co,
		payment:   payment,
		log:       logger.With(zap.String("user", user.Username), zap.String("role", string(user.Role))),
		newKey:    uuid.NewString,
		inFlight:  map[string]struct{}{},
		offerForm: NewOfferForm(),
	}
}

// Load replaces the cached offers and requests with a fresh fetch. Retailers
// only see published offers. On failure the previous lists are kept.
func (w *Workflow) Load(ctx context.Context) error {
	status := ""
	if w.user.Role == domain.RoleRetailer {
		status = string(domain.OfferPublished)
	}
	offersRes := w.gw.ListParentOffers(ctx, status)
	requestsRes := w.gw.ListMarketplaceRequests(ctx, "")

	w.mu.Lock()
	defer w.mu.Unlock()
	w.errMsg = ""
	var loadErr error
	if err := offersRes.Err(); err != nil {
		w.errMsg = messageOr(offersRes.Error, "Failed to load parent batches")
		loadErr = err
	} else {
		w.offers = offersRes.Data
	}
	if err := requestsRes.Err(); err != nil {
		if w.errMsg == "" {
			w.errMsg = messageOr(requestsRes.Error, "Failed to load requests")
		}
		if loadErr == nil {
			loadErr = err
		}
	} else {
		w.requests = requestsRes.Data
	}
	if loadErr != nil {
		w.log.Warn("marketplace load failed", zap.Error(loadErr))
	}
	return loadErr
}

// begin claims actionID and clears both messages.
func (w *Workflow) begin(actionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[actionID]; busy {
		return ErrActionInFlight
	}
	w.inFlight[actionID] = struct{}{}
	w.errMsg = ""
	w.success = ""
	return nil
}

func (w *Workflow) end(actionID string) {
	w.mu.Lock()
	delete(w.inFlight, actionID)
	w.mu.Unlock()
}

func (w *Workflow) fail(err error) error {
	w.mu.Lock()
	w.errMsg = err.Error()
	w.mu.Unlock()
	return err
}

// mutate runs one backend mutation under actionID with a fresh idempotency
// key. On success apply updates local state and the lists are refetched.
func (w *Workflow) mutate(ctx context.Context, actionID string, call func(ctx context.Context) (string, error), apply func()) error {
	if err := w.begin(actionID); err != nil {
		w.log.Debug("duplicate submission ignored", zap.String("action", actionID))
		return err
	}
	defer w.end(actionID)

	key := w.newKey()
	msg, err := call(freshchainsdk.WithIdempotencyKey(ctx, key))
	if err != nil {
		w.log.Warn("marketplace action failed", zap.String("action", actionID), zap.String("idempotency_key", key), zap.Error(err))
		return w.fail(err)
	}
	w.log.Info("marketplace action succeeded", zap.String("action", actionID), zap.String("idempotency_key", key))
	w.mu.Lock()
	w.success = msg
	if apply != nil {
		apply()
	}
	w.mu.Unlock()
	// A failed refresh is reported through the error message; the action
	// itself already succeeded.
	_ = w.Load(ctx)
	return nil
}

// RecordHarvest creates a draft parent offer.
func (w *Workflow) RecordHarvest(ctx context.Context, form OfferForm) error {
	w.mu.Lock()
	w.offerForm = form
	w.mu.Unlock()

	if blank(form.ProductType, form.Unit, form.BasePrice, form.TotalQuantity) {
		return w.fail(invalid(msgOfferFields))
	}
	price, okPrice := nonNegative(form.BasePrice)
	qty, okQty := nonNegative(form.TotalQuantity)
	if !okPrice || !okQty {
		return w.fail(invalid(msgOfferNumbers))
	}
	payload := freshchainsdk.ParentOfferPayload{
		ProductType:   strings.TrimSpace(form.ProductType),
		Unit:          strings.TrimSpace(form.Unit),
		BasePrice:     price,
		TotalQuantity: qty,
		Currency:      strings.TrimSpace(form.Currency),
	}
	if payload.Currency == "" {
		payload.Currency = defaultCurrency
	}
	if notes := strings.TrimSpace(form.Notes); notes != "" {
		payload.Metadata = map[string]any{"notes": notes}
	}

	return w.mutate(ctx, "create-parent", func(ctx context.Context) (string, error) {
		res := w.gw.CreateParentOffer(ctx, payload)
		if err := res.Err(); err != nil {
			return "", err
		}
		suffix := ""
		if res.Data.ParentBatchNumber != "" {
			suffix = fmt.Sprintf(" (%s)", res.Data.ParentBatchNumber)
		}
		return fmt.Sprintf("Harvest batch recorded%s. Publish it to expose bids.", suffix), nil
	}, func() { w.offerForm = NewOfferForm() })
}

// PublishOffer moves a draft offer to published. Publishing twice is rejected
// by the backend and surfaced like any other failure.
func (w *Workflow) PublishOffer(ctx context.Context, parentID string) error {
	return w.mutate(ctx, "publish-"+parentID, func(ctx context.Context) (string, error) {
		res := w.gw.PublishParentOffer(ctx, parentID)
		if err := res.Err(); err != nil {
			return "", err
		}
		number := res.Data.ParentBatchNumber
		if number == "" {
			number = parentID
		}
		return fmt.Sprintf("Parent batch %s is live on the marketplace.", number), nil
	}, nil)
}

// SubmitBid places a retailer bid. Quantity against the available amount is
// checked by the backend only.
func (w *Workflow) SubmitBid(ctx context.Context, form BidForm) error {
	w.mu.Lock()
	w.bidForm = form
	w.mu.Unlock()

	if blank(form.ParentID, form.Quantity, form.BidPrice) {
		return w.fail(invalid(msgBidFields))
	}
	qty, okQty := nonNegative(form.Quantity)
	price, okPrice := nonNegative(form.BidPrice)
	if !okQty || !okPrice {
		return w.fail(invalid(msgBidNumbers))
	}
	payload := freshchainsdk.RetailerBidPayload{ParentID: strings.TrimSpace(form.ParentID), Quantity: qty, BidPrice: price}

	return w.mutate(ctx, "create-bid", func(ctx context.Context) (string, error) {
		if err := w.gw.CreateMarketplaceRequest(ctx, payload).Err(); err != nil {
			return "", err
		}
		return "Bid submitted. Awaiting producer approval.", nil
	}, func() {
		w.bidForm = BidForm{}
		w.lastOrder = nil
	})
}

func (w *Workflow) ApproveBid(ctx context.Context, requestID string) error {
	return w.mutate(ctx, "approve-"+requestID, func(ctx context.Context) (string, error) {
		if err := w.gw.ApproveMarketplaceRequest(ctx, requestID).Err(); err != nil {
			return "", err
		}
		return "Bid approved. Retailer can now proceed with payment.", nil
	}, nil)
}

func (w *Workflow) RejectBid(ctx context.Context, requestID string) error {
	return w.mutate(ctx, "reject-"+requestID, func(ctx context.Context) (string, error) {
		if err := w.gw.RejectMarketplaceRequest(ctx, requestID).Err(); err != nil {
			return "", err
		}
		return "Bid rejected. Quantity returned to parent batch.", nil
	}, nil)
}

// CreatePaymentOrder asks the backend for a payment order and opens the
// checkout with it. Retrying from awaiting_payment goes through the same path:
// the backend is always asked again and whichever order it returns is used.
// A successful checkout is confirmed right away; a dismissal only records a
// message.
func (w *Workflow) CreatePaymentOrder(ctx context.Context, requestID string) error {
	if w.checkout == nil {
		w.mu.Lock()
		w.errMsg = msgCheckoutMissing
		w.mu.Unlock()
		return ErrCheckoutUnavailable
	}
	actionID := "order-" + requestID
	if err := w.begin(actionID); err != nil {
		return err
	}
	defer w.end(actionID)

	key := w.newKey()
	res := w.gw.CreateMarketplacePaymentOrder(freshchainsdk.WithIdempotencyKey(ctx, key), requestID)
	if err := res.Err(); err != nil {
		w.log.Warn("payment order failed", zap.String("request_id", requestID), zap.Error(err))
		w.mu.Lock()
		w.errMsg = messageOr(res.Error, "Unable to create payment order")
		w.mu.Unlock()
		return err
	}
	order := res.Data
	w.mu.Lock()
	w.lastOrder = &order
	w.payForm = PaymentForm{RequestID: requestID, OrderID: order.OrderID}
	w.mu.Unlock()
	w.log.Info("payment order issued", zap.String("request_id", requestID), zap.String("order_id", order.OrderID), zap.Int64("amount", order.Amount))

	result, err := w.checkout.Open(ctx, checkout.Options{
		KeyID:       w.payment.KeyID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		Name:        w.payment.MerchantName,
		Description: "Advance payment for request " + requestID,
		OrderID:     order.OrderID,
		Prefill:     checkout.Prefill{Name: w.user.Username, Email: w.user.Username + "@freshchain.local"},
		ThemeColor:  w.payment.ThemeColor,
	})
	if errors.Is(err, checkout.ErrDismissed) {
		w.mu.Lock()
		w.errMsg = msgPaymentCancelled
		w.mu.Unlock()
		return err
	}
	if err != nil {
		return w.fail(err)
	}

	return w.mutate(ctx, "confirm-"+requestID, func(ctx context.Context) (string, error) {
		err := w.gw.ConfirmMarketplacePayment(ctx, requestID, freshchainsdk.PaymentConfirmationPayload{
			PaymentID: result.PaymentID,
			OrderID:   result.OrderID,
			Signature: result.Signature,
		}).Err()
		if err != nil {
			return "", err
		}
		return "Payment confirmed successfully! Producer will now fulfill your order.", nil
	}, w.clearPayment)
}

func (w *Workflow) clearPayment() {
	w.lastOrder = nil
	w.payForm = PaymentForm{}
}

// ConfirmPayment is the manual fallback for a checkout whose callback never
// reached the client.
func (w *Workflow) ConfirmPayment(ctx context.Context, form PaymentForm) error {
	w.mu.Lock()
	w.payForm = form
	w.mu.Unlock()

	if blank(form.RequestID, form.OrderID, form.PaymentID) {
		return w.fail(invalid(msgPaymentFields))
	}
	requestID := strings.TrimSpace(form.RequestID)
	payload := freshchainsdk.PaymentConfirmationPayload{
		OrderID:   strings.TrimSpace(form.OrderID),
		PaymentID: strings.TrimSpace(form.PaymentID),
	}
	return w.mutate(ctx, "confirm-"+requestID, func(ctx context.Context) (string, error) {
		if err := w.gw.ConfirmMarketplacePayment(ctx, requestID, payload).Err(); err != nil {
			return "", err
		}
		return "Payment confirmed. Await fulfillment from producer.", nil
	}, w.clearPayment)
}

// FulfillBid binds a child batch to a paid request.
func (w *Workflow) FulfillBid(ctx context.Context, form FulfillForm) error {
	w.mu.Lock()
	w.fulfill = form
	w.mu.Unlock()

	if blank(form.RequestID, form.ChildBatchID) {
		return w.fail(invalid(msgFulfillFields))
	}
	requestID := strings.TrimSpace(form.RequestID)
	payload := freshchainsdk.FulfillBidPayload{
		ChildBatchID: strings.TrimSpace(form.ChildBatchID),
		ProductType:  strings.TrimSpace(form.ProductType),
	}
	return w.mutate(ctx, "fulfill-"+requestID, func(ctx context.Context) (string, error) {
		if err := w.gw.FulfillMarketplaceRequest(ctx, requestID, payload).Err(); err != nil {
			return "", err
		}
		return "Request fulfilled and child batch minted on-chain.", nil
	}, func() { w.fulfill = FulfillForm{} })
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
