package marketplace

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshchain/internal/checkout"
	"freshchain/internal/domain"
	freshchainsdk "freshchain/sdk/go"
)

type fakeGateway struct {
	mu sync.Mutex

	offers   []freshchainsdk.ParentOffer
	requests []freshchainsdk.MarketplaceRequest
	listErr  string

	calls        map[string]int
	offerStatus  []string
	failWith     string
	created      freshchainsdk.ParentOffer
	orders       []freshchainsdk.PaymentOrderResult
	confirmed    []freshchainsdk.PaymentConfirmationPayload
	fulfilled    []freshchainsdk.FulfillBidPayload
	block        chan struct{}
	blockEntered chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: map[string]int{}}
}

func (f *fakeGateway) record(_ context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeGateway) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGateway) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func failure[T any](msg string) freshchainsdk.Response[T] {
	return freshchainsdk.Response[T]{Error: msg, StatusCode: 400}
}

func (f *fakeGateway) mutation(ctx context.Context, name string) string {
	f.record(ctx, name)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWith
}

func (f *fakeGateway) ListParentOffers(ctx context.Context, status string) freshchainsdk.Response[[]freshchainsdk.ParentOffer] {
	f.record(ctx, "list-offers")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offerStatus = append(f.offerStatus, status)
	if f.listErr != "" {
		return failure[[]freshchainsdk.ParentOffer](f.listErr)
	}
	out := append([]freshchainsdk.ParentOffer(nil), f.offers...)
	return freshchainsdk.Response[[]freshchainsdk.ParentOffer]{Success: true, Data: out}
}

func (f *fakeGateway) ListMarketplaceRequests(ctx context.Context, _ string) freshchainsdk.Response[[]freshchainsdk.MarketplaceRequest] {
	f.record(ctx, "list-requests")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]freshchainsdk.MarketplaceRequest(nil), f.requests...)
	return freshchainsdk.Response[[]freshchainsdk.MarketplaceRequest]{Success: true, Data: out}
}

func (f *fakeGateway) CreateParentOffer(ctx context.Context, p freshchainsdk.ParentOfferPayload) freshchainsdk.Response[freshchainsdk.ParentOffer] {
	if msg := f.mutation(ctx, "create-offer"); msg != "" {
		return failure[freshchainsdk.ParentOffer](msg)
	}
	offer := freshchainsdk.ParentOffer{
		ParentID: "p-new", ParentBatchNumber: "PB-0001", ProductType: p.ProductType, Unit: p.Unit,
		BasePrice: p.BasePrice, PricingCurrency: p.Currency, TotalQuantity: p.TotalQuantity,
		AvailableQuantity: p.TotalQuantity, Status: "draft", Metadata: p.Metadata,
	}
	f.mu.Lock()
	f.created = offer
	f.offers = append(f.offers, offer)
	f.mu.Unlock()
	return freshchainsdk.Response[freshchainsdk.ParentOffer]{Success: true, Data: offer}
}

func (f *fakeGateway) PublishParentOffer(ctx context.Context, parentID string) freshchainsdk.Response[freshchainsdk.ParentOffer] {
	if msg := f.mutation(ctx, "publish"); msg != "" {
		return failure[freshchainsdk.ParentOffer](msg)
	}
	return freshchainsdk.Response[freshchainsdk.ParentOffer]{Success: true, Data: freshchainsdk.ParentOffer{ParentID: parentID, ParentBatchNumber: "PB-0001", Status: "published"}}
}

func (f *fakeGateway) CreateMarketplaceRequest(ctx context.Context, _ freshchainsdk.RetailerBidPayload) freshchainsdk.Response[freshchainsdk.MarketplaceRequest] {
	if f.block != nil {
		f.blockEntered <- struct{}{}
		<-f.block
	}
	if msg := f.mutation(ctx, "bid"); msg != "" {
		return failure[freshchainsdk.MarketplaceRequest](msg)
	}
	return freshchainsdk.Response[freshchainsdk.MarketplaceRequest]{Success: true}
}

func (f *fakeGateway) ApproveMarketplaceRequest(ctx context.Context, _ string) freshchainsdk.Response[freshchainsdk.MarketplaceRequest] {
	if msg := f.mutation(ctx, "approve"); msg != "" {
		return failure[freshchainsdk.MarketplaceRequest](msg)
	}
	return freshchainsdk.Response[freshchainsdk.MarketplaceRequest]{Success: true}
}

func (f *fakeGateway) RejectMarketplaceRequest(ctx context.Context, _ string) freshchainsdk.Response[freshchainsdk.MarketplaceRequest] {
	if msg := f.mutation(ctx, "reject"); msg != "" {
		return failure[freshchainsdk.MarketplaceRequest](msg)
	}
	return freshchainsdk.Response[freshchainsdk.MarketplaceRequest]{Success: true}
}

func (f *fakeGateway) CreateMarketplacePaymentOrder(ctx context.Context, requestID string) freshchainsdk.Response[freshchainsdk.PaymentOrderResult] {
	if msg := f.mutation(ctx, "order"); msg != "" {
		return failure[freshchainsdk.PaymentOrderResult](msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	order := freshchainsdk.PaymentOrderResult{OrderID: "order_" + string(rune('a'+len(f.orders))), Amount: 330000, Currency: "INR"}
	f.orders = append(f.orders, order)
	return freshchainsdk.Response[freshchainsdk.PaymentOrderResult]{Success: true, Data: order}
}

func (f *fakeGateway) ConfirmMarketplacePayment(ctx context.Context, _ string, p freshchainsdk.PaymentConfirmationPayload) freshchainsdk.Response[freshchainsdk.MarketplaceRequest] {
	if msg := f.mutation(ctx, "confirm"); msg != "" {
		return failure[freshchainsdk.MarketplaceRequest](msg)
	}
	f.mu.Lock()
	f.confirmed = append(f.confirmed, p)
	f.mu.Unlock()
	return freshchainsdk.Response[freshchainsdk.MarketplaceRequest]{Success: true}
}

func (f *fakeGateway) FulfillMarketplaceRequest(ctx context.Context, _ string, p freshchainsdk.FulfillBidPayload) freshchainsdk.Response[freshchainsdk.MarketplaceRequest] {
	if msg := f.mutation(ctx, "fulfill"); msg != "" {
		return failure[freshchainsdk.MarketplaceRequest](msg)
	}
	f.mu.Lock()
	f.fulfilled = append(f.fulfilled, p)
	f.mu.Unlock()
	return freshchainsdk.Response[freshchainsdk.MarketplaceRequest]{Success: true}
}

var (
	producer = domain.User{ID: "u-prod", Username: "producer", Role: domain.RoleProducer}
	retailer = domain.User{ID: "u-ret", Username: "retailer", Role: domain.RoleRetailer}
)

func newWorkflow(gw Gateway, u domain.User, co checkout.Checkout) *Workflow {
	w := New(gw, u, co, PaymentSettings{KeyID: "rzp_test"}, nil)
	n := 0
	w.newKey = func() string {
		n++
		return "key-" + string(rune('0'+n))
	}
	return w
}

func TestPublishOfferedOnlyForDrafts(t *testing.T) {
	gw := newFakeGateway()
	gw.offers = []freshchainsdk.ParentOffer{
		{ParentID: "p1", Status: "draft"},
		{ParentID: "p2", Status: "published"},
	}

	w := newWorkflow(gw, producer, nil)
	require.NoError(t, w.Load(context.Background()))
	v := w.View()
	require.Len(t, v.Drafts, 1)
	require.Len(t, v.Published, 1)
	assert.True(t, v.Drafts[0].CanPublish)
	assert.False(t, v.Published[0].CanPublish)
	assert.False(t, v.Published[0].CanBid)

	transporter := newWorkflow(gw, domain.User{Username: "t", Role: domain.RoleTransporter}, nil)
	require.NoError(t, transporter.Load(context.Background()))
	assert.False(t, transporter.View().Drafts[0].CanPublish, "publish is never offered to roles without the action")
}

func TestRetailerLoadsPublishedOnly(t *testing.T) {
	gw := newFakeGateway()
	require.NoError(t, newWorkflow(gw, retailer, nil).Load(context.Background()))
	require.NoError(t, newWorkflow(gw, producer, nil).Load(context.Background()))
	assert.Equal(t, []string{"published", ""}, gw.offerStatus)
}

func TestLoadFailureKeepsPreviousState(t *testing.T) {
	gw := newFakeGateway()
	gw.offers = []freshchainsdk.ParentOffer{{ParentID: "p1", Status: "draft"}}
	w := newWorkflow(gw, producer, nil)
	require.NoError(t, w.Load(context.Background()))

	gw.listErr = "backend unavailable"
	require.Error(t, w.Load(context.Background()))
	v := w.View()
	assert.Equal(t, "backend unavailable", v.Error)
	require.Len(t, v.Drafts, 1)
	assert.Equal(t, "p1", v.Drafts[0].ParentID)
}

func TestBidValidationIsLocal(t *testing.T) {
	cases := []BidForm{
		{Quantity: "10", BidPrice: "5"},
		{ParentID: "p1", BidPrice: "5"},
		{ParentID: "p1", Quantity: "10"},
		{ParentID: "p1", Quantity: "  ", BidPrice: "5"},
	}
	for _, form := range cases {
		gw := newFakeGateway()
		w := newWorkflow(gw, retailer, nil)
		err := w.SubmitBid(context.Background(), form)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "Select an offer and enter bid details.", w.View().Error)
		assert.Zero(t, gw.total(), "no network call for %+v", form)
		assert.Equal(t, form, w.View().BidForm, "form input is kept")
	}
}

func TestBidRejectsNonNumericInput(t *testing.T) {
	gw := newFakeGateway()
	w := newWorkflow(gw, retailer, nil)
	err := w.SubmitBid(context.Background(), BidForm{ParentID: "p1", Quantity: "-1", BidPrice: "5"})
	require.Error(t, err)
	assert.Zero(t, gw.total())
}

func TestBidSuccessResetsFormAndReloadsOnce(t *testing.T) {
	gw := newFakeGateway()
	w := newWorkflow(gw, retailer, nil)

	require.NoError(t, w.SubmitBid(context.Background(), BidForm{ParentID: "p1", Quantity: "200", BidPrice: "55"}))
	v := w.View()
	assert.Equal(t, BidForm{}, v.BidForm)
	assert.Equal(t, "Bid submitted. Awaiting producer approval.", v.Success)
	assert.Empty(t, v.Error)
	assert.Equal(t, 1, gw.count("bid"))
	assert.Equal(t, 1, gw.count("list-offers"))
	assert.Equal(t, 1, gw.count("list-requests"))
}

func TestBidQuantityIsCheckedByBackendOnly(t *testing.T) {
	gw := newFakeGateway()
	gw.offers = []freshchainsdk.ParentOffer{{ParentID: "p1", Status: "published", AvailableQuantity: 10}}
	gw.failWith = "Requested quantity exceeds available quantity"
	w := newWorkflow(gw, retailer, nil)
	require.NoError(t, w.Load(context.Background()))

	form := BidForm{ParentID: "p1", Quantity: "5000", BidPrice: "55"}
	err := w.SubmitBid(context.Background(), form)
	require.Error(t, err)
	assert.Equal(t, 1, gw.count("bid"), "the request is sent despite the cached available quantity")
	v := w.View()
	assert.Equal(t, "Requested quantity exceeds available quantity", v.Error)
	assert.Equal(t, form, v.BidForm)
	assert.Equal(t, 1, gw.count("list-offers"), "no refetch after a failure")
}

func TestFulfillFailureLeavesViewUnchanged(t *testing.T) {
	gw := newFakeGateway()
	gw.requests = []freshchainsdk.MarketplaceRequest{{RequestID: "r1", Status: "approved", Quantity: 200, BidPrice: 55, AdvancePercent: 0.3}}
	w := newWorkflow(gw, producer, nil)
	require.NoError(t, w.Load(context.Background()))
	before := w.View()

	gw.failWith = "Request must be paid before fulfillment"
	form := FulfillForm{RequestID: "r1", ChildBatchID: "APPLE-CHILD-001"}
	require.Error(t, w.FulfillBid(context.Background(), form))

	after := w.View()
	assert.Equal(t, "Request must be paid before fulfillment", after.Error)
	assert.Equal(t, before.Requests, after.Requests)
	assert.Equal(t, form, after.FulfillForm)
	assert.Equal(t, after, w.View(), "rendering twice from the same state is stable")
}

func TestFulfillRequiresChildBatch(t *testing.T) {
	gw := newFakeGateway()
	w := newWorkflow(gw, producer, nil)
	require.Error(t, w.FulfillBid(context.Background(), FulfillForm{RequestID: "r1"}))
	assert.Equal(t, "Enter a child batch ID before fulfilling a request.", w.View().Error)
	assert.Zero(t, gw.total())
}

func TestRecordHarvest(t *testing.T) {
	gw := newFakeGateway()
	w := newWorkflow(gw, producer, nil)

	require.Error(t, w.RecordHarvest(context.Background(), OfferForm{ProductType: "Apples", Unit: "kg", BasePrice: "abc", TotalQuantity: "1000"}))
	assert.Zero(t, gw.total())

	form := OfferForm{ProductType: " Apples ", Unit: "kg", BasePrice: "50", TotalQuantity: "1000", Notes: "orchard 4"}
	require.NoError(t, w.RecordHarvest(context.Background(), form))
	assert.Equal(t, "INR", gw.created.PricingCurrency)
	assert.Equal(t, "Apples", gw.created.ProductType)
	assert.Equal(t, map[string]any{"notes": "orchard 4"}, gw.created.Metadata)

	v := w.View()
	assert.Equal(t, "Harvest batch recorded (PB-0001). Publish it to expose bids.", v.Success)
	assert.Equal(t, NewOfferForm(), v.OfferForm)
	require.Len(t, v.Drafts, 1)
	assert.Equal(t, v.Drafts[0].TotalQuantity, v.Drafts[0].AvailableQuantity)
}

func TestPublishRejectionIsSurfaced(t *testing.T) {
	gw := newFakeGateway()
	gw.failWith = "Parent batch already published"
	w := newWorkflow(gw, producer, nil)
	require.Error(t, w.PublishOffer(context.Background(), "p1"))
	assert.Equal(t, "Parent batch already published", w.View().Error)
	assert.Empty(t, w.View().Success)
}

func TestDuplicateSubmissionIsBlocked(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	gw.blockEntered = make(chan struct{})
	w := newWorkflow(gw, retailer, nil)
	form := BidForm{ParentID: "p1", Quantity: "1", BidPrice: "1"}

	done := make(chan error)
	go func() { done <- w.SubmitBid(context.Background(), form) }()
	<-gw.blockEntered
	assert.Equal(t, []string{"create-bid"}, w.View().InFlight)

	require.ErrorIs(t, w.SubmitBid(context.Background(), form), ErrActionInFlight)
	close(gw.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, gw.count("bid"))
	assert.Empty(t, w.View().InFlight)
}

type keyRecorder struct {
	*fakeGateway
	keys []string
}

func (k *keyRecorder) ApproveMarketplaceRequest(ctx context.Context, id string) freshchainsdk.Response[freshchainsdk.MarketplaceRequest] {
	k.keys = append(k.keys, freshchainsdk.IdempotencyKey(ctx))
	return k.fakeGateway.ApproveMarketplaceRequest(ctx, id)
}

func TestEveryMutationGetsAFreshKey(t *testing.T) {
	gw := &keyRecorder{fakeGateway: newFakeGateway()}
	w := New(gw, producer, nil, PaymentSettings{}, nil)
	require.NoError(t, w.ApproveBid(context.Background(), "r1"))
	require.NoError(t, w.ApproveBid(context.Background(), "r1"))
	require.Len(t, gw.keys, 2)
	assert.NotEmpty(t, gw.keys[0])
	assert.NotEqual(t, gw.keys[0], gw.keys[1])
}

func TestPaymentOrderRequiresCheckout(t *testing.T) {
	gw := newFakeGateway()
	w := newWorkflow(gw, retailer, nil)
	require.ErrorIs(t, w.CreatePaymentOrder(context.Background(), "r1"), ErrCheckoutUnavailable)
	assert.Zero(t, gw.total())
	assert.NotEmpty(t, w.View().Error)
}

func TestPaymentCheckoutSuccessConfirms(t *testing.T) {
	gw := newFakeGateway()
	var opened checkout.Options
	co := checkout.Func(func(_ context.Context, opts checkout.Options) (checkout.Result, error) {
		opened = opts
		return checkout.Result{PaymentID: "pay_1", OrderID: opts.OrderID}, nil
	})
	w := newWorkflow(gw, retailer, co)

	require.NoError(t, w.CreatePaymentOrder(context.Background(), "r1"))
	assert.Equal(t, "order_a", opened.OrderID)
	assert.Equal(t, int64(330000), opened.Amount)
	assert.Equal(t, "Advance payment for request r1", opened.Description)
	assert.Equal(t, "retailer@freshchain.local", opened.Prefill.Email)
	assert.Equal(t, "FreshChain Marketplace", opened.Name)
	require.Len(t, gw.confirmed, 1)
	assert.Equal(t, freshchainsdk.PaymentConfirmationPayload{PaymentID: "pay_1", OrderID: "order_a"}, gw.confirmed[0])

	v := w.View()
	assert.Equal(t, "Payment confirmed successfully! Producer will now fulfill your order.", v.Success)
	assert.Nil(t, v.PaymentOrder)
	assert.Equal(t, PaymentForm{}, v.PaymentForm)
}

func TestPaymentDismissalMakesNoServerCalls(t *testing.T) {
	gw := newFakeGateway()
	co := checkout.Func(func(context.Context, checkout.Options) (checkout.Result, error) {
		return checkout.Result{}, checkout.ErrDismissed
	})
	w := newWorkflow(gw, retailer, co)

	require.ErrorIs(t, w.CreatePaymentOrder(context.Background(), "r1"), checkout.ErrDismissed)
	assert.Equal(t, 1, gw.count("order"))
	assert.Equal(t, 1, gw.total(), "only the order call reached the backend")
	v := w.View()
	assert.Equal(t, "Payment cancelled. You can retry anytime.", v.Error)
	require.NotNil(t, v.PaymentOrder)
	assert.Equal(t, PaymentForm{RequestID: "r1", OrderID: "order_a"}, v.PaymentForm)
}

func TestPaymentRetryAsksBackendAgain(t *testing.T) {
	gw := newFakeGateway()
	gw.requests = []freshchainsdk.MarketplaceRequest{{
		RequestID: "r1", Status: "awaiting_payment",
		Payment: &freshchainsdk.PaymentInfo{OrderID: "order_stale", Status: "created"},
	}}
	var seen []string
	co := checkout.Func(func(_ context.Context, opts checkout.Options) (checkout.Result, error) {
		seen = append(seen, opts.OrderID)
		return checkout.Result{}, checkout.ErrDismissed
	})
	w := newWorkflow(gw, retailer, co)
	require.NoError(t, w.Load(context.Background()))
	assert.Equal(t, []RequestAction{ActionRetryPayment, ActionConfirmPayment}, w.View().Requests[0].Actions)

	_ = w.CreatePaymentOrder(context.Background(), "r1")
	_ = w.CreatePaymentOrder(context.Background(), "r1")
	assert.Equal(t, 2, gw.count("order"))
	assert.Equal(t, []string{"order_a", "order_b"}, seen)
	assert.Equal(t, "order_b", w.View().PaymentOrder.OrderID)
}

func TestManualConfirmation(t *testing.T) {
	gw := newFakeGateway()
	w := newWorkflow(gw, retailer, nil)

	require.Error(t, w.ConfirmPayment(context.Background(), PaymentForm{RequestID: "r1", OrderID: "order_a"}))
	assert.Equal(t, "Provide both payment order ID and payment ID.", w.View().Error)
	assert.Zero(t, gw.total())

	require.NoError(t, w.ConfirmPayment(context.Background(), PaymentForm{RequestID: "r1", OrderID: "order_a", PaymentID: "pay_9"}))
	assert.Equal(t, "Payment confirmed. Await fulfillment from producer.", w.View().Success)
	require.Len(t, gw.confirmed, 1)
	assert.Equal(t, "pay_9", gw.confirmed[0].PaymentID)
}

func TestRequestActionsByRoleAndStatus(t *testing.T) {
	prod := domain.RoleProfile(domain.RoleProducer)
	ret := domain.RoleProfile(domain.RoleRetailer)
	trans := domain.RoleProfile(domain.RoleTransporter)

	assert.Equal(t, []RequestAction{ActionApprove, ActionReject}, requestActions(prod, domain.StatusPendingApproval))
	assert.Empty(t, requestActions(ret, domain.StatusPendingApproval))
	assert.Equal(t, []RequestAction{ActionPay}, requestActions(ret, domain.StatusApproved))
	assert.Equal(t, []RequestAction{ActionFulfill}, requestActions(prod, domain.StatusPaid))
	assert.Empty(t, requestActions(ret, domain.StatusPaid))
	for _, s := range []domain.RequestStatus{domain.StatusRejected, domain.StatusFulfilled} {
		assert.Empty(t, requestActions(prod, s))
		assert.Empty(t, requestActions(ret, s))
	}
	assert.Empty(t, requestActions(trans, domain.StatusPaid))
}

func TestRequestProjection(t *testing.T) {
	gw := newFakeGateway()
	gw.requests = []freshchainsdk.MarketplaceRequest{
		{RequestID: "r1", Status: "fulfilled", Quantity: 200, BidPrice: 55, AdvancePercent: 0.3, Currency: "INR",
			Payment: &freshchainsdk.PaymentInfo{OrderID: "o", Amount: 330000, Currency: "INR", Status: "paid"}, ChildBatchID: "C-1"},
		{RequestID: "r2", Status: "pending_approval", Quantity: 3, BidPrice: 1.1, AdvancePercent: 0.25},
	}
	w := newWorkflow(gw, producer, nil)
	require.NoError(t, w.Load(context.Background()))
	v := w.View()

	assert.Equal(t, 1, v.Fulfilled)
	assert.Equal(t, "FULFILLED", v.Requests[0].StatusLabel)
	assert.Equal(t, "PENDING APPROVAL", v.Requests[1].StatusLabel)
	assert.True(t, decimal.RequireFromString("3300").Equal(v.Requests[0].AdvanceAmount))
	assert.Equal(t, "0.83", v.Requests[1].AdvanceAmount.StringFixed(2))
	assert.Equal(t, "Paid 3300 INR", v.Requests[0].PaymentNote)
}
