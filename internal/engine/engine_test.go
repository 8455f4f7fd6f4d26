package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"freshchain/internal/config"
	"freshchain/internal/db"
	"freshchain/internal/domain"
	"freshchain/internal/engine"
	"freshchain/internal/engine/auth"
	"freshchain/internal/migrate"
	"freshchain/internal/repo"
)

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Producer auth.Principal
	Retailer auth.Principal
	Admin    auth.Principal
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir, Name: "backend.db"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := eng.SeedUsers(ctx, cfg.DevServer.Users); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	env := testEnv{Engine: eng, Ctx: ctx}
	env.Producer = env.principal(t, "producer")
	env.Retailer = env.principal(t, "retailer")
	env.Admin = env.principal(t, "admin")
	return env
}

func (env testEnv) principal(t *testing.T, username string) auth.Principal {
	t.Helper()
	u, _, err := env.Engine.Repo.GetUserByUsername(env.Ctx, username)
	if err != nil {
		t.Fatalf("load %s: %v", username, err)
	}
	return auth.Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func (env testEnv) publishedOffer(t *testing.T, qty float64) domain.ParentOffer {
	t.Helper()
	o, err := env.Engine.CreateOffer(env.Ctx, env.Producer, "", engine.OfferInput{
		ProductType: "Tomato", Unit: "kg", BasePrice: 20, TotalQuantity: qty,
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if o, err = env.Engine.PublishOffer(env.Ctx, env.Producer, "", o.ParentID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return o
}

func TestSeedUsersIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.SeedUsers(env.Ctx, config.Default().DevServer.Users)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no new users, got %d", n)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.Authenticate(env.Ctx, "producer", "producer123", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.Role != domain.RoleProducer {
		t.Fatalf("unexpected role %s", u.Role)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "producer", "wrong", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "ghost", "x", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
	var invalid engine.InvalidInputError
	if _, err := env.Engine.Authenticate(env.Ctx, "admin", "admin123", ""); !errors.As(err, &invalid) {
		t.Fatalf("expected wallet requirement, got %v", err)
	}
	u, err = env.Engine.Authenticate(env.Ctx, "admin", "admin123", "0xabc")
	if err != nil || u.WalletAddress != "0xabc" {
		t.Fatalf("admin login: %v %+v", err, u)
	}
}

func TestOfferLifecycle(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOffer(env.Ctx, env.Producer, "", engine.OfferInput{
		ProductType: "Tomato", Unit: "kg", BasePrice: 20, TotalQuantity: 1000,
		Metadata: map[string]any{"notes": "grade A"},
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if o.Status != domain.OfferDraft || o.AvailableQuantity != 1000 || o.PricingCurrency != "INR" {
		t.Fatalf("unexpected draft %+v", o)
	}
	if o.ParentBatchNumber != "PB-00001" {
		t.Fatalf("unexpected batch number %s", o.ParentBatchNumber)
	}
	if _, err := env.Engine.PublishOffer(env.Ctx, env.Retailer, "", o.ParentID); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected forbidden for retailer, got %v", err)
	}
	pub, err := env.Engine.PublishOffer(env.Ctx, env.Producer, "", o.ParentID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.Status != domain.OfferPublished || pub.PublishedAt == nil {
		t.Fatalf("unexpected published offer %+v", pub)
	}
	if pub.Metadata["notes"] != "grade A" {
		t.Fatalf("metadata lost: %+v", pub.Metadata)
	}
	var state engine.StateError
	if _, err := env.Engine.PublishOffer(env.Ctx, env.Producer, "", o.ParentID); !errors.As(err, &state) {
		t.Fatalf("expected state error on republish, got %v", err)
	}
	published, err := env.Engine.ListOffers(env.Ctx, env.Retailer, "published")
	if err != nil || len(published) != 1 {
		t.Fatalf("list published: %v %d", err, len(published))
	}
}

func TestBidCannotExceedAvailableQuantity(t *testing.T) {
	env := newTestEnv(t)
	o := env.publishedOffer(t, 1000)
	var invalid engine.InvalidInputError
	_, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "", engine.BidInput{ParentID: o.ParentID, Quantity: 5000, BidPrice: 22})
	if !errors.As(err, &invalid) || invalid.Msg != "Requested quantity exceeds available quantity" {
		t.Fatalf("expected quantity rejection, got %v", err)
	}
}

func TestBidOnDraftRejected(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOffer(env.Ctx, env.Producer, "", engine.OfferInput{ProductType: "Onion", Unit: "kg", BasePrice: 5, TotalQuantity: 10})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	var state engine.StateError
	if _, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "", engine.BidInput{ParentID: o.ParentID, Quantity: 1, BidPrice: 5}); !errors.As(err, &state) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestFullRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	o := env.publishedOffer(t, 1000)
	req, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "", engine.BidInput{ParentID: o.ParentID, Quantity: 200, BidPrice: 22})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if req.Status != domain.StatusPendingApproval || req.AdvancePercent != 0.3 || req.Currency != "INR" {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := env.Engine.ApproveRequest(env.Ctx, env.Retailer, "", req.RequestID); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected retailer approve forbidden, got %v", err)
	}

	approved, err := env.Engine.ApproveRequest(env.Ctx, env.Producer, "", req.RequestID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.StatusApproved || approved.ApprovedAt == nil {
		t.Fatalf("unexpected approved %+v", approved)
	}
	offer, err := env.Engine.Repo.GetOffer(env.Ctx, o.ParentID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if offer.AvailableQuantity != 800 || offer.TotalQuantity != 1000 {
		t.Fatalf("expected 800 available of 1000, got %v of %v", offer.AvailableQuantity, offer.TotalQuantity)
	}

	var state engine.StateError
	if _, err := env.Engine.FulfillRequest(env.Ctx, env.Producer, "", req.RequestID, engine.FulfillInput{ChildBatchID: "C-1"}); !errors.As(err, &state) {
		t.Fatalf("expected fulfil before payment to fail, got %v", err)
	}

	first, err := env.Engine.CreatePaymentOrder(env.Ctx, env.Retailer, "", req.RequestID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if first.Amount != 132000 || first.Currency != "INR" {
		t.Fatalf("unexpected order %+v", first)
	}
	second, err := env.Engine.CreatePaymentOrder(env.Ctx, env.Retailer, "", req.RequestID)
	if err != nil {
		t.Fatalf("retry order: %v", err)
	}
	if second.OrderID == first.OrderID {
		t.Fatalf("expected fresh order id on retry")
	}

	var invalid engine.InvalidInputError
	_, err = env.Engine.ConfirmPayment(env.Ctx, env.Retailer, "", req.RequestID, engine.ConfirmInput{PaymentID: "pay_1", OrderID: first.OrderID})
	if !errors.As(err, &invalid) {
		t.Fatalf("expected stale order rejection, got %v", err)
	}
	paid, err := env.Engine.ConfirmPayment(env.Ctx, env.Retailer, "", req.RequestID, engine.ConfirmInput{PaymentID: "pay_1", OrderID: second.OrderID})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if paid.Status != domain.StatusPaid || paid.Payment == nil || paid.Payment.Status != "paid" {
		t.Fatalf("unexpected paid request %+v", paid)
	}
	if paid.ChildBatchID != nil {
		t.Fatalf("child batch must only be set on fulfilment")
	}

	done, err := env.Engine.FulfillRequest(env.Ctx, env.Producer, "", req.RequestID, engine.FulfillInput{ChildBatchID: "C-1", ProductType: "Cherry Tomato"})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if done.Status != domain.StatusFulfilled || done.ChildBatchID == nil || *done.ChildBatchID != "C-1" || done.FulfilledAt == nil {
		t.Fatalf("unexpected fulfilled request %+v", done)
	}

	history, err := env.Engine.RequestHistory(env.Ctx, env.Retailer, req.RequestID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []string{"request.create", "request.approved", "request.awaiting_payment", "request.awaiting_payment", "request.paid", "request.fulfilled"}
	if len(history) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(history))
	}
	for i, evt := range history {
		if evt.Type != want[i] {
			t.Fatalf("event %d: expected %s got %s", i, want[i], evt.Type)
		}
	}
}

func TestRejectIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	o := env.publishedOffer(t, 100)
	req, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "", engine.BidInput{ParentID: o.ParentID, Quantity: 10, BidPrice: 1})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	rejected, err := env.Engine.RejectRequest(env.Ctx, env.Producer, "", req.RequestID)
	if err != nil || rejected.Status != domain.StatusRejected {
		t.Fatalf("reject: %v %+v", err, rejected)
	}
	var state engine.StateError
	if _, err := env.Engine.ApproveRequest(env.Ctx, env.Producer, "", req.RequestID); !errors.As(err, &state) {
		t.Fatalf("expected approve after reject to fail, got %v", err)
	}
	if _, err := env.Engine.CreatePaymentOrder(env.Ctx, env.Retailer, "", req.RequestID); !errors.As(err, &state) {
		t.Fatalf("expected payment order after reject to fail, got %v", err)
	}
	if _, err := env.Engine.FulfillRequest(env.Ctx, env.Producer, "", req.RequestID, engine.FulfillInput{ChildBatchID: "CHILD-1"}); !errors.As(err, &state) {
		t.Fatalf("expected fulfill after reject to fail, got %v", err)
	}
	stored, err := env.Engine.Repo.GetRequest(env.Ctx, req.RequestID)
	if err != nil || stored.Status != domain.StatusRejected || stored.ChildBatchID != nil {
		t.Fatalf("rejected request changed: %v %+v", err, stored)
	}
	offer, _ := env.Engine.Repo.GetOffer(env.Ctx, o.ParentID)
	if offer.AvailableQuantity != 100 {
		t.Fatalf("reject must not touch quantity, got %v", offer.AvailableQuantity)
	}
}

func TestApprovalRechecksQuantity(t *testing.T) {
	env := newTestEnv(t)
	o := env.publishedOffer(t, 100)
	a, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "", engine.BidInput{ParentID: o.ParentID, Quantity: 80, BidPrice: 1})
	if err != nil {
		t.Fatalf("bid a: %v", err)
	}
	b, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "", engine.BidInput{ParentID: o.ParentID, Quantity: 50, BidPrice: 1})
	if err != nil {
		t.Fatalf("bid b: %v", err)
	}
	if _, err := env.Engine.ApproveRequest(env.Ctx, env.Producer, "", a.RequestID); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	var invalid engine.InvalidInputError
	if _, err := env.Engine.ApproveRequest(env.Ctx, env.Producer, "", b.RequestID); !errors.As(err, &invalid) {
		t.Fatalf("expected quantity rejection on second approval, got %v", err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)
	o := env.publishedOffer(t, 100)
	req, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "", engine.BidInput{ParentID: o.ParentID, Quantity: 10, BidPrice: 1})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	other := auth.Principal{UserID: "someone-else", Username: "farmer2", Role: domain.RoleProducer}
	var notOwner auth.NotOwnerError
	if _, err := env.Engine.ApproveRequest(env.Ctx, other, "", req.RequestID); !errors.As(err, &notOwner) {
		t.Fatalf("expected ownership error, got %v", err)
	}
	if _, err := env.Engine.ApproveRequest(env.Ctx, env.Admin, "", req.RequestID); err != nil {
		t.Fatalf("admin approves on behalf of producer: %v", err)
	}
	mine, err := env.Engine.ListRequests(env.Ctx, other, "")
	if err != nil || len(mine) != 0 {
		t.Fatalf("other producer should see no requests: %v %d", err, len(mine))
	}
}

func TestIdempotencyKeyReplays(t *testing.T) {
	env := newTestEnv(t)
	o := env.publishedOffer(t, 100)
	first, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "key-1", engine.BidInput{ParentID: o.ParentID, Quantity: 10, BidPrice: 1})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	again, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "key-1", engine.BidInput{ParentID: o.ParentID, Quantity: 10, BidPrice: 1})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.RequestID != first.RequestID {
		t.Fatalf("expected replayed request %s, got %s", first.RequestID, again.RequestID)
	}
	all, err := env.Engine.Repo.ListRequests(env.Ctx, repo.RequestFilters{})
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one stored request: %v %d", err, len(all))
	}
	if _, err := env.Engine.ApproveRequest(env.Ctx, env.Producer, "key-1", first.RequestID); err != nil {
		t.Fatalf("same key from another user is independent: %v", err)
	}
	var state engine.StateError
	if _, err := env.Engine.RejectRequest(env.Ctx, env.Producer, "key-1", first.RequestID); !errors.As(err, &state) {
		t.Fatalf("expected key reuse across operations to fail, got %v", err)
	}
}

func TestConcurrentRetriesShareOneResult(t *testing.T) {
	env := newTestEnv(t)
	o := env.publishedOffer(t, 100)
	const n = 4
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "key-race", engine.BidInput{ParentID: o.ParentID, Quantity: 10, BidPrice: 1})
			ids[i], errs[i] = req.RequestID, err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("call %d got request %s, want %s", i, ids[i], ids[0])
		}
	}
	all, err := env.Engine.Repo.ListRequests(env.Ctx, repo.RequestFilters{})
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one stored request: %v %d", err, len(all))
	}
}

func TestRequestHistoryVisibility(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SeedUsers(env.Ctx, []config.SeedUser{{Username: "retailer2", Password: "retailer234", Role: "retailer"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	o := env.publishedOffer(t, 100)
	req, err := env.Engine.CreateRequest(env.Ctx, env.Retailer, "", engine.BidInput{ParentID: o.ParentID, Quantity: 10, BidPrice: 1})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	var notOwner auth.NotOwnerError
	for _, p := range []auth.Principal{
		env.principal(t, "retailer2"),
		{UserID: "someone-else", Username: "farmer2", Role: domain.RoleProducer},
	} {
		if _, err := env.Engine.RequestHistory(env.Ctx, p, req.RequestID); !errors.As(err, &notOwner) {
			t.Fatalf("%s: expected ownership error, got %v", p.Username, err)
		}
	}
	for _, p := range []auth.Principal{env.Retailer, env.Producer, env.Admin, env.principal(t, "transporter")} {
		events, err := env.Engine.RequestHistory(env.Ctx, p, req.RequestID)
		if err != nil || len(events) != 1 {
			t.Fatalf("%s: expected one event: %v %d", p.Username, err, len(events))
		}
	}
	if _, err := env.Engine.RequestHistory(env.Ctx, env.principal(t, "consumer"), req.RequestID); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected forbidden for consumer, got %v", err)
	}
	if _, err := env.Engine.RequestHistory(env.Ctx, env.Admin, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConsumerCannotViewMarketplace(t *testing.T) {
	env := newTestEnv(t)
	consumer := env.principal(t, "consumer")
	if _, err := env.Engine.ListOffers(env.Ctx, consumer, ""); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAdvanceMinorUnits(t *testing.T) {
	cases := []struct {
		qty, price, adv float64
		want            int64
	}{
		{200, 22, 0.3, 132000},
		{1, 0.1, 0.3, 3},
		{3, 33.33, 0.5, 5000},
		{0.5, 10.01, 1, 501},
	}
	for _, c := range cases {
		if got := engine.AdvanceMinorUnits(c.qty, c.price, c.adv); got != c.want {
			t.Fatalf("AdvanceMinorUnits(%v,%v,%v)=%d want %d", c.qty, c.price, c.adv, got, c.want)
		}
	}
}
