package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freshchain/internal/config"
	"freshchain/internal/domain"
	"freshchain/internal/engine/auth"
	"freshchain/internal/events"
	"freshchain/internal/repo"
)

// InvalidInputError rejects a request body before any state is read.
type InvalidInputError struct {
	Msg string
}

func (e InvalidInputError) Error() string { return e.Msg }

// StateError rejects an operation the current entity state does not allow.
type StateError struct {
	Msg string
}

func (e StateError) Error() string { return e.Msg }

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger *zap.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: logger,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) advancePercent() float64 {
	if e.Config != nil && e.Config.DevServer.AdvancePercent > 0 {
		return e.Config.DevServer.AdvancePercent
	}
	return 0.3
}

// SeedUsers creates the configured users that do not exist yet and returns
// how many were created.
func (e Engine) SeedUsers(ctx context.Context, users []config.SeedUser) (int, error) {
	created := 0
	for _, su := range users {
		if _, _, err := e.Repo.GetUserByUsername(ctx, su.Username); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return created, err
		}
		role, ok := domain.ParseRole(su.Role)
		if !ok {
			return created, fmt.Errorf("user %s has unknown role %s", su.Username, su.Role)
		}
		hash, err := auth.HashPassword(su.Password)
		if err != nil {
			return created, err
		}
		u := domain.User{ID: uuid.NewString(), Username: su.Username, Role: role, WalletAddress: su.WalletAddress}
		if err := e.Repo.InsertUserTx(ctx, nil, u, hash, e.ts()); err != nil {
			return created, fmt.Errorf("insert user %s: %w", su.Username, err)
		}
		created++
	}
	return created, nil
}

// Authenticate checks credentials. Admin logins must present a wallet address.
func (e Engine) Authenticate(ctx context.Context, username, password, walletAddress string) (domain.User, error) {
	u, hash, err := e.Repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if err := auth.CheckPassword(hash, password); err != nil {
		return domain.User{}, err
	}
	if u.Role == domain.RoleAdmin {
		if walletAddress == "" {
			return domain.User{}, InvalidInputError{Msg: "Admin requires MetaMask wallet connection"}
		}
		u.WalletAddress = walletAddress
	}
	return u, nil
}

// mutate runs fn in a transaction and records its result under key. A key
// seen before for the same caller replays the stored result instead. The
// lookup shares the write transaction so concurrent retries serialize on it.
func mutate[T any](ctx context.Context, e Engine, p auth.Principal, key, op string, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer tx.Rollback()
	if out, ok, err := replay[T](ctx, e, tx, p, key, op); err != nil || ok {
		return out, err
	}
	out, err := fn(tx)
	if err != nil {
		return zero, err
	}
	if key != "" {
		data, err := json.Marshal(out)
		if err != nil {
			return zero, fmt.Errorf("marshal %s response: %w", op, err)
		}
		if err := e.Repo.SaveIdempotentTx(ctx, tx, key, p.UserID, op, string(data), e.ts()); err != nil {
			return zero, fmt.Errorf("record idempotency key: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return zero, err
	}
	return out, nil
}

func replay[T any](ctx context.Context, e Engine, tx *sql.Tx, p auth.Principal, key, op string) (T, bool, error) {
	var out T
	if key == "" {
		return out, false, nil
	}
	stored, err := e.Repo.GetIdempotentTx(ctx, tx, key, p.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if stored.Operation != op {
		return out, false, StateError{Msg: fmt.Sprintf("Idempotency key already used for %s", stored.Operation)}
	}
	if err := json.Unmarshal([]byte(stored.Body), &out); err != nil {
		return out, false, fmt.Errorf("decode stored %s response: %w", op, err)
	}
	e.logger().Warn("idempotent replay", zap.String("operation", op), zap.String("user", p.Username))
	return out, true, nil
}

// OfferInput is a producer's harvest record.
type OfferInput struct {
	ProductType   string
	Unit          string
	BasePrice     float64
	TotalQuantity float64
	Currency      string
	Metadata      map[string]any
}

func (e Engine) CreateOffer(ctx context.Context, p auth.Principal, key string, in OfferInput) (domain.ParentOffer, error) {
	if err := p.Require(domain.ActionRecordHarvest); err != nil {
		return domain.ParentOffer{}, err
	}
	in.ProductType = strings.TrimSpace(in.ProductType)
	in.Unit = strings.TrimSpace(in.Unit)
	switch {
	case in.ProductType == "":
		return domain.ParentOffer{}, InvalidInputError{Msg: "productType is required"}
	case in.Unit == "":
		return domain.ParentOffer{}, InvalidInputError{Msg: "unit is required"}
	case in.BasePrice < 0:
		return domain.ParentOffer{}, InvalidInputError{Msg: "basePrice must not be negative"}
	case in.TotalQuantity <= 0:
		return domain.ParentOffer{}, InvalidInputError{Msg: "totalQuantity must be positive"}
	}
	if in.Currency == "" {
		in.Currency = "INR"
	}
	return mutate(ctx, e, p, key, "create-parent", func(tx *sql.Tx) (domain.ParentOffer, error) {
		number, err := e.Repo.NextBatchNumberTx(ctx, tx)
		if err != nil {
			return domain.ParentOffer{}, err
		}
		o := domain.ParentOffer{
			ParentID:          uuid.NewString(),
			ParentBatchNumber: number,
			ProducerID:        p.UserID,
			Producer:          p.Username,
			ProductType:       in.ProductType,
			Unit:              in.Unit,
			BasePrice:         in.BasePrice,
			PricingCurrency:   strings.ToUpper(in.Currency),
			TotalQuantity:     in.TotalQuantity,
			AvailableQuantity: in.TotalQuantity,
			Status:            domain.OfferDraft,
			CreatedAt:         e.ts(),
			Metadata:          in.Metadata,
		}
		if err := e.Repo.InsertOfferTx(ctx, tx, o); err != nil {
			return domain.ParentOffer{}, fmt.Errorf("insert offer: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "offer.create", "offer", o.ParentID, p.UserID, events.EventPayload{
			"batch_number": o.ParentBatchNumber, "quantity": o.TotalQuantity,
		}); err != nil {
			return domain.ParentOffer{}, err
		}
		e.logger().Info("offer recorded", zap.String("parent", o.ParentID), zap.String("producer", p.Username))
		return o, nil
	})
}

func (e Engine) ListOffers(ctx context.Context, p auth.Principal, status string) ([]domain.ParentOffer, error) {
	if err := p.Require(domain.ActionViewMarketplace); err != nil {
		return nil, err
	}
	return e.Repo.ListOffers(ctx, repo.OfferFilters{Status: status})
}

func (e Engine) PublishOffer(ctx context.Context, p auth.Principal, key, parentID string) (domain.ParentOffer, error) {
	if err := p.Require(domain.ActionPublishOffer); err != nil {
		return domain.ParentOffer{}, err
	}
	return mutate(ctx, e, p, key, "publish:"+parentID, func(tx *sql.Tx) (domain.ParentOffer, error) {
		o, err := e.Repo.GetOfferTx(ctx, tx, parentID)
		if err != nil {
			return o, err
		}
		if !p.Owns(o.ProducerID) {
			return o, auth.NotOwnerError{Kind: "offer", ID: parentID}
		}
		if err := domain.EnsureOfferTransition(o.Status, domain.OfferPublished); err != nil {
			return o, StateError{Msg: err.Error()}
		}
		if err := e.Repo.PublishOfferTx(ctx, tx, parentID, e.ts()); err != nil {
			return o, err
		}
		if err := e.Events.Append(ctx, tx, "offer.publish", "offer", parentID, p.UserID, nil); err != nil {
			return o, err
		}
		return e.Repo.GetOfferTx(ctx, tx, parentID)
	})
}

// BidInput is a retailer's bid on a published offer.
type BidInput struct {
	ParentID string
	Quantity float64
	BidPrice float64
}

func (e Engine) CreateRequest(ctx context.Context, p auth.Principal, key string, in BidInput) (domain.MarketplaceRequest, error) {
	if err := p.Require(domain.ActionSubmitBid); err != nil {
		return domain.MarketplaceRequest{}, err
	}
	switch {
	case strings.TrimSpace(in.ParentID) == "":
		return domain.MarketplaceRequest{}, InvalidInputError{Msg: "parentId is required"}
	case in.Quantity <= 0:
		return domain.MarketplaceRequest{}, InvalidInputError{Msg: "quantity must be positive"}
	case in.BidPrice < 0:
		return domain.MarketplaceRequest{}, InvalidInputError{Msg: "bidPrice must not be negative"}
	}
	return mutate(ctx, e, p, key, "create-bid", func(tx *sql.Tx) (domain.MarketplaceRequest, error) {
		o, err := e.Repo.GetOfferTx(ctx, tx, in.ParentID)
		if err != nil {
			return domain.MarketplaceRequest{}, err
		}
		if o.Status != domain.OfferPublished {
			return domain.MarketplaceRequest{}, StateError{Msg: "Parent offer is not published"}
		}
		if exceeds(in.Quantity, o.AvailableQuantity) {
			return domain.MarketplaceRequest{}, InvalidInputError{Msg: "Requested quantity exceeds available quantity"}
		}
		m := domain.MarketplaceRequest{
			RequestID:      uuid.NewString(),
			ParentID:       o.ParentID,
			RetailerID:     p.UserID,
			Retailer:       p.Username,
			Quantity:       in.Quantity,
			BidPrice:       in.BidPrice,
			Currency:       o.PricingCurrency,
			AdvancePercent: e.advancePercent(),
			Status:         domain.StatusPendingApproval,
			CreatedAt:      e.ts(),
		}
		if err := e.Repo.InsertRequestTx(ctx, tx, m); err != nil {
			return m, fmt.Errorf("insert request: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "request.create", "request", m.RequestID, p.UserID, events.EventPayload{
			"parent_id": m.ParentID, "quantity": m.Quantity, "bid_price": m.BidPrice,
		}); err != nil {
			return m, err
		}
		return e.Repo.GetRequestTx(ctx, tx, m.RequestID)
	})
}

// ListRequests scopes the listing to the caller: retailers see their own
// bids, producers the bids on their offers, everyone else all of them.
func (e Engine) ListRequests(ctx context.Context, p auth.Principal, parentID string) ([]domain.MarketplaceRequest, error) {
	if err := p.Require(domain.ActionViewMarketplace); err != nil {
		return nil, err
	}
	f := repo.RequestFilters{ParentID: parentID}
	switch p.Role {
	case domain.RoleRetailer:
		f.RetailerID = p.UserID
	case domain.RoleProducer, domain.RoleAggregator:
		f.ProducerID = p.UserID
	}
	return e.Repo.ListRequests(ctx, f)
}

// advance moves m to status to, persists it and records an event.
func (e Engine) advance(ctx context.Context, tx *sql.Tx, p auth.Principal, m *domain.MarketplaceRequest, to domain.RequestStatus, payload events.EventPayload) error {
	from := m.Status
	if err := domain.EnsureRequestTransition(from, to); err != nil {
		return StateError{Msg: err.Error()}
	}
	m.Status = to
	if err := e.Repo.UpdateRequestTx(ctx, tx, *m); err != nil {
		return err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from"] = string(from)
	payload["to"] = string(to)
	if err := e.Events.Append(ctx, tx, "request."+string(to), "request", m.RequestID, p.UserID, payload); err != nil {
		return err
	}
	e.logger().Info("request transition",
		zap.String("request", m.RequestID), zap.String("from", string(from)), zap.String("to", string(to)), zap.String("actor", p.Username))
	return nil
}

func (e Engine) loadOwned(ctx context.Context, tx *sql.Tx, p auth.Principal, requestID string, producerSide bool) (domain.MarketplaceRequest, error) {
	m, err := e.Repo.GetRequestTx(ctx, tx, requestID)
	if err != nil {
		return m, err
	}
	owner := m.RetailerID
	if producerSide {
		owner = m.ProducerID
	}
	if !p.Owns(owner) {
		return m, auth.NotOwnerError{Kind: "request", ID: requestID}
	}
	return m, nil
}

// ApproveRequest accepts a pending bid and reserves its quantity on the offer.
func (e Engine) ApproveRequest(ctx context.Context, p auth.Principal, key, requestID string) (domain.MarketplaceRequest, error) {
	if err := p.Require(domain.ActionApproveBid); err != nil {
		return domain.MarketplaceRequest{}, err
	}
	return mutate(ctx, e, p, key, "approve:"+requestID, func(tx *sql.Tx) (domain.MarketplaceRequest, error) {
		m, err := e.loadOwned(ctx, tx, p, requestID, true)
		if err != nil {
			return m, err
		}
		o, err := e.Repo.GetOfferTx(ctx, tx, m.ParentID)
		if err != nil {
			return m, err
		}
		if m.Status == domain.StatusPendingApproval && exceeds(m.Quantity, o.AvailableQuantity) {
			return m, InvalidInputError{Msg: "Requested quantity exceeds available quantity"}
		}
		now := e.ts()
		m.ApprovedAt = &now
		if err := e.advance(ctx, tx, p, &m, domain.StatusApproved, nil); err != nil {
			return m, err
		}
		left := decimal.NewFromFloat(o.AvailableQuantity).Sub(decimal.NewFromFloat(m.Quantity))
		if err := e.Repo.SetAvailableQuantityTx(ctx, tx, o.ParentID, left.InexactFloat64()); err != nil {
			return m, err
		}
		return e.Repo.GetRequestTx(ctx, tx, requestID)
	})
}

func (e Engine) RejectRequest(ctx context.Context, p auth.Principal, key, requestID string) (domain.MarketplaceRequest, error) {
	if err := p.Require(domain.ActionRejectBid); err != nil {
		return domain.MarketplaceRequest{}, err
	}
	return mutate(ctx, e, p, key, "reject:"+requestID, func(tx *sql.Tx) (domain.MarketplaceRequest, error) {
		m, err := e.loadOwned(ctx, tx, p, requestID, true)
		if err != nil {
			return m, err
		}
		if err := e.advance(ctx, tx, p, &m, domain.StatusRejected, nil); err != nil {
			return m, err
		}
		return e.Repo.GetRequestTx(ctx, tx, requestID)
	})
}

// CreatePaymentOrder issues a fresh order for the advance amount in minor
// units. Earlier open orders of the request are superseded.
func (e Engine) CreatePaymentOrder(ctx context.Context, p auth.Principal, key, requestID string) (domain.PaymentOrderResult, error) {
	if err := p.Require(domain.ActionCreatePaymentOrder); err != nil {
		return domain.PaymentOrderResult{}, err
	}
	return mutate(ctx, e, p, key, "order:"+requestID, func(tx *sql.Tx) (domain.PaymentOrderResult, error) {
		m, err := e.loadOwned(ctx, tx, p, requestID, false)
		if err != nil {
			return domain.PaymentOrderResult{}, err
		}
		if err := domain.EnsureRequestTransition(m.Status, domain.StatusAwaitingPayment); err != nil {
			return domain.PaymentOrderResult{}, StateError{Msg: err.Error()}
		}
		if err := e.Repo.SupersedeOrdersTx(ctx, tx, requestID); err != nil {
			return domain.PaymentOrderResult{}, err
		}
		order := domain.PaymentInfo{
			OrderID:   "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
			Amount:    AdvanceMinorUnits(m.Quantity, m.BidPrice, m.AdvancePercent),
			Currency:  m.Currency,
			Status:    "created",
			CreatedAt: e.ts(),
		}
		if err := e.Repo.InsertPaymentOrderTx(ctx, tx, requestID, order); err != nil {
			return domain.PaymentOrderResult{}, fmt.Errorf("insert payment order: %w", err)
		}
		m.Payment = &order
		if err := e.advance(ctx, tx, p, &m, domain.StatusAwaitingPayment, events.EventPayload{
			"order_id": order.OrderID, "amount": order.Amount,
		}); err != nil {
			return domain.PaymentOrderResult{}, err
		}
		return domain.PaymentOrderResult{
			OrderID:  order.OrderID,
			Amount:   order.Amount,
			Currency: order.Currency,
			Order: map[string]any{
				"id":       order.OrderID,
				"amount":   order.Amount,
				"currency": order.Currency,
				"receipt":  requestID,
				"status":   order.Status,
			},
		}, nil
	})
}

// ConfirmInput is the checkout outcome reported by the retailer.
type ConfirmInput struct {
	PaymentID string
	OrderID   string
	Signature string
}

func (e Engine) ConfirmPayment(ctx context.Context, p auth.Principal, key, requestID string, in ConfirmInput) (domain.MarketplaceRequest, error) {
	if err := p.Require(domain.ActionConfirmPayment); err != nil {
		return domain.MarketplaceRequest{}, err
	}
	if strings.TrimSpace(in.PaymentID) == "" || strings.TrimSpace(in.OrderID) == "" {
		return domain.MarketplaceRequest{}, InvalidInputError{Msg: "paymentId and orderId are required"}
	}
	return mutate(ctx, e, p, key, "confirm:"+requestID, func(tx *sql.Tx) (domain.MarketplaceRequest, error) {
		m, err := e.loadOwned(ctx, tx, p, requestID, false)
		if err != nil {
			return m, err
		}
		if m.Status != domain.StatusAwaitingPayment {
			return m, StateError{Msg: fmt.Sprintf("Request is %s, not awaiting payment", m.Status)}
		}
		if m.Payment == nil || m.Payment.OrderID != in.OrderID {
			return m, InvalidInputError{Msg: "Payment order does not match the current order for this request"}
		}
		now := e.ts()
		if err := e.Repo.MarkOrderPaidTx(ctx, tx, in.OrderID, in.PaymentID, now); err != nil {
			return m, err
		}
		if err := e.advance(ctx, tx, p, &m, domain.StatusPaid, events.EventPayload{
			"order_id": in.OrderID, "payment_id": in.PaymentID,
		}); err != nil {
			return m, err
		}
		return e.Repo.GetRequestTx(ctx, tx, requestID)
	})
}

// FulfillInput links a paid request to the child batch shipped for it.
type FulfillInput struct {
	ChildBatchID string
	ProductType  string
}

func (e Engine) FulfillRequest(ctx context.Context, p auth.Principal, key, requestID string, in FulfillInput) (domain.MarketplaceRequest, error) {
	if err := p.Require(domain.ActionFulfillBid); err != nil {
		return domain.MarketplaceRequest{}, err
	}
	child := strings.TrimSpace(in.ChildBatchID)
	if child == "" {
		return domain.MarketplaceRequest{}, InvalidInputError{Msg: "childBatchId is required"}
	}
	return mutate(ctx, e, p, key, "fulfill:"+requestID, func(tx *sql.Tx) (domain.MarketplaceRequest, error) {
		m, err := e.loadOwned(ctx, tx, p, requestID, true)
		if err != nil {
			return m, err
		}
		now := e.ts()
		m.ChildBatchID = &child
		m.ChildProductType = strings.TrimSpace(in.ProductType)
		m.FulfilledAt = &now
		if err := e.advance(ctx, tx, p, &m, domain.StatusFulfilled, events.EventPayload{"child_batch_id": child}); err != nil {
			return m, err
		}
		return e.Repo.GetRequestTx(ctx, tx, requestID)
	})
}

// RequestHistory returns the event trail of one request. Visibility follows
// ListRequests.
func (e Engine) RequestHistory(ctx context.Context, p auth.Principal, requestID string) ([]domain.Event, error) {
	if err := p.Require(domain.ActionViewMarketplace); err != nil {
		return nil, err
	}
	m, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canSee(p, m) {
		return nil, auth.NotOwnerError{Kind: "request", ID: requestID}
	}
	return e.Repo.ListEvents(ctx, "request", requestID, 0)
}

func canSee(p auth.Principal, m domain.MarketplaceRequest) bool {
	switch p.Role {
	case domain.RoleRetailer:
		return m.RetailerID == p.UserID
	case domain.RoleProducer, domain.RoleAggregator:
		return m.ProducerID == p.UserID
	}
	return true
}

// AdvanceMinorUnits is quantity x price x advance percent in minor currency
// units, rounded half away from zero.
func AdvanceMinorUnits(quantity, price, advance float64) int64 {
	return decimal.NewFromFloat(quantity).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(advance)).
		Shift(2).
		Round(0).
		IntPart()
}

func exceeds(requested, available float64) bool {
	return decimal.NewFromFloat(requested).GreaterThan(decimal.NewFromFloat(available))
}
