package domain

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Role          Role   `json:"role" enum:"admin,aggregator,producer,retailer,transporter,consumer"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

type OfferStatus string

const (
	OfferDraft     OfferStatus = "draft"
	OfferPublished OfferStatus = "published"
)

type ParentOffer struct {
	ParentID          string         `json:"parentId"`
	ParentBatchNumber string         `json:"parentBatchNumber"`
	ProducerID        string         `json:"-"`
	Producer          string         `json:"producer"`
	ProductType       string         `json:"productType"`
	Unit              string         `json:"unit"`
	BasePrice         float64        `json:"basePrice"`
	PricingCurrency   string         `json:"pricingCurrency"`
	TotalQuantity     float64        `json:"totalQuantity"`
	AvailableQuantity float64        `json:"availableQuantity"`
	Status            OfferStatus    `json:"status" enum:"draft,published"`
	CreatedAt         string         `json:"createdAt" format:"date-time"`
	PublishedAt       *string        `json:"publishedAt,omitempty" format:"date-time"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type RequestStatus string

const (
	StatusPendingApproval RequestStatus = "pending_approval"
	StatusApproved        RequestStatus = "approved"
	StatusRejected        RequestStatus = "rejected"
	StatusAwaitingPayment RequestStatus = "awaiting_payment"
	StatusPaid            RequestStatus = "paid"
	StatusFulfilled       RequestStatus = "fulfilled"
)

type PaymentInfo struct {
	OrderID   string  `json:"orderId"`
	Amount    int64   `json:"amount"`
	Currency  string  `json:"currency"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt" format:"date-time"`
	PaymentID *string `json:"paymentId,omitempty"`
	PaidAt    *string `json:"paidAt,omitempty" format:"date-time"`
}

type MarketplaceRequest struct {
	RequestID         string        `json:"requestId"`
	ParentID          string        `json:"parentId"`
	ParentBatchNumber string        `json:"parentBatchNumber,omitempty"`
	ParentProductType string        `json:"parentProductType,omitempty"`
	RetailerID        string        `json:"-"`
	Retailer          string        `json:"retailer"`
	ProducerID        string        `json:"-"`
	Producer          string        `json:"producer,omitempty"`
	Quantity          float64       `json:"quantity"`
	BidPrice          float64       `json:"bidPrice"`
	Currency          string        `json:"currency"`
	AdvancePercent    float64       `json:"advancePercent"`
	Status            RequestStatus `json:"status" enum:"pending_approval,approved,rejected,awaiting_payment,paid,fulfilled"`
	CreatedAt         string        `json:"createdAt" format:"date-time"`
	ApprovedAt        *string       `json:"approvedAt,omitempty" format:"date-time"`
	Payment           *PaymentInfo  `json:"payment,omitempty"`
	ChildBatchID      *string       `json:"childBatchId,omitempty"`
	ChildProductType  string        `json:"childProductType,omitempty"`
	FulfilledAt       *string       `json:"fulfilledAt,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// PaymentOrderResult is what the order endpoint returns to the retailer's checkout.
type PaymentOrderResult struct {
	OrderID  string         `json:"orderId"`
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	Order    map[string]any `json:"order,omitempty"`
}
