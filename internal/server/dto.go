package server

import (
	"freshchain/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Username      string `json:"username" minLength:"1"`
	Password      string `json:"password" minLength:"1"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

type CreateOfferRequest struct {
	ProductType   string         `json:"productType"`
	Unit          string         `json:"unit"`
	BasePrice     float64        `json:"basePrice"`
	TotalQuantity float64        `json:"totalQuantity"`
	Currency      string         `json:"currency,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type CreateBidRequest struct {
	ParentID string  `json:"parentId"`
	Quantity float64 `json:"quantity"`
	BidPrice float64 `json:"bidPrice"`
}

type ConfirmPaymentRequest struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Signature string `json:"signature,omitempty"`
}

type FulfillRequest struct {
	ChildBatchID string `json:"childBatchId"`
	ProductType  string `json:"productType,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Success bool        `json:"success"`
	Token   string      `json:"token"`
	User    domain.User `json:"user"`
	Message string      `json:"message,omitempty"`
}

type HealthResponse struct {
	Status              string `json:"status"`
	BlockchainConnected bool   `json:"blockchain_connected"`
	Network             string `json:"network"`
}

// List endpoints wrap their items in the success envelope.

type OfferListResponse struct {
	Success bool                 `json:"success"`
	Data    []domain.ParentOffer `json:"data"`
}

type RequestListResponse struct {
	Success bool                        `json:"success"`
	Data    []domain.MarketplaceRequest `json:"data"`
}

type EventListResponse struct {
	Success bool           `json:"success"`
	Data    []domain.Event `json:"data"`
}

type MeResponse struct {
	User    domain.User    `json:"user"`
	Profile domain.Profile `json:"profile"`
}
