package freshchainsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ListParentOffers lists parent offers, optionally filtered by status.
func (c *Client) ListParentOffers(ctx context.Context, status string) Response[[]ParentOffer] {
	endpoint := "marketplace/parent"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	return call[[]ParentOffer](ctx, c, http.MethodGet, endpoint, nil)
}

// CreateParentOffer records a new harvest lot as a draft offer.
func (c *Client) CreateParentOffer(ctx context.Context, payload ParentOfferPayload) Response[ParentOffer] {
	return call[ParentOffer](ctx, c, http.MethodPost, "marketplace/parent", payload)
}

// PublishParentOffer exposes a draft offer to retailers.
func (c *Client) PublishParentOffer(ctx context.Context, parentID string) Response[ParentOffer] {
	endpoint := fmt.Sprintf("marketplace/parent/%s/publish", url.PathEscape(parentID))
	return call[ParentOffer](ctx, c, http.MethodPost, endpoint, nil)
}

// ListMarketplaceRequests lists bids, optionally only those against parentID.
func (c *Client) ListMarketplaceRequests(ctx context.Context, parentID string) Response[[]MarketplaceRequest] {
	endpoint := "marketplace/requests"
	if parentID != "" {
		endpoint += "?parentId=" + url.QueryEscape(parentID)
	}
	return call[[]MarketplaceRequest](ctx, c, http.MethodGet, endpoint, nil)
}

func (c *Client) CreateMarketplaceRequest(ctx context.Context, payload RetailerBidPayload) Response[MarketplaceRequest] {
	return call[MarketplaceRequest](ctx, c, http.MethodPost, "marketplace/requests", payload)
}

func (c *Client) ApproveMarketplaceRequest(ctx context.Context, requestID string) Response[MarketplaceRequest] {
	return call[MarketplaceRequest](ctx, c, http.MethodPost, requestPath(requestID, "approve"), nil)
}

func (c *Client) RejectMarketplaceRequest(ctx context.Context, requestID string) Response[MarketplaceRequest] {
	return call[MarketplaceRequest](ctx, c, http.MethodPost, requestPath(requestID, "reject"), nil)
}

// CreateMarketplacePaymentOrder asks the backend for a checkout order. The
// backend may issue a fresh order id on every call.
func (c *Client) CreateMarketplacePaymentOrder(ctx context.Context, requestID string) Response[PaymentOrderResult] {
	return call[PaymentOrderResult](ctx, c, http.MethodPost, requestPath(requestID, "order"), nil)
}

func (c *Client) ConfirmMarketplacePayment(ctx context.Context, requestID string, payload PaymentConfirmationPayload) Response[MarketplaceRequest] {
	return call[MarketplaceRequest](ctx, c, http.MethodPost, requestPath(requestID, "confirm"), payload)
}

func (c *Client) FulfillMarketplaceRequest(ctx context.Context, requestID string, payload FulfillBidPayload) Response[MarketplaceRequest] {
	return call[MarketplaceRequest](ctx, c, http.MethodPost, requestPath(requestID, "fulfill"), payload)
}

// MarketplaceRequestHistory lists the recorded transitions of a request,
// oldest first.
func (c *Client) MarketplaceRequestHistory(ctx context.Context, requestID string) Response[[]RequestEvent] {
	return call[[]RequestEvent](ctx, c, http.MethodGet, requestPath(requestID, "history"), nil)
}

func requestPath(requestID, action string) string {
	return fmt.Sprintf("marketplace/requests/%s/%s", url.PathEscape(requestID), action)
}
