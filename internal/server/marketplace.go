package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"freshchain/internal/domain"
	"freshchain/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

type offerBody struct {
	Body domain.ParentOffer `json:"body"`
}

type requestBody struct {
	Body domain.MarketplaceRequest `json:"body"`
}

type requestPath struct {
	ID             string `path:"id"`
	IdempotencyKey string `header:"Idempotency-Key"`
}

func registerOffers(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-parent-offers",
		Method:      http.MethodGet,
		Path:        "/marketplace/parent",
		Summary:     "List parent offers",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body OfferListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.engine.ListOffers(ctx, p, input.Status)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body OfferListResponse `json:"body"`
		}{Body: OfferListResponse{Success: true, Data: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-parent-offer",
		Method:        http.MethodPost,
		Path:          "/marketplace/parent",
		Summary:       "Record a harvest as a draft parent offer",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		IdempotencyKey string             `header:"Idempotency-Key"`
		Body           CreateOfferRequest `json:"body"`
	}) (*offerBody, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := h.engine.CreateOffer(ctx, p, input.IdempotencyKey, engine.OfferInput{
			ProductType:   input.Body.ProductType,
			Unit:          input.Body.Unit,
			BasePrice:     input.Body.BasePrice,
			TotalQuantity: input.Body.TotalQuantity,
			Currency:      input.Body.Currency,
			Metadata:      input.Body.Metadata,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &offerBody{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-parent-offer",
		Method:      http.MethodPost,
		Path:        "/marketplace/parent/{id}/publish",
		Summary:     "Publish a draft offer to retailers",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *requestPath) (*offerBody, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := h.engine.PublishOffer(ctx, p, input.IdempotencyKey, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &offerBody{Body: o}, nil
	})
}

func registerRequests(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-marketplace-requests",
		Method:      http.MethodGet,
		Path:        "/marketplace/requests",
		Summary:     "List bids visible to the caller",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ParentID string `query:"parentId"`
	}) (*struct {
		Body RequestListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.engine.ListRequests(ctx, p, strings.TrimSpace(input.ParentID))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body RequestListResponse `json:"body"`
		}{Body: RequestListResponse{Success: true, Data: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-marketplace-request",
		Method:        http.MethodPost,
		Path:          "/marketplace/requests",
		Summary:       "Bid on a published offer",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		IdempotencyKey string           `header:"Idempotency-Key"`
		Body           CreateBidRequest `json:"body"`
	}) (*requestBody, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.engine.CreateRequest(ctx, p, input.IdempotencyKey, engine.BidInput{
			ParentID: input.Body.ParentID,
			Quantity: input.Body.Quantity,
			BidPrice: input.Body.BidPrice,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &requestBody{Body: m}, nil
	})

	transition := func(id, path, summary string, fn func(ctx context.Context, input *requestPath) (domain.MarketplaceRequest, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        path,
			Summary:     summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *requestPath) (*requestBody, error) {
			m, err := fn(ctx, input)
			if err != nil {
				return nil, err
			}
			return &requestBody{Body: m}, nil
		})
	}

	transition("approve-marketplace-request", "/marketplace/requests/{id}/approve", "Approve a pending bid",
		func(ctx context.Context, input *requestPath) (domain.MarketplaceRequest, error) {
			p, authErr := principalFromContext(ctx)
			if authErr != nil {
				return domain.MarketplaceRequest{}, authErr
			}
			m, err := h.engine.ApproveRequest(ctx, p, input.IdempotencyKey, input.ID)
			if err != nil {
				return m, h.handleError(err)
			}
			return m, nil
		})

	transition("reject-marketplace-request", "/marketplace/requests/{id}/reject", "Reject a pending bid",
		func(ctx context.Context, input *requestPath) (domain.MarketplaceRequest, error) {
			p, authErr := principalFromContext(ctx)
			if authErr != nil {
				return domain.MarketplaceRequest{}, authErr
			}
			m, err := h.engine.RejectRequest(ctx, p, input.IdempotencyKey, input.ID)
			if err != nil {
				return m, h.handleError(err)
			}
			return m, nil
		})

	huma.Register(api, huma.Operation{
		OperationID: "order-marketplace-request",
		Method:      http.MethodPost,
		Path:        "/marketplace/requests/{id}/order",
		Summary:     "Create a payment order for the advance",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body domain.PaymentOrderResult `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		order, err := h.engine.CreatePaymentOrder(ctx, p, input.IdempotencyKey, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.PaymentOrderResult `json:"body"`
		}{Body: order}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-marketplace-payment",
		Method:      http.MethodPost,
		Path:        "/marketplace/requests/{id}/confirm",
		Summary:     "Confirm the advance payment of the current order",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID             string                `path:"id"`
		IdempotencyKey string                `header:"Idempotency-Key"`
		Body           ConfirmPaymentRequest `json:"body"`
	}) (*requestBody, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.engine.ConfirmPayment(ctx, p, input.IdempotencyKey, input.ID, engine.ConfirmInput{
			PaymentID: input.Body.PaymentID,
			OrderID:   input.Body.OrderID,
			Signature: input.Body.Signature,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &requestBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fulfill-marketplace-request",
		Method:      http.MethodPost,
		Path:        "/marketplace/requests/{id}/fulfill",
		Summary:     "Link a paid request to its child batch",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID             string         `path:"id"`
		IdempotencyKey string         `header:"Idempotency-Key"`
		Body           FulfillRequest `json:"body"`
	}) (*requestBody, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.engine.FulfillRequest(ctx, p, input.IdempotencyKey, input.ID, engine.FulfillInput{
			ChildBatchID: input.Body.ChildBatchID,
			ProductType:  input.Body.ProductType,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &requestBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "marketplace-request-history",
		Method:      http.MethodGet,
		Path:        "/marketplace/requests/{id}/history",
		Summary:     "Event trail of a request",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.engine.RequestHistory(ctx, p, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Success: true, Data: items}}, nil
	})
}
