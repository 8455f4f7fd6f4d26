package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freshchain/internal/app"
	"freshchain/internal/checkout"
	"freshchain/internal/marketplace"
	freshchainsdk "freshchain/sdk/go"
)

func marketCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "market",
		Short: "Marketplace offers and bids",
		Long: `Parent offers move draft -> published. Bids move pending_approval -> approved -> awaiting_payment -> paid -> fulfilled;
a pending bid may be rejected instead. The backend owns every transition; each command refetches the marketplace afterwards.`,
	}
	m.AddCommand(marketOffersCmd())
	m.AddCommand(marketRecordHarvestCmd())
	m.AddCommand(marketPublishCmd())
	m.AddCommand(marketRequestsCmd())
	m.AddCommand(marketBidCmd())
	m.AddCommand(marketApproveCmd())
	m.AddCommand(marketRejectCmd())
	m.AddCommand(marketPayCmd())
	m.AddCommand(marketConfirmCmd())
	m.AddCommand(marketFulfillCmd())
	m.AddCommand(marketViewCmd())
	m.AddCommand(marketHistoryCmd())
	return m
}

func marketOffersCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "offers",
		Short: "List parent offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res := c.API.ListParentOffers(ctx, status)
				if err := res.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Data)
				}
				renderOffers(res.Data)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft, published)")
	return cmd
}

func marketRecordHarvestCmd() *cobra.Command {
	form := marketplace.NewOfferForm()
	cmd := &cobra.Command{
		Use:   "record-harvest",
		Short: "Record a harvest lot as a draft parent offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkflow(cmd.Context(), func(ctx context.Context, w *marketplace.Workflow) error {
				return w.RecordHarvest(ctx, form)
			})
		},
	}
	cmd.Flags().StringVar(&form.ProductType, "product", "", "product type")
	cmd.Flags().StringVar(&form.Unit, "unit", form.Unit, "unit of measure")
	cmd.Flags().StringVar(&form.BasePrice, "price", "", "base price per unit")
	cmd.Flags().StringVar(&form.TotalQuantity, "quantity", "", "total quantity")
	cmd.Flags().StringVar(&form.Currency, "currency", form.Currency, "pricing currency")
	cmd.Flags().StringVar(&form.Notes, "notes", "", "free-form notes")
	return cmd
}

func marketPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <parent-id>",
		Short: "Publish a draft offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkflow(cmd.Context(), func(ctx context.Context, w *marketplace.Workflow) error {
				return w.PublishOffer(ctx, strings.TrimSpace(args[0]))
			})
		},
	}
}

func marketRequestsCmd() *cobra.Command {
	var parentID string
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List bids visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res := c.API.ListMarketplaceRequests(ctx, parentID)
				if err := res.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Data)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Request", "Offer", "Retailer", "Qty", "Bid", "Advance", "Status", "Payment"})
				for _, r := range res.Data {
					t.AppendRow(requestRow(r, ""))
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "only bids on this parent offer")
	return cmd
}

func marketBidCmd() *cobra.Command {
	var form marketplace.BidForm
	cmd := &cobra.Command{
		Use:   "bid",
		Short: "Bid on a published offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkflow(cmd.Context(), func(ctx context.Context, w *marketplace.Workflow) error {
				return w.SubmitBid(ctx, form)
			})
		},
	}
	cmd.Flags().StringVar(&form.ParentID, "parent", "", "parent offer id")
	cmd.Flags().StringVar(&form.Quantity, "quantity", "", "quantity")
	cmd.Flags().StringVar(&form.BidPrice, "price", "", "bid price per unit")
	return cmd
}

func marketApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkflow(cmd.Context(), func(ctx context.Context, w *marketplace.Workflow) error {
				return w.ApproveBid(ctx, strings.TrimSpace(args[0]))
			})
		},
	}
}

func marketRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkflow(cmd.Context(), func(ctx context.Context, w *marketplace.Workflow) error {
				return w.RejectBid(ctx, strings.TrimSpace(args[0]))
			})
		},
	}
}

func marketPayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <request-id>",
		Short: "Pay the advance of an approved bid",
		Long:  "Asks the backend for a payment order and serves a local checkout page for it. Running it again for a bid awaiting payment issues a fresh order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkflow(cmd.Context(), func(ctx context.Context, w *marketplace.Workflow) error {
				return w.CreatePaymentOrder(ctx, strings.TrimSpace(args[0]))
			})
		},
	}
}

func marketConfirmCmd() *cobra.Command {
	var form marketplace.PaymentForm
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm a payment whose checkout callback was lost",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkflow(cmd.Context(), func(ctx context.Context, w *marketplace.Workflow) error {
				return w.ConfirmPayment(ctx, form)
			})
		},
	}
	cmd.Flags().StringVar(&form.RequestID, "request", "", "request id")
	cmd.Flags().StringVar(&form.OrderID, "order", "", "payment order id")
	cmd.Flags().StringVar(&form.PaymentID, "payment", "", "payment id")
	return cmd
}

func marketFulfillCmd() *cobra.Command {
	var form marketplace.FulfillForm
	cmd := &cobra.Command{
		Use:   "fulfill <request-id>",
		Short: "Fulfill a paid bid with a child batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form.RequestID = args[0]
			return withWorkflow(cmd.Context(), func(ctx context.Context, w *marketplace.Workflow) error {
				return w.FulfillBid(ctx, form)
			})
		},
	}
	cmd.Flags().StringVar(&form.ChildBatchID, "child-batch", "", "child batch id")
	cmd.Flags().StringVar(&form.ProductType, "product", "", "child product type (defaults to the parent's)")
	return cmd
}

func marketViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show your marketplace dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				w, err := c.Workflow(ctx)
				if err != nil {
					return err
				}
				v := w.View()
				if viper.GetBool("json") {
					return printJSON(v)
				}
				renderView(v)
				return nil
			})
		},
	}
}

func marketHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <request-id>",
		Short: "Show the transition log of a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res := c.API.MarketplaceRequestHistory(ctx, strings.TrimSpace(args[0]))
				if err := res.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Data)
				}
				t := newTable()
				t.AppendHeader(table.Row{"#", "At", "Event", "Details"})
				for _, e := range res.Data {
					t.AppendRow(table.Row{e.ID, e.Timestamp, e.Type, orDash(e.Payload)})
				}
				t.Render()
				return nil
			})
		},
	}
}

// withWorkflow runs one marketplace action and reports its outcome the way
// the dashboard would: the success banner, or the error banner with the
// backend's message.
// checkoutPrompt names the order being paid so a retry shows its fresh id.
func checkoutPrompt(url string, opts checkout.Options) string {
	return fmt.Sprintf("Payment order %s for %s %s. Open %s in a browser to complete the payment.",
		opts.OrderID, decimal.New(opts.Amount, -2).StringFixed(2), opts.Currency, url)
}

func withWorkflow(ctx context.Context, fn func(context.Context, *marketplace.Workflow) error) error {
	return withClient(ctx, func(ctx context.Context, c *app.Client) error {
		w, err := c.Workflow(ctx)
		if err != nil {
			return err
		}
		actionErr := fn(ctx, w)
		v := w.View()
		if errors.Is(actionErr, checkout.ErrDismissed) {
			fmt.Println(v.Error)
			return nil
		}
		if actionErr != nil {
			if v.Error != "" {
				return errors.New(v.Error)
			}
			return actionErr
		}
		if viper.GetBool("json") {
			return printJSON(v)
		}
		fmt.Println(v.Success)
		if v.Error != "" {
			fmt.Println("warning:", v.Error)
		}
		return nil
	})
}

func renderOffers(offers []freshchainsdk.ParentOffer) {
	t := newTable()
	t.AppendHeader(table.Row{"Offer", "Batch", "Product", "Price", "Available", "Status", "Producer"})
	for _, o := range offers {
		t.AppendRow(table.Row{
			o.ParentID,
			o.ParentBatchNumber,
			o.ProductType,
			fmt.Sprintf("%g %s/%s", o.BasePrice, o.PricingCurrency, o.Unit),
			fmt.Sprintf("%g / %g %s", o.AvailableQuantity, o.TotalQuantity, o.Unit),
			marketplace.StatusLabel(o.Status),
			o.Producer,
		})
	}
	t.Render()
}

func requestRow(r freshchainsdk.MarketplaceRequest, actions string) table.Row {
	offer := r.ParentBatchNumber
	if offer == "" {
		offer = r.ParentID
	}
	row := table.Row{
		r.RequestID,
		offer,
		r.Retailer,
		r.Quantity,
		fmt.Sprintf("%g %s", r.BidPrice, r.Currency),
		marketplace.AdvanceAmount(r).String() + " " + r.Currency,
		marketplace.StatusLabel(r.Status),
		orDash(paymentColumn(r)),
	}
	if actions != "" {
		row = append(row, actions)
	}
	return row
}

func paymentColumn(r freshchainsdk.MarketplaceRequest) string {
	if r.ChildBatchID != "" {
		return "child " + r.ChildBatchID
	}
	if r.Payment != nil {
		return r.Payment.OrderID
	}
	return ""
}

func renderView(v marketplace.View) {
	fmt.Printf("Marketplace (%s)\n", v.Role)
	if v.Error != "" {
		fmt.Println("error:", v.Error)
	}
	if len(v.Drafts) > 0 {
		fmt.Println("\nDraft offers")
		drafts := make([]freshchainsdk.ParentOffer, 0, len(v.Drafts))
		for _, o := range v.Drafts {
			drafts = append(drafts, o.ParentOffer)
		}
		renderOffers(drafts)
	}
	fmt.Println("\nPublished offers")
	published := make([]freshchainsdk.ParentOffer, 0, len(v.Published))
	for _, o := range v.Published {
		published = append(published, o.ParentOffer)
	}
	renderOffers(published)

	fmt.Println("\nRequests")
	t := newTable()
	t.AppendHeader(table.Row{"Request", "Offer", "Retailer", "Qty", "Bid", "Advance", "Status", "Payment", "Next"})
	for _, r := range v.Requests {
		next := make([]string, 0, len(r.Actions))
		for _, a := range r.Actions {
			next = append(next, string(a))
		}
		t.AppendRow(requestRow(r.MarketplaceRequest, orDash(strings.Join(next, ", "))))
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Fulfilled", v.Fulfilled, ""})
	t.Render()
	if v.PaymentOrder != nil {
		fmt.Printf("Open payment order %s for %s %s\n", v.PaymentOrder.OrderID, decimal.New(v.PaymentOrder.Amount, -2).StringFixed(2), v.PaymentOrder.Currency)
	}
}
