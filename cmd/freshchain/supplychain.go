package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freshchain/internal/app"
	"freshchain/internal/domain"
	"freshchain/internal/qr"
	"freshchain/internal/wallet"
	freshchainsdk "freshchain/sdk/go"
)

func batchCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "batch",
		Short: "Track product batches",
		Long:  "Batches move Created -> Harvested -> In Transit -> At Retailer -> Selling. Every change is recorded on-chain by the backend.",
	}
	b.AddCommand(batchGetCmd())
	b.AddCommand(batchListCmd())
	b.AddCommand(batchCreateCmd())
	b.AddCommand(batchUpdateStageCmd())
	b.AddCommand(batchAlertCmd())
	return b
}

func batchGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <batch-id>",
		Short: "Show a batch with its location history and alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res := c.API.GetBatchDetails(ctx, strings.TrimSpace(args[0]))
				if err := res.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Data)
				}
				renderBatches([]freshchainsdk.BatchDetails{res.Data})
				if len(res.Data.LocationHistory) > 0 {
					fmt.Println("\nHistory")
					t := newTable()
					t.AppendHeader(table.Row{"Stage", "Location", "At", "By", "Tx"})
					for _, h := range res.Data.LocationHistory {
						t.AppendRow(table.Row{h.Stage, h.Location, h.Timestamp, orDash(h.UpdatedBy), wallet.DescribeTx(h.TransactionHash).DisplayText})
					}
					t.Render()
				}
				if len(res.Data.Alerts) > 0 {
					fmt.Println("\nAlerts")
					t := newTable()
					t.AppendHeader(table.Row{"Type", "At", "Tx"})
					for _, a := range res.Data.Alerts {
						t.AppendRow(table.Row{a.AlertType, a.Timestamp, wallet.DescribeTx(a.TransactionHash).DisplayText})
					}
					t.Render()
				}
				return nil
			})
		},
	}
}

func batchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res := c.API.ListAllBatches(ctx)
				if err := res.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Data)
				}
				renderBatches(res.Data)
				return nil
			})
		},
	}
}

func batchCreateCmd() *cobra.Command {
	var req freshchainsdk.BatchCreationRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := requireAction(c, domain.ActionCreateBatch); err != nil {
					return err
				}
				return printMutation(c.API.CreateBatch(ctx, req), "Batch "+req.BatchID+" created.")
			})
		},
	}
	cmd.Flags().StringVar(&req.BatchID, "id", "", "batch id")
	cmd.Flags().StringVar(&req.ProductType, "product", "", "product type")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func batchUpdateStageCmd() *cobra.Command {
	var req freshchainsdk.BatchUpdateRequest
	cmd := &cobra.Command{
		Use:   "update-stage",
		Short: "Move a batch to its next stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := requireAction(c, domain.ActionUpdateStage); err != nil {
					return err
				}
				return printMutation(c.API.UpdateBatchStage(ctx, req), fmt.Sprintf("Batch %s is now %s.", req.BatchID, req.Stage))
			})
		},
	}
	cmd.Flags().StringVar(&req.BatchID, "id", "", "batch id")
	cmd.Flags().StringVar(&req.Stage, "stage", "", "stage (Harvested, In Transit, At Retailer, Selling)")
	cmd.Flags().StringVar(&req.Location, "location", "", "current location")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func batchAlertCmd() *cobra.Command {
	var req freshchainsdk.ReportAlertRequest
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Report an alert on a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := requireAction(c, domain.ActionReportAlert); err != nil {
					return err
				}
				return printMutation(c.API.ReportAlert(ctx, req), "Alert recorded for batch "+req.BatchID+".")
			})
		},
	}
	cmd.Flags().StringVar(&req.BatchID, "id", "", "batch id")
	cmd.Flags().StringVar(&req.AlertType, "type", "", "alert type, e.g. temperature")
	cmd.Flags().StringVar(&req.EncryptedData, "data", "", "encrypted alert payload")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func sensorCmd() *cobra.Command {
	s := &cobra.Command{Use: "sensor", Short: "IoT sensors attached to batches"}
	s.AddCommand(sensorRegisterCmd())
	s.AddCommand(sensorSubmitCmd())
	s.AddCommand(sensorReadingsCmd())
	s.AddCommand(sensorLinkCmd())
	return s
}

func sensorRegisterCmd() *cobra.Command {
	var req freshchainsdk.SensorRegistration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a sensor for a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				return printMutation(c.API.RegisterSensor(ctx, req), "Sensor "+req.SensorID+" registered.")
			})
		},
	}
	cmd.Flags().StringVar(&req.SensorID, "sensor", "", "sensor id")
	cmd.Flags().StringVar(&req.BatchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&req.SensorType, "type", freshchainsdk.SensorTransporter, "sensor type (transporter, retailer)")
	_ = cmd.MarkFlagRequired("sensor")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func sensorSubmitCmd() *cobra.Command {
	var req freshchainsdk.SensorDataSubmission
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a temperature and humidity reading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				return printMutation(c.API.SubmitSensorData(ctx, req), "Reading submitted.")
			})
		},
	}
	cmd.Flags().StringVar(&req.BatchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&req.SensorID, "sensor", "", "sensor id")
	cmd.Flags().Float64Var(&req.Temperature, "temperature", 0, "temperature in C")
	cmd.Flags().Float64Var(&req.Humidity, "humidity", 0, "relative humidity in %")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("sensor")
	return cmd
}

func sensorReadingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readings <batch-id>",
		Short: "List sensor readings of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res := c.API.GetSensorReadings(ctx, strings.TrimSpace(args[0]))
				if err := res.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Data.Readings)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Sensor", "Type", "Temp", "Humidity", "At", "Source"})
				for _, r := range res.Data.Readings {
					t.AppendRow(table.Row{r.SensorID, r.SensorType, r.Temperature, r.Humidity, r.Timestamp, orDash(r.Source)})
				}
				t.Render()
				return nil
			})
		},
	}
}

func sensorLinkCmd() *cobra.Command {
	var req freshchainsdk.QRLinkRequest
	var image string
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a sensor to a batch, optionally from a scanned QR image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if image != "" {
				f, err := os.Open(image)
				if err != nil {
					return err
				}
				text, err := qr.DecodeImage(f)
				f.Close()
				if err != nil {
					return err
				}
				batchID, err := qr.ParsePayload(text)
				if err != nil {
					return err
				}
				req.QRPayload = text
				if req.BatchID == "" {
					req.BatchID = batchID
				}
			}
			if req.BatchID == "" {
				return fmt.Errorf("--batch or --qr-image is required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := requireAction(c, domain.ActionLinkSensor); err != nil {
					return err
				}
				return printMutation(c.API.LinkSensorToBatch(ctx, req), fmt.Sprintf("Sensor %s linked to batch %s.", req.SensorID, req.BatchID))
			})
		},
	}
	cmd.Flags().StringVar(&req.BatchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&req.SensorID, "sensor", "", "sensor id")
	cmd.Flags().StringVar(&req.LocationType, "location-type", freshchainsdk.SensorTransporter, "transporter or retailer")
	cmd.Flags().StringVar(&image, "qr-image", "", "image of the batch QR code")
	_ = cmd.MarkFlagRequired("sensor")
	return cmd
}

func freshnessCmd() *cobra.Command {
	f := &cobra.Command{Use: "freshness", Short: "AI freshness scoring"}
	var batchID string
	scan := &cobra.Command{
		Use:   "scan <image>",
		Short: "Score the freshness of produce in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res := c.API.ScanFreshness(ctx, args[0], file, batchID)
				if err := res.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Data)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Score", "Category", "Confidence", "Message"})
				t.AppendRow(table.Row{res.Data.FreshnessScore, res.Data.FreshnessCategory, res.Data.Confidence, res.Data.Message})
				t.Render()
				return nil
			})
		},
	}
	scan.Flags().StringVar(&batchID, "batch", "", "attach the score to this batch")
	f.AddCommand(scan)
	return f
}

func qrCmd() *cobra.Command {
	q := &cobra.Command{Use: "qr", Short: "Product QR codes"}
	q.AddCommand(&cobra.Command{
		Use:   "decode <image>",
		Short: "Print the batch id encoded in a QR image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			batchID, err := qr.DecodeBatchID(f)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"batchId": batchID})
			}
			fmt.Println(batchID)
			return nil
		},
	})
	return q
}

func walletCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "wallet",
		Short: "Admin wallet connection",
		Long:  "Talks to the wallet provider at wallet.provider_url. Business transactions are signed by the backend; the wallet only proves who the admin is.",
	}
	w.AddCommand(walletStatusCmd())
	w.AddCommand(walletConnectCmd())
	w.AddCommand(walletSwitchCmd())
	w.AddCommand(walletBalanceCmd())
	w.AddCommand(walletSignCmd())
	w.AddCommand(walletSendCmd())
	return w
}

func walletStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local wallet and the backend signer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				account, _ := c.Wallet.CurrentAccount(ctx)
				status := map[string]any{
					"installed":     c.Wallet.IsInstalled(),
					"account":       account,
					"chainId":       c.Wallet.ChainID(ctx),
					"onTargetChain": c.Wallet.OnTargetChain(ctx),
					"targetChain":   c.Wallet.Chain.Name,
				}
				if c.Session.NeedsWallet() {
					res := c.API.WalletStatus(ctx)
					if err := res.Err(); err != nil {
						status["backend"] = err.Error()
					} else {
						status["backend"] = json.RawMessage(res.Data)
					}
				}
				if viper.GetBool("json") {
					return printJSON(status)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Installed", "Account", "Chain", "Target", "On target"})
				t.AppendRow(table.Row{status["installed"], orDash(account), status["chainId"], c.Wallet.Chain.ID, status["onTargetChain"]})
				t.Render()
				if backend, ok := status["backend"]; ok {
					fmt.Printf("Backend wallet: %s\n", backend)
				}
				return nil
			})
		},
	}
}

func walletConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Request account access from the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				accounts, err := c.Wallet.Connect(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(accounts)
				}
				fmt.Println("Connected:", strings.Join(accounts, ", "))
				return nil
			})
		},
	}
}

func walletSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch",
		Short: "Switch the wallet to the configured chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Wallet.SwitchNetwork(ctx); err != nil {
					return err
				}
				fmt.Printf("Wallet on %s (%s).\n", c.Wallet.Chain.Name, c.Wallet.Chain.ID)
				return nil
			})
		},
	}
}

func walletBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Native balance of an address, the connected account by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				var address string
				if len(args) == 1 {
					address = args[0]
				} else {
					acc, ok := c.Wallet.CurrentAccount(ctx)
					if !ok {
						return wallet.ErrNoAccounts
					}
					address = acc
				}
				fmt.Printf("%s %s\n", c.Wallet.Balance(ctx, address), c.Wallet.Chain.Currency.Symbol)
				return nil
			})
		},
	}
}

func walletSignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <message>",
		Short: "Sign a message with the connected account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				sig, err := c.Wallet.SignMessage(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(sig)
				return nil
			})
		},
	}
}

func walletSendCmd() *cobra.Command {
	var tx wallet.TransactionRequest
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a transaction from the connected account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				hash, err := c.Wallet.SendTransaction(ctx, tx)
				if err != nil {
					return err
				}
				info := wallet.DescribeTx(hash)
				if viper.GetBool("json") {
					return printJSON(info)
				}
				fmt.Println(info.DisplayText)
				if info.ExplorerURL != "" {
					fmt.Println(info.ExplorerURL)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tx.To, "to", "", "recipient or contract address")
	cmd.Flags().StringVar(&tx.Data, "data", "0x", "call data")
	cmd.Flags().StringVar(&tx.Value, "value", "", "value in hex wei")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func renderBatches(batches []freshchainsdk.BatchDetails) {
	t := newTable()
	t.AppendHeader(table.Row{"Batch", "Product", "Stage", "Location", "Created", "Active"})
	for _, b := range batches {
		t.AppendRow(table.Row{b.BatchID, b.ProductType, b.CurrentStage, orDash(b.CurrentLocation), b.Created, b.IsActive})
	}
	t.Render()
}

// printMutation reports a backend write with its transaction hash.
func printMutation(res freshchainsdk.Response[json.RawMessage], done string) error {
	if err := res.Err(); err != nil {
		return err
	}
	tx := wallet.DescribeTx(res.TransactionHash)
	if viper.GetBool("json") {
		return printJSON(map[string]any{"message": messageOrDefault(res.Message, done), "transaction": tx, "data": res.Data})
	}
	fmt.Println(messageOrDefault(res.Message, done))
	fmt.Println("Transaction:", tx.DisplayText)
	if tx.ExplorerURL != "" {
		fmt.Println(tx.ExplorerURL)
	}
	return nil
}

func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
