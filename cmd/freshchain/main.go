package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"freshchain/internal/app"
	"freshchain/internal/checkout"
	"freshchain/internal/config"
	"freshchain/internal/db"
	"freshchain/internal/domain"
	"freshchain/internal/server"
	"freshchain/internal/wallet"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "freshchain",
	Short: "FreshChain supply chain dashboard",
	Long: `FreshChain tracks produce from harvest to shelf.
- Roles: admin, aggregator, producer, retailer, transporter and consumer each get their own dashboard (see 'freshchain nav').
- Marketplace: producers record harvests as parent offers and publish them; retailers bid; producers approve or reject;
  retailers pay an advance through the checkout page; producers fulfill paid bids with a child batch.
- Batches and sensors: stage updates, alerts and IoT readings recorded on-chain by the backend.
- Session: 'freshchain login' stores the token in the workspace database; later commands reuse it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		l, err := newLogger(viper.GetBool("verbose"))
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FRESHCHAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("backend-url", "", "backend base URL (overrides freshchain.yml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "development logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("backend-url", rootCmd.PersistentFlags().Lookup("backend-url"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(navCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(marketCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(sensorCmd())
	rootCmd.AddCommand(freshnessCmd())
	rootCmd.AddCommand(qrCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(devserverCmd())
	rootCmd.AddCommand(configCmd())
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func loginCmd() *cobra.Command {
	var username, password, walletAddress string
	var connectWallet bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session in the workspace",
		Long:  "Log in with a seeded or registered account. The admin account must present a wallet address, either with --wallet or --connect-wallet.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if connectWallet && walletAddress == "" {
					accounts, err := c.Wallet.Connect(ctx)
					if err != nil {
						return err
					}
					if len(accounts) == 0 {
						return wallet.ErrNoAccounts
					}
					walletAddress = accounts[0]
				}
				if err := c.Login(ctx, username, password, walletAddress); err != nil {
					return err
				}
				u, _ := c.Session.User()
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Printf("Logged in as %s (%s). Dashboard: %s\n", u.Username, u.Role, domain.RoleProfile(u.Role).Dashboard)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().StringVar(&walletAddress, "wallet", "", "wallet address (admin only)")
	cmd.Flags().BoolVar(&connectWallet, "connect-wallet", false, "request the address from the configured wallet provider")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Session.Logout(ctx); err != nil {
					return err
				}
				fmt.Println("Logged out.")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				u, ok := c.Session.User()
				if !ok {
					return app.ErrNotLoggedIn
				}
				profile := domain.RoleProfile(u.Role)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user": u, "profile": profile})
				}
				t := newTable()
				t.AppendHeader(table.Row{"Username", "Role", "Dashboard", "Wallet"})
				t.AppendRow(table.Row{u.Username, u.Role, profile.Dashboard, orDash(u.WalletAddress)})
				t.Render()
				return nil
			})
		},
	}
}

func navCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nav [role]",
		Short: "Show the navigation and actions of a role",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var role domain.Role
			if len(args) == 1 {
				r, ok := domain.ParseRole(args[0])
				if !ok {
					return fmt.Errorf("unknown role %q", args[0])
				}
				role = r
			} else {
				err := withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
					u, ok := c.Session.User()
					if !ok {
						return app.ErrNotLoggedIn
					}
					role = u.Role
					return nil
				})
				if err != nil {
					return err
				}
			}
			profile := domain.RoleProfile(role)
			if viper.GetBool("json") {
				return printJSON(profile)
			}
			fmt.Printf("%s dashboard: %s\n", role, profile.Dashboard)
			t := newTable()
			t.AppendHeader(table.Row{"Name", "Path", "Description"})
			for _, n := range profile.Navigation {
				t.AppendRow(table.Row{n.Name, n.Href, orDash(n.Description)})
			}
			t.Render()
			actions := make([]string, 0, len(profile.Actions))
			for _, a := range profile.Actions {
				actions = append(actions, string(a))
			}
			fmt.Println("Actions:", strings.Join(actions, ", "))
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res := c.API.Health(ctx)
				if err := res.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Data)
				}
				fmt.Printf("%s (network %s, blockchain connected: %t)\n", res.Data.Status, res.Data.Network, res.Data.BlockchainConnected)
				return nil
			})
		},
	}
}

func devserverCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve the development marketplace backend",
		Long:  "Runs a local backend with the marketplace endpoints, JWT login for the seeded users of freshchain.yml and an OpenAPI document at /openapi.json.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.DevServer.Addr
			}
			if cfg.DevServer.JWTSecret == "" {
				return fmt.Errorf("devserver.jwt_secret or FRESHCHAIN_JWT_SECRET is required")
			}
			e, closeDB, err := app.OpenBackend(cmd.Context(), workspace, cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()
			handler, err := server.New(server.Config{
				Engine: e,
				Auth:   server.AuthConfig{JWTSecret: cfg.DevServer.JWTSecret, TokenTTL: cfg.DevServer.TTL(), Logger: logger},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving FreshChain dev backend on http://%s (OpenAPI at /openapi.json, docs at /docs)\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default devserver.addr)")
	cmd.Flags().String("jwt-secret", "", "token signing secret (overrides devserver.jwt_secret)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage freshchain.yml",
		Long:  "freshchain.yml holds the backend URL, the admin wallet chain, the payment checkout settings and the development backend users. FRESHCHAIN_* environment variables override it.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default freshchain.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func resolveConfig() (*config.Config, error) {
	return config.Resolve(viper.GetString("workspace"), viper.GetViper())
}

func withClient(ctx context.Context, fn func(context.Context, *app.Client) error) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	c, err := app.OpenClient(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	c.Launch = func(url string, opts checkout.Options) error {
		fmt.Fprintln(os.Stderr, checkoutPrompt(url, opts))
		return nil
	}
	return fn(ctx, c)
}

// requireAction fails early when the session role lacks a. The backend still
// authorizes the call itself.
func requireAction(c *app.Client, a domain.Action) error {
	u, ok := c.Session.User()
	if !ok {
		return app.ErrNotLoggedIn
	}
	if !domain.RoleProfile(u.Role).Allows(a) {
		return fmt.Errorf("role %s cannot %s", u.Role, strings.ReplaceAll(string(a), "_", " "))
	}
	return nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
