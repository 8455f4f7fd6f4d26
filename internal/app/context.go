package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"freshchain/internal/checkout"
	"freshchain/internal/config"
	"freshchain/internal/db"
	"freshchain/internal/engine"
	"freshchain/internal/marketplace"
	"freshchain/internal/migrate"
	"freshchain/internal/session"
	"freshchain/internal/wallet"
	freshchainsdk "freshchain/sdk/go"
)

// ErrNotLoggedIn is returned by operations that need a session.
var ErrNotLoggedIn = errors.New("not logged in; run freshchain login")

const backendDBName = "devserver.db"

// Client wires the collaborators of one dashboard session: the persisted
// session, the backend client authenticated from it and the admin wallet.
type Client struct {
	Config  *config.Config
	DB      *sql.DB
	Session *session.Store
	API     *freshchainsdk.Client
	Wallet  *wallet.Bridge
	Logger  *zap.Logger

	// Launch is handed the checkout page URL and its order. Nil only logs it.
	Launch func(url string, opts checkout.Options) error
}

// OpenClient opens the workspace database and restores the session from it.
func OpenClient(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate client db: %w", err)
	}
	store, err := session.Open(ctx, conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	api := freshchainsdk.New(cfg.Backend.URL)
	api.Auth = store

	var provider wallet.Provider
	if cfg.Wallet.ProviderURL != "" {
		provider = wallet.NewRPCProvider(cfg.Wallet.ProviderURL)
	}
	return &Client{
		Config:  cfg,
		DB:      conn,
		Session: store,
		API:     api,
		Wallet:  wallet.New(provider, cfg.Wallet.Chain, logger),
		Logger:  logger,
	}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Login authenticates against the backend and persists the session.
func (c *Client) Login(ctx context.Context, username, password, walletAddress string) error {
	_, err := c.Session.Login(ctx, c.API, freshchainsdk.LoginRequest{
		Username:      username,
		Password:      password,
		WalletAddress: walletAddress,
	})
	return err
}

// Checkout returns the local checkout page, or nil when no payment key is
// configured.
func (c *Client) Checkout() checkout.Checkout {
	if c.Config.Payment.KeyID == "" {
		return nil
	}
	return &checkout.Browser{
		ScriptURL: c.Config.Payment.ScriptURL,
		Launch:    c.Launch,
		Logger:    c.Logger,
	}
}

// Workflow builds the marketplace workflow for the logged in user and loads
// its first snapshot. A failed load is reported through the view, not as an
// error.
func (c *Client) Workflow(ctx context.Context) (*marketplace.Workflow, error) {
	u, ok := c.Session.User()
	if !ok || !c.Session.IsAuthenticated() {
		return nil, ErrNotLoggedIn
	}
	w := marketplace.New(c.API, u, c.Checkout(), marketplace.PaymentSettings{
		KeyID:        c.Config.Payment.KeyID,
		MerchantName: c.Config.Payment.MerchantName,
		ThemeColor:   c.Config.Payment.ThemeColor,
	}, c.Logger)
	_ = w.Load(ctx)
	return w, nil
}

// OpenBackend opens the development backend database, migrates it and seeds
// the configured users. The returned close func releases the database.
func OpenBackend(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (engine.Engine, func() error, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Name: backendDBName})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate backend db: %w", err)
	}
	e := engine.New(conn, cfg, logger)
	seeded, err := e.SeedUsers(ctx, cfg.DevServer.Users)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("seed users: %w", err)
	}
	if seeded > 0 {
		e.Logger.Info("seeded users", zap.Int("count", seeded))
	}
	return e, conn.Close, nil
}
