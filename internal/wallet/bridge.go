// Package wallet bridges the admin dashboard to an external wallet provider.
// It never signs business transactions; the backend does that with its own
// key.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrConnectionRejected  = errors.New("User rejected the connection request")
	ErrTransactionRejected = errors.New("User rejected the transaction")
	ErrSignatureRejected   = errors.New("User rejected the signature request")
	ErrNoAccounts          = errors.New("no accounts connected")
)

const fallbackChainID = "0x1"

type TransactionRequest struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}

type Bridge struct {
	Provider Provider
	Chain    Chain
	Logger   *zap.Logger
}

// New returns a bridge; p may be nil when no wallet is configured.
func New(p Provider, chain Chain, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{Provider: p, Chain: chain, Logger: logger}
}

func (b *Bridge) IsInstalled() bool {
	return b.Provider != nil
}

func (b *Bridge) IsConnected(ctx context.Context) bool {
	return len(b.Accounts(ctx)) > 0
}

// Connect asks the wallet to expose its accounts.
func (b *Bridge) Connect(ctx context.Context) ([]string, error) {
	if !b.IsInstalled() {
		return nil, ErrNotInstalled
	}
	raw, err := b.Provider.Request(ctx, "eth_requestAccounts")
	if err != nil {
		return nil, translate(err, ErrConnectionRejected)
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	b.Logger.Info("wallet connected", zap.Int("accounts", len(accounts)))
	return accounts, nil
}

// Accounts lists connected accounts; failures read as none.
func (b *Bridge) Accounts(ctx context.Context) []string {
	if !b.IsInstalled() {
		return nil
	}
	raw, err := b.Provider.Request(ctx, "eth_accounts")
	if err != nil {
		b.Logger.Debug("eth_accounts failed", zap.Error(err))
		return nil
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil
	}
	return accounts
}

func (b *Bridge) CurrentAccount(ctx context.Context) (string, bool) {
	accounts := b.Accounts(ctx)
	if len(accounts) == 0 {
		return "", false
	}
	return accounts[0], true
}

// Balance returns the native balance of address in ether with four decimals,
// "0" when it cannot be read.
func (b *Bridge) Balance(ctx context.Context, address string) string {
	if !b.IsInstalled() {
		return "0"
	}
	raw, err := b.Provider.Request(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return "0"
	}
	var hexWei string
	if err := json.Unmarshal(raw, &hexWei); err != nil {
		return "0"
	}
	eth, ok := WeiToEther(hexWei)
	if !ok {
		return "0"
	}
	return eth
}

// WeiToEther converts a 0x-prefixed wei quantity to ether with four decimals.
func WeiToEther(hexWei string) (string, bool) {
	wei, ok := new(big.Int).SetString(strings.TrimPrefix(strings.ToLower(hexWei), "0x"), 16)
	if !ok {
		return "", false
	}
	return decimal.NewFromBigInt(wei, -18).StringFixed(4), true
}

// ChainID returns the wallet's current chain, 0x1 when unknown.
func (b *Bridge) ChainID(ctx context.Context) string {
	if !b.IsInstalled() {
		return fallbackChainID
	}
	raw, err := b.Provider.Request(ctx, "eth_chainId")
	if err != nil {
		return fallbackChainID
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return fallbackChainID
	}
	return id
}

// OnTargetChain reports whether the wallet is on the configured chain.
func (b *Bridge) OnTargetChain(ctx context.Context) bool {
	return strings.EqualFold(b.ChainID(ctx), b.Chain.ID)
}

// SwitchNetwork moves the wallet to the configured chain, adding it first if
// the wallet does not know it.
func (b *Bridge) SwitchNetwork(ctx context.Context) error {
	if !b.IsInstalled() {
		return ErrNotInstalled
	}
	_, err := b.Provider.Request(ctx, "wallet_switchEthereumChain", map[string]string{"chainId": b.Chain.ID})
	if err == nil {
		return nil
	}
	if code, ok := providerCode(err); !ok || code != CodeUnknownChain {
		return translate(err, nil)
	}
	b.Logger.Info("adding chain to wallet", zap.String("chain_id", b.Chain.ID), zap.String("name", b.Chain.Name))
	if _, err := b.Provider.Request(ctx, "wallet_addEthereumChain", b.Chain); err != nil {
		return translate(err, nil)
	}
	return nil
}

// SendTransaction submits tx from the first connected account.
func (b *Bridge) SendTransaction(ctx context.Context, tx TransactionRequest) (string, error) {
	if !b.IsInstalled() {
		return "", ErrNotInstalled
	}
	from, ok := b.CurrentAccount(ctx)
	if !ok {
		return "", ErrNoAccounts
	}
	params := map[string]string{"from": from, "to": tx.To, "data": tx.Data}
	for k, v := range map[string]string{"value": tx.Value, "gas": tx.Gas, "gasPrice": tx.GasPrice} {
		if v != "" {
			params[k] = v
		}
	}
	raw, err := b.Provider.Request(ctx, "eth_sendTransaction", params)
	if err != nil {
		return "", translate(err, ErrTransactionRejected)
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("decode transaction hash: %w", err)
	}
	return hash, nil
}

// SignMessage signs message with the first connected account.
func (b *Bridge) SignMessage(ctx context.Context, message string) (string, error) {
	if !b.IsInstalled() {
		return "", ErrNotInstalled
	}
	from, ok := b.CurrentAccount(ctx)
	if !ok {
		return "", ErrNoAccounts
	}
	raw, err := b.Provider.Request(ctx, "personal_sign", message, from)
	if err != nil {
		return "", translate(err, ErrSignatureRejected)
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}

// translate maps a user rejection to rejected and passes every other provider
// error through with its raw message.
func translate(err error, rejected error) error {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return err
	}
	if pe.Code == CodeUserRejected && rejected != nil {
		return rejected
	}
	return errors.New(pe.Message)
}
