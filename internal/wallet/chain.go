package wallet

// Currency is the native currency of a chain.
type Currency struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// Chain is the target network for the admin wallet.
type Chain struct {
	ID           string   `json:"chainId" yaml:"id"`
	Name         string   `json:"chainName" yaml:"name"`
	Currency     Currency `json:"nativeCurrency" yaml:"currency"`
	RPCURLs      []string `json:"rpcUrls" yaml:"rpc_urls"`
	ExplorerURLs []string `json:"blockExplorerUrls" yaml:"explorer_urls"`
}

// DefaultChain is the Shardeum testnet.
func DefaultChain() Chain {
	return Chain{
		ID:           "0x1fb7",
		Name:         "Shardeum Testnet",
		Currency:     Currency{Name: "Shardeum", Symbol: "SHM", Decimals: 18},
		RPCURLs:      []string{"https://api-mezame.shardeum.org/"},
		ExplorerURLs: []string{"https://explorer.shardeum.org/"},
	}
}
