package wallet

import (
	"regexp"
	"strings"
)

const TxExplorerBase = "https://explorer-mezame.shardeum.org/tx/"

var realTxHash = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

// TxInfo describes how to display a backend transaction hash.
type TxInfo struct {
	Hash        string `json:"hash"`
	IsReal      bool   `json:"isReal"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	DisplayText string `json:"displayText"`
}

func IsRealTxHash(hash string) bool {
	return realTxHash.MatchString(hash)
}

// IsDemoTxHash reports hashes the backend issues when it runs without a chain.
func IsDemoTxHash(hash string) bool {
	return strings.HasPrefix(hash, "DEMO-")
}

func DescribeTx(hash string) TxInfo {
	switch {
	case hash == "":
		return TxInfo{DisplayText: "N/A"}
	case IsRealTxHash(hash):
		return TxInfo{
			Hash:        hash,
			IsReal:      true,
			ExplorerURL: TxExplorerBase + hash,
			DisplayText: hash[:6] + "..." + hash[len(hash)-4:],
		}
	case IsDemoTxHash(hash):
		end := 13
		if len(hash) < end {
			end = len(hash)
		}
		return TxInfo{Hash: hash, DisplayText: "Demo: " + hash[5:end] + "..."}
	case len(hash) > 10:
		return TxInfo{Hash: hash, DisplayText: hash[:8] + "..."}
	default:
		return TxInfo{Hash: hash, DisplayText: hash}
	}
}
