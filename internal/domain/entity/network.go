package entity

// NetworkDefinition holds the configuration for a specific blockchain network.
// This structure is defined at the domain level to be used across application and infrastructure layers.
type NetworkDefinition struct {
	ChainID            uint64   `json:"chainId" yaml:"chainId"`
	Name               string   `json:"name" yaml:"name"`
	Identifier         string   `json:"identifier" yaml:"identifier"`
	NativeSymbol       string   `json:"nativeSymbol" yaml:"nativeSymbol"`
	Decimals           int32    `json:"decimals" yaml:"decimals"`
	PrimaryRPCURL      string   `json:"primaryRpcUrl" yaml:"primaryRpcUrl"`
	FallbackRPCURLs    []string `json:"fallbackRpcUrls" yaml:"fallbackRpcUrls"`
	BlockExplorerURL   string   `json:"blockExplorerUrl,omitempty" yaml:"blockExplorerUrl,omitempty"`
	DEXScreenerChainID string   `json:"dexScreenerChainId,omitempty" yaml:"dexScreenerChainId,omitempty"`
}

// TxURL returns the block explorer link for a transaction hash, or "" when no explorer is known.
func (n NetworkDefinition) TxURL(txHash string) string {
	if n.BlockExplorerURL == "" || txHash == "" {
		return ""
	}
	return n.BlockExplorerURL + "/tx/" + txHash
}
