package networkdefinition

import (
	"fmt"
	"strings"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
)

// DefaultIdentifier is the network used when the configuration names none.
const DefaultIdentifier = "camp_testnet"

// NetworkDefinitionProvider resolves network definitions by identifier or chain ID.
type NetworkDefinitionProvider struct {
	logger  port.Logger
	defs    map[string]entity.NetworkDefinition
	ordered []string
}

// Predefined network definitions
var ( //nolint:gochecknoglobals // Global for definitions
	CampTestnet = entity.NetworkDefinition{
		ChainID:            325000,
		Name:               "Camp Network Testnet V2",
		Identifier:         DefaultIdentifier,
		NativeSymbol:       "ETH",
		Decimals:           18,
		PrimaryRPCURL:      "https://rpc-camp-network-4xje7wy105.t.conduit.xyz",
		FallbackRPCURLs:    []string{},
		BlockExplorerURL:   "https://camp-network-testnet.blockscout.com",
		DEXScreenerChainID: "",
	}
	Sepolia = entity.NetworkDefinition{
		ChainID:            11155111,
		Name:               "Ethereum Sepolia",
		Identifier:         "sepolia",
		NativeSymbol:       "ETH",
		Decimals:           18,
		PrimaryRPCURL:      "https://ethereum-sepolia-rpc.publicnode.com",
		FallbackRPCURLs:    []string{"https://rpc.sepolia.org"},
		BlockExplorerURL:   "https://sepolia.etherscan.io",
		DEXScreenerChainID: "",
	}
	Base = entity.NetworkDefinition{
		ChainID:            8453,
		Name:               "Base Mainnet",
		Identifier:         "base",
		NativeSymbol:       "ETH",
		Decimals:           18,
		PrimaryRPCURL:      "https://1rpc.io/base",
		FallbackRPCURLs:    []string{"https://base.publicnode.com", "https://base.llamarpc.com"},
		BlockExplorerURL:   "https://basescan.org",
		DEXScreenerChainID: "base",
	}
)

// NewNetworkDefinitionProvider creates a provider over the built-in definitions. Entries in
// overrides replace a built-in definition with the same identifier or add a new one; empty
// fields of an override fall back to the built-in values.
func NewNetworkDefinitionProvider(log port.Logger, overrides []entity.NetworkDefinition) *NetworkDefinitionProvider {
	p := &NetworkDefinitionProvider{
		logger: log,
		defs:   make(map[string]entity.NetworkDefinition),
	}
	for _, def := range []entity.NetworkDefinition{CampTestnet, Sepolia, Base} {
		p.add(def)
	}

	for _, o := range overrides {
		id := strings.ToLower(strings.TrimSpace(o.Identifier))
		if id == "" {
			p.logger.Warn("Ignoring network override without identifier", "name", o.Name)
			continue
		}
		o.Identifier = id
		if base, ok := p.defs[id]; ok {
			o = merge(base, o)
			p.logger.Debug(fmt.Sprintf("Network '%s' overridden from configuration", id))
		} else if o.ChainID == 0 || o.PrimaryRPCURL == "" {
			p.logger.Warn("Ignoring custom network without chain ID or RPC URL", "identifier", id)
			continue
		}
		p.add(o)
	}

	p.logger.Info(fmt.Sprintf("NetworkDefinitionProvider initialized. Known networks: %d", len(p.ordered)))
	return p
}

func (p *NetworkDefinitionProvider) add(def entity.NetworkDefinition) {
	if _, exists := p.defs[def.Identifier]; !exists {
		p.ordered = append(p.ordered, def.Identifier)
	}
	p.defs[def.Identifier] = def
}

func merge(base, o entity.NetworkDefinition) entity.NetworkDefinition {
	if o.ChainID != 0 {
		base.ChainID = o.ChainID
	}
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.NativeSymbol != "" {
		base.NativeSymbol = o.NativeSymbol
	}
	if o.Decimals != 0 {
		base.Decimals = o.Decimals
	}
	if o.PrimaryRPCURL != "" {
		base.PrimaryRPCURL = o.PrimaryRPCURL
	}
	if len(o.FallbackRPCURLs) > 0 {
		base.FallbackRPCURLs = o.FallbackRPCURLs
	}
	if o.BlockExplorerURL != "" {
		base.BlockExplorerURL = o.BlockExplorerURL
	}
	if o.DEXScreenerChainID != "" {
		base.DEXScreenerChainID = o.DEXScreenerChainID
	}
	return base
}

// GetAllNetworkDefinitions returns every known definition, built-ins first.
func (p *NetworkDefinitionProvider) GetAllNetworkDefinitions() []entity.NetworkDefinition {
	if p == nil {
		return []entity.NetworkDefinition{}
	}
	defs := make([]entity.NetworkDefinition, 0, len(p.ordered))
	for _, id := range p.ordered {
		defs = append(defs, p.defs[id])
	}
	return defs
}

// GetNetworkDefinitionByName returns a definition by its identifier (case-insensitive).
func (p *NetworkDefinitionProvider) GetNetworkDefinitionByName(identifier string) (entity.NetworkDefinition, bool) {
	if p == nil {
		return entity.NetworkDefinition{}, false
	}
	def, ok := p.defs[strings.ToLower(strings.TrimSpace(identifier))]
	return def, ok
}

// GetNetworkDefinitionByChainID returns a definition by chain ID.
func (p *NetworkDefinitionProvider) GetNetworkDefinitionByChainID(chainID uint64) (entity.NetworkDefinition, bool) {
	if p == nil {
		return entity.NetworkDefinition{}, false
	}
	for _, id := range p.ordered {
		if def := p.defs[id]; def.ChainID == chainID {
			return def, true
		}
	}
	return entity.NetworkDefinition{}, false
}
