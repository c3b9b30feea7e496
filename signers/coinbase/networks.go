package coinbase

import (
	"fmt"

	"github.com/x402labs/x402-go"
)

// cdpNetworks maps canonical network identifiers to the network names
// the CDP wallet API expects. Networks outside this map cannot be served
// by a CDP signer even when the core library knows them.
var cdpNetworks = map[string]string{
	"base":          "base-mainnet",
	"base-sepolia":  "base-sepolia",
	"solana":        "solana-mainnet",
	"solana-devnet": "solana-devnet",
}

// cdpNetworkID translates an x402 network, in either V1 slug or CAIP-2
// form, to the CDP network identifier used when creating accounts.
func cdpNetworkID(network string) (string, error) {
	canonical := network
	if c, ok := x402.GetChainConfig(network); ok {
		canonical = c.NetworkID
	}
	id, ok := cdpNetworks[canonical]
	if !ok {
		return "", fmt.Errorf("%w: CDP wallets do not support %s", x402.ErrInvalidNetwork, network)
	}
	return id, nil
}

// accountsPath returns the CDP account collection path for a chain
// family. EVM and SVM accounts live under separate API trees.
func accountsPath(networkType x402.NetworkType) (string, error) {
	switch networkType {
	case x402.NetworkTypeEVM:
		return "/platform/v2/evm/accounts", nil
	case x402.NetworkTypeSVM:
		return "/platform/v2/solana/accounts", nil
	default:
		return "", fmt.Errorf("%w: no CDP account family for the network", x402.ErrInvalidNetwork)
	}
}
