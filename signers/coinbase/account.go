package coinbase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/x402labs/x402-go"
)

// Account is a CDP-managed wallet. The address is an 0x hex address for
// EVM accounts and a base58 public key for SVM accounts.
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// createAccountRequest is the POST body for creating a named account on
// a CDP network.
type createAccountRequest struct {
	Name      string `json:"name"`
	NetworkID string `json:"network_id"`
}

// accountNamePattern enforces CDP account naming: 2 to 36 characters,
// alphanumeric and hyphens, starting and ending alphanumeric.
var accountNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,34}[a-zA-Z0-9]$`)

func validateAccountName(name string) error {
	if !accountNamePattern.MatchString(name) {
		return x402.NewValidationError("accountName",
			"must be 2-36 alphanumeric or hyphen characters, starting and ending alphanumeric")
	}
	return nil
}

// CreateOrGetAccount resolves a named CDP account on the given network,
// creating it when it does not exist yet. Account names are unique per
// CDP project, so repeated calls with the same name return the same
// wallet rather than minting new ones.
func CreateOrGetAccount(ctx context.Context, client *Client, network, name string) (*Account, error) {
	if err := validateAccountName(name); err != nil {
		return nil, err
	}

	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", x402.ErrInvalidNetwork, network)
	}
	base, err := accountsPath(networkType)
	if err != nil {
		return nil, err
	}
	cdpNetwork, err := cdpNetworkID(network)
	if err != nil {
		return nil, err
	}

	var account Account
	err = client.doWithRetry(ctx, http.MethodGet, base+"/by-name/"+name, nil, &account, false)
	if err == nil {
		if account.Address == "" {
			return nil, fmt.Errorf("CDP returned account %q without an address", name)
		}
		return &account, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.NotFound() {
		return nil, fmt.Errorf("look up account %q: %w", name, err)
	}

	created := Account{}
	req := createAccountRequest{Name: name, NetworkID: cdpNetwork}
	if err := client.doWithRetry(ctx, http.MethodPost, base, req, &created, false); err != nil {
		return nil, fmt.Errorf("create account %q: %w", name, err)
	}
	if created.Address == "" {
		return nil, fmt.Errorf("CDP returned account %q without an address", name)
	}
	return &created, nil
}
