package coinbase

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/eip3009"
)

// typedDataRequest is the EIP-712 document shape the CDP typed data
// signing endpoint expects: domain, types, primaryType, and message as
// top-level fields, with chainId as a JSON number.
type typedDataRequest struct {
	Domain      typedDataDomain        `json:"domain"`
	Types       map[string][]typeField `json:"types"`
	PrimaryType string                 `json:"primaryType"`
	Message     map[string]interface{} `json:"message"`
}

type typedDataDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type typeField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// transferWithAuthorizationTypes is the EIP-712 type dictionary for
// EIP-3009 transferWithAuthorization.
var transferWithAuthorizationTypes = map[string][]typeField{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

type signTypedDataResponse struct {
	Signature string `json:"signature"`
}

// signEVM builds an EIP-3009 authorization for the challenge, has CDP
// sign its EIP-712 digest, and wraps both into a payment payload. The
// payload answers for the network spelling offered in the challenge.
func (s *Signer) signEVM(requirements *x402.PaymentRequirement, amount *big.Int) (*x402.PaymentPayload, error) {
	token := s.token(requirements.Asset)

	auth, err := eip3009.New(
		common.HexToAddress(s.address),
		common.HexToAddress(requirements.PayTo),
		amount,
		requirements.MaxTimeoutSeconds,
	)
	if err != nil {
		return nil, err
	}
	wire := auth.Wire()

	name, version, err := s.eip712Domain(requirements)
	if err != nil {
		return nil, err
	}

	signature, err := s.signTypedData(context.Background(), typedDataRequest{
		Domain: typedDataDomain{
			Name:              name,
			Version:           version,
			ChainID:           s.chainID.Int64(),
			VerifyingContract: token.Address,
		},
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Message: map[string]interface{}{
			"from":        wire.From,
			"to":          wire.To,
			"value":       wire.Value,
			"validAfter":  wire.ValidAfter,
			"validBefore": wire.ValidBefore,
			"nonce":       wire.Nonce,
		},
	})
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "CDP typed data signing failed", err)
	}

	return &x402.PaymentPayload{
		X402Version: int(x402.V1),
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload: x402.EVMPayload{
			Signature:     signature,
			Authorization: wire,
		},
	}, nil
}

// signTypedData submits the typed data document to CDP with wallet auth
// and returns the hex signature.
func (s *Signer) signTypedData(ctx context.Context, data typedDataRequest) (string, error) {
	path := fmt.Sprintf("/platform/v2/evm/accounts/%s/sign/typed-data", s.address)

	var resp signTypedDataResponse
	if err := s.client.doWithRetry(ctx, http.MethodPost, path, data, &resp, true); err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", fmt.Errorf("CDP returned an empty signature")
	}
	return resp.Signature, nil
}

// eip712Domain resolves the EIP-712 domain parameters for a challenge:
// the requirement's extra fields win, then any WithEIP3009Params
// override, then the chain registry defaults for the network.
func (s *Signer) eip712Domain(requirements *x402.PaymentRequirement) (name, version string, err error) {
	if requirements.Extra != nil {
		name, _ = requirements.Extra["name"].(string)
		version, _ = requirements.Extra["version"].(string)
	}
	if name == "" {
		name = s.domainName
	}
	if version == "" {
		version = s.domainVersion
	}
	if name != "" && version != "" {
		return name, version, nil
	}

	if c, ok := x402.GetChainConfig(requirements.Network); ok && c.EIP3009Name != "" {
		if name == "" {
			name = c.EIP3009Name
		}
		if version == "" {
			version = c.EIP3009Version
		}
		return name, version, nil
	}

	return "", "", x402.NewConfigurationError(
		fmt.Sprintf("EIP-712 domain parameters unavailable for %s: set extra.name and extra.version on the requirement or configure WithEIP3009Params", requirements.Network))
}
