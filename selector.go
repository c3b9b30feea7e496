package x402

import (
	"math/big"
	"sort"
	"strings"
)

// PaymentSelector selects the appropriate signer and creates a payment.
type PaymentSelector interface {
	// SelectAndSign chooses the best signer from the available signers
	// and creates a signed payment. It selects from the payment
	// requirement options the server offered in its challenge.
	SelectAndSign(requirements []PaymentRequirement, signers []Signer) (*PaymentPayload, error)
}

// DefaultPaymentSelector implements the standard payment selection algorithm.
// It selects signers based on:
// 1. Ability to satisfy requirements (network and token match)
// 2. Signer priority (lower number = higher priority)
// 3. Token priority within the signer
// 4. Configuration order (for ties)
type DefaultPaymentSelector struct{}

// NewDefaultPaymentSelector creates a new DefaultPaymentSelector.
func NewDefaultPaymentSelector() *DefaultPaymentSelector {
	return &DefaultPaymentSelector{}
}

// candidate pairs a requirement option with a signer able to satisfy it.
type candidate struct {
	requirement      *PaymentRequirement
	signer           Signer
	signerPriority   int
	tokenPriority    int
	signerIndex      int
	requirementIndex int
}

// SelectAndSign implements PaymentSelector.
func (s *DefaultPaymentSelector) SelectAndSign(requirements []PaymentRequirement, signers []Signer) (*PaymentPayload, error) {
	if len(signers) == 0 {
		return nil, NewPaymentError(ErrCodeNoValidSigner, "no signers configured", ErrNoValidSigner)
	}
	if len(requirements) == 0 {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "no payment requirements provided", ErrInvalidRequirements)
	}

	var candidates []candidate
	hasValidRequirement := false

	for reqIndex := range requirements {
		req := &requirements[reqIndex]

		requiredAmount := new(big.Int)
		if _, ok := requiredAmount.SetString(req.Amount, 10); !ok {
			// Skip malformed options; other options may still be usable.
			continue
		}
		hasValidRequirement = true

		// The asset may arrive as a CAIP-19 identifier; tokens are
		// configured by bare address.
		assetAddr := AssetAddress(req.Asset)

		for signerIndex, signer := range signers {
			if !signer.CanSign(req) {
				continue
			}

			maxAmount := signer.GetMaxAmount()
			if maxAmount != nil && requiredAmount.Cmp(maxAmount) > 0 {
				continue
			}

			tokenPriority := 0
			for _, token := range signer.GetTokens() {
				if strings.EqualFold(token.Address, assetAddr) {
					tokenPriority = token.Priority
					break
				}
			}

			candidates = append(candidates, candidate{
				requirement:      req,
				signer:           signer,
				signerPriority:   signer.GetPriority(),
				tokenPriority:    tokenPriority,
				signerIndex:      signerIndex,
				requirementIndex: reqIndex,
			})
		}
	}

	if !hasValidRequirement {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "invalid amount in requirements", ErrInvalidRequirements)
	}

	if len(candidates) == 0 {
		options := make([]string, 0, len(requirements))
		for _, req := range requirements {
			options = append(options, req.Network+":"+req.Asset)
		}
		return nil, NewPaymentError(ErrCodeNoValidSigner, "no signer can satisfy any payment requirement", ErrNoValidSigner).
			WithDetails("options", strings.Join(options, ", "))
	}

	// Sort by priority (signer first, then token), falling back to
	// configuration order and then challenge order so ties resolve
	// deterministically. Lower priority numbers come first (1 > 2 > 3).
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].signerPriority != candidates[j].signerPriority {
			return candidates[i].signerPriority < candidates[j].signerPriority
		}
		if candidates[i].tokenPriority != candidates[j].tokenPriority {
			return candidates[i].tokenPriority < candidates[j].tokenPriority
		}
		if candidates[i].signerIndex != candidates[j].signerIndex {
			return candidates[i].signerIndex < candidates[j].signerIndex
		}
		return candidates[i].requirementIndex < candidates[j].requirementIndex
	})

	selected := candidates[0]

	payment, err := selected.signer.Sign(selected.requirement)
	if err != nil {
		return nil, NewPaymentError(ErrCodeSigningFailed, "failed to sign payment", err)
	}

	return payment, nil
}

// FindMatchingRequirement finds the requirement that matches the payment's
// scheme and network. Middleware uses it to pair an incoming payment with
// one of the advertised requirement options before verification. Matching
// is case sensitive and the first match wins.
//
// Returns ErrUnsupportedScheme wrapped in a PaymentError if nothing matches.
func FindMatchingRequirement(payment PaymentPayload, requirements []PaymentRequirement) (*PaymentRequirement, error) {
	scheme := payment.AcceptedScheme()
	network := payment.AcceptedNetwork()
	for i := range requirements {
		req := &requirements[i]
		if req.Network == network && req.Scheme == scheme {
			return req, nil
		}
	}
	return nil, NewPaymentError(
		ErrCodeUnsupportedScheme,
		"no matching requirement for network and scheme",
		ErrUnsupportedScheme,
	).WithDetails("network", network).WithDetails("scheme", scheme)
}
