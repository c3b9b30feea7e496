package coinbase

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/signers/svm"
)

type signTransactionRequest struct {
	Transaction string `json:"transaction"`
}

type signTransactionResponse struct {
	SignedTransaction string `json:"signedTransaction"`
}

// signSVM builds the same partially-signable transfer transaction the
// local SVM signer produces, but sends it to CDP to fill the owner's
// signature slot. The fee payer slot stays empty for the facilitator.
func (s *Signer) signSVM(requirements *x402.PaymentRequirement, amount *big.Int) (*x402.PaymentPayload, error) {
	token := s.token(requirements.Asset)

	owner, err := solana.PublicKeyFromBase58(s.address)
	if err != nil {
		return nil, fmt.Errorf("CDP returned a malformed account address %q: %w", s.address, err)
	}
	mint, err := solana.PublicKeyFromBase58(x402.AssetAddress(requirements.Asset))
	if err != nil {
		return nil, x402.NewValidationError("asset", "must be a base58 mint address")
	}
	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, x402.NewValidationError("payTo", "must be a base58 address")
	}
	feePayer, err := svm.FeePayer(requirements)
	if err != nil {
		return nil, err
	}

	rpcURL, err := svm.ResolveRPCEndpoint(s.rpcEndpoint, s.network)
	if err != nil {
		return nil, err
	}
	recent, err := rpc.New(rpcURL).GetLatestBlockhash(context.Background(), rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash from %s: %w", rpcURL, err)
	}

	tx, err := svm.NewTransferTransaction(svm.TransferParams{
		Owner:     owner,
		Mint:      mint,
		Recipient: recipient,
		Amount:    amount.Uint64(),
		Decimals:  uint8(token.Decimals),
		FeePayer:  feePayer,
		Blockhash: recent.Value.Blockhash,
	})
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to build transaction", err)
	}

	// CDP wants every signature slot present in the serialized transaction,
	// zeroed out, so it can fill the owner's slot by position.
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to marshal transaction", err)
	}

	signed, err := s.signTransaction(context.Background(), base64.StdEncoding.EncodeToString(txBytes))
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "CDP transaction signing failed", err)
	}

	return &x402.PaymentPayload{
		X402Version: int(x402.V1),
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     x402.SVMPayload{Transaction: signed},
	}, nil
}

// signTransaction submits the base64 unsigned transaction to CDP with
// wallet auth and returns the base64 signed transaction.
func (s *Signer) signTransaction(ctx context.Context, unsigned string) (string, error) {
	path := fmt.Sprintf("/platform/v2/solana/accounts/%s/sign/transaction", s.address)

	req := signTransactionRequest{Transaction: unsigned}
	var resp signTransactionResponse
	if err := s.client.doWithRetry(ctx, http.MethodPost, path, req, &resp, true); err != nil {
		return "", err
	}
	if resp.SignedTransaction == "" {
		return "", fmt.Errorf("CDP returned an empty signed transaction")
	}
	return resp.SignedTransaction, nil
}
