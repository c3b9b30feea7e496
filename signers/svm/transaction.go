package svm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// ComputeBudgetProgramID is the Solana Compute Budget program ID.
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	// defaultComputeUnits caps the transaction's compute budget.
	defaultComputeUnits uint32 = 200_000

	// defaultComputeUnitPrice is the priority fee in microlamports per
	// compute unit.
	defaultComputeUnitPrice uint64 = 10_000
)

// TransferParams collects the accounts and amounts of an SPL token
// payment transaction.
type TransferParams struct {
	// Owner is the paying token owner (the signer's public key).
	Owner solana.PublicKey

	// Mint is the token mint being transferred.
	Mint solana.PublicKey

	// Recipient is the owner of the destination token account.
	Recipient solana.PublicKey

	// Amount is the transfer amount in the token's atomic units.
	Amount uint64

	// Decimals is the mint's decimal count, checked on chain by
	// TransferChecked.
	Decimals uint8

	// FeePayer is the facilitator account that pays transaction fees
	// and countersigns before submission.
	FeePayer solana.PublicKey

	// Blockhash is a recent blockhash anchoring the transaction.
	Blockhash solana.Hash
}

// NewTransferTransaction assembles a compute-budget-capped
// TransferChecked transaction between the associated token accounts of
// the owner and the recipient. All signature slots are left empty;
// callers sign locally (BuildTransfer) or hand the serialized bytes to a
// remote signing service.
func NewTransferTransaction(p TransferParams) (*solana.Transaction, error) {
	sourceATA, _, err := solana.FindAssociatedTokenAddress(p.Owner, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source token account: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(p.Recipient, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination token account: %w", err)
	}

	transfer := token.NewTransferCheckedInstructionBuilder().
		SetAmount(p.Amount).
		SetDecimals(p.Decimals).
		SetSourceAccount(sourceATA).
		SetDestinationAccount(destATA).
		SetMintAccount(p.Mint).
		SetOwnerAccount(p.Owner).
		Build()

	instructions := []solana.Instruction{
		computeUnitLimitInstruction(defaultComputeUnits),
		computeUnitPriceInstruction(defaultComputeUnitPrice),
		transfer,
	}

	tx, err := solana.NewTransaction(
		instructions,
		p.Blockhash,
		solana.TransactionPayer(p.FeePayer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

// BuildTransfer assembles a compute-budget-capped TransferChecked
// transaction between the associated token accounts of the owner and the
// recipient, partially signed with the owner's key. The fee payer's
// signature slot is left empty for the facilitator to fill before
// submission. Returns the base64-encoded transaction.
func BuildTransfer(ownerKey solana.PrivateKey, p TransferParams) (string, error) {
	tx, err := NewTransferTransaction(p)
	if err != nil {
		return "", err
	}

	_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.Owner) {
			return &ownerKey
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}

	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// computeUnitLimitInstruction encodes SetComputeUnitLimit:
// [discriminator 2, units as u32 little-endian].
func computeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)

	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// computeUnitPriceInstruction encodes SetComputeUnitPrice:
// [discriminator 3, microlamports as u64 little-endian].
func computeUnitPriceInstruction(microlamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microlamports)

	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}
