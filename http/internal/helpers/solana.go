package helpers

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/x402labs/x402-go"
)

// payerFromTransaction decodes a partially signed Solana transaction and
// returns the account paying for the transfer: the funding account of a
// system transfer or the owner account of an SPL token transfer.
func payerFromTransaction(payment x402.PaymentPayload) (string, error) {
	svm, err := x402.ParseSVMPayload(payment.Payload)
	if err != nil {
		return "", err
	}
	if svm.Transaction == "" {
		return "", fmt.Errorf("payload carries no transaction")
	}

	tx, err := solana.TransactionFromBase64(svm.Transaction)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}

	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.ResolveProgramIDIndex(inst.ProgramIDIndex)
		if err != nil {
			continue
		}
		switch {
		case prog.Equals(solana.SystemProgramID):
			accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
			if err != nil {
				continue
			}
			ix, err := system.DecodeInstruction(accounts, inst.Data)
			if err != nil {
				continue
			}
			if transfer, ok := ix.Impl.(*system.Transfer); ok {
				return transfer.GetFundingAccount().PublicKey.String(), nil
			}
		case prog.Equals(solana.TokenProgramID):
			accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
			if err != nil {
				continue
			}
			ix, err := token.DecodeInstruction(accounts, inst.Data)
			if err != nil {
				continue
			}
			switch transfer := ix.Impl.(type) {
			case *token.Transfer:
				return transfer.GetOwnerAccount().PublicKey.String(), nil
			case *token.TransferChecked:
				return transfer.GetOwnerAccount().PublicKey.String(), nil
			}
		}
	}

	return "", fmt.Errorf("no transfer instruction found")
}
