package solana

import (
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// blockFromResult converts an RPC getBlock result to our domain Block.
// Transactions that fail to decode are kept without a message so that
// downstream extraction excludes them instead of failing the block.
func blockFromResult(slot uint64, result *rpc.GetBlockResult, logger *slog.Logger) *Block {
	block := &Block{
		Slot:         slot,
		ParentSlot:   result.ParentSlot,
		Blockhash:    result.Blockhash.String(),
		Transactions: make([]*Transaction, 0, len(result.Transactions)),
	}
	if result.BlockTime != nil {
		ts := int64(*result.BlockTime)
		block.BlockTime = &ts
	}

	for i := range result.Transactions {
		txm := &result.Transactions[i]

		decoded, err := txm.GetTransaction()
		if err != nil || decoded == nil {
			logger.Warn("failed to decode transaction, excluding it",
				"slot", slot,
				"position", i,
				"error", err,
			)
			block.Transactions = append(block.Transactions, &Transaction{Meta: metaFromRPC(txm.Meta)})
			continue
		}

		block.Transactions = append(block.Transactions, transactionFromDecoded(decoded, txm.Meta))
	}

	return block
}

// transactionFromDecoded converts a decoded transaction and its RPC meta.
func transactionFromDecoded(tx *solana.Transaction, meta *rpc.TransactionMeta) *Transaction {
	out := &Transaction{
		Signatures: make([]string, 0, len(tx.Signatures)),
		Message: &Message{
			AccountKeys:  publicKeysToStrings(tx.Message.AccountKeys),
			Instructions: make([]Instruction, 0, len(tx.Message.Instructions)),
		},
		Meta: metaFromRPC(meta),
	}
	for _, sig := range tx.Signatures {
		out.Signatures = append(out.Signatures, sig.String())
	}
	for _, ix := range tx.Message.Instructions {
		out.Message.Instructions = append(out.Message.Instructions, Instruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       append([]uint16(nil), ix.Accounts...),
			Data:           append([]byte(nil), ix.Data...),
		})
	}
	return out
}

func metaFromRPC(meta *rpc.TransactionMeta) *Meta {
	if meta == nil {
		return nil
	}

	out := &Meta{
		Err:               meta.Err,
		Fee:               meta.Fee,
		PreBalances:       append([]uint64(nil), meta.PreBalances...),
		PostBalances:      append([]uint64(nil), meta.PostBalances...),
		PreTokenBalances:  tokenBalancesFromRPC(meta.PreTokenBalances),
		PostTokenBalances: tokenBalancesFromRPC(meta.PostTokenBalances),
		LoadedWritable:    publicKeysToStrings(meta.LoadedAddresses.Writable),
		LoadedReadonly:    publicKeysToStrings(meta.LoadedAddresses.ReadOnly),
		LogMessages:       append([]string(nil), meta.LogMessages...),
	}

	for _, inner := range meta.InnerInstructions {
		group := InnerInstructions{
			Index:        inner.Index,
			Instructions: make([]Instruction, 0, len(inner.Instructions)),
		}
		for _, ix := range inner.Instructions {
			group.Instructions = append(group.Instructions, Instruction{
				ProgramIDIndex: ix.ProgramIDIndex,
				Accounts:       append([]uint16(nil), ix.Accounts...),
				Data:           append([]byte(nil), ix.Data...),
			})
		}
		out.InnerInstructions = append(out.InnerInstructions, group)
	}

	return out
}

func tokenBalancesFromRPC(balances []rpc.TokenBalance) []TokenBalance {
	if len(balances) == 0 {
		return nil
	}
	out := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		tb := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			tb.UITokenAmount = &UITokenAmount{
				Amount:   b.UiTokenAmount.Amount,
				Decimals: b.UiTokenAmount.Decimals,
				UIAmount: b.UiTokenAmount.UiAmount,
			}
			// Some nodes omit uiAmount for zero balances and only fill uiAmountString.
			if tb.UITokenAmount.UIAmount == nil && b.UiTokenAmount.UiAmountString != "" {
				if v, err := strconv.ParseFloat(b.UiTokenAmount.UiAmountString, 64); err == nil {
					tb.UITokenAmount.UIAmount = &v
				}
			}
		}
		out = append(out, tb)
	}
	return out
}

func publicKeysToStrings(keys []solana.PublicKey) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
