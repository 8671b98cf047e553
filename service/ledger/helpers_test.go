package ledger

import "github.com/brojonat/solflow/service/solana"

const (
	walletA = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	walletB = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	poolAcc = "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2"
	tokenA  = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

func uiAmount(v float64, decimals uint8) *solana.UITokenAmount {
	return &solana.UITokenAmount{Decimals: decimals, UIAmount: &v}
}

func tokenBalance(index uint16, mint, owner string, amount float64, decimals uint8) solana.TokenBalance {
	return solana.TokenBalance{AccountIndex: index, Mint: mint, Owner: owner, UITokenAmount: uiAmount(amount, decimals)}
}

// txBuilder assembles transactions for tests.
type txBuilder struct {
	tx *solana.Transaction
}

func newTx(sig string, keys ...string) *txBuilder {
	return &txBuilder{tx: &solana.Transaction{
		Signatures: []string{sig},
		Message:    &solana.Message{AccountKeys: keys},
		Meta:       &solana.Meta{Fee: 5000},
	}}
}

func (b *txBuilder) loaded(writable, readonly []string) *txBuilder {
	b.tx.Meta.LoadedWritable = writable
	b.tx.Meta.LoadedReadonly = readonly
	return b
}

func (b *txBuilder) lamports(pre, post []uint64) *txBuilder {
	b.tx.Meta.PreBalances = pre
	b.tx.Meta.PostBalances = post
	return b
}

func (b *txBuilder) preTokens(tbs ...solana.TokenBalance) *txBuilder {
	b.tx.Meta.PreTokenBalances = tbs
	return b
}

func (b *txBuilder) postTokens(tbs ...solana.TokenBalance) *txBuilder {
	b.tx.Meta.PostTokenBalances = tbs
	return b
}

func (b *txBuilder) invoke(programIndexes ...uint16) *txBuilder {
	for _, idx := range programIndexes {
		b.tx.Message.Instructions = append(b.tx.Message.Instructions, solana.Instruction{ProgramIDIndex: idx})
	}
	return b
}

func (b *txBuilder) inner(top uint16, programIndexes ...uint16) *txBuilder {
	group := solana.InnerInstructions{Index: top}
	for _, idx := range programIndexes {
		group.Instructions = append(group.Instructions, solana.Instruction{ProgramIDIndex: idx})
	}
	b.tx.Meta.InnerInstructions = append(b.tx.Meta.InnerInstructions, group)
	return b
}

func (b *txBuilder) failed() *txBuilder {
	b.tx.Meta.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
	return b
}

func (b *txBuilder) build() *solana.Transaction {
	return b.tx
}

// swapTx trades 2 SOL for 100 USDC through Jupiter at the top level.
func swapTx(sig, wallet string) *solana.Transaction {
	return newTx(sig, wallet, poolAcc, JupiterV6ProgramID, "UsdcAta1111111111111111111111111111111111111").
		lamports([]uint64{3_000_000_000, 10, 1, 2_039_280}, []uint64{1_000_000_000, 10, 1, 2_039_280}).
		postTokens(tokenBalance(3, USDCMint, wallet, 100, 6)).
		invoke(2).
		build()
}

func blockAt(slot uint64, ts int64, txs ...*solana.Transaction) *solana.Block {
	return &solana.Block{Slot: slot, ParentSlot: slot - 1, BlockTime: &ts, Transactions: txs}
}
