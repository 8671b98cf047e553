package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryTiers(t *testing.T) {
	assert.Equal(t, 5, CategoryNFT.Tier())
	assert.Equal(t, 4, CategoryLend.Tier())
	assert.Equal(t, 4, CategoryPerp.Tier())
	assert.Equal(t, 3, CategorySwap.Tier())
	assert.Equal(t, 2, CategoryStake.Tier())
	assert.Equal(t, 1, CategoryOther.Tier())
	assert.Equal(t, 0, Category("UNKNOWN").Tier())
}

func TestDefaultProgramTable(t *testing.T) {
	table := DefaultProgramTable()

	info, ok := table.Lookup(JupiterV6ProgramID)
	require.True(t, ok)
	assert.Equal(t, "SWAP_JUPITER", info.Label)
	assert.Equal(t, 3, info.Tier)

	info, ok = table.Lookup(TensorSwapProgramID)
	require.True(t, ok)
	assert.Equal(t, "NFT_TENSOR", info.Label)

	for _, id := range []string{SystemProgramID, TokenProgramID, Token2022ProgramID, ComputeBudgetProgramID, AssociatedTokenProgramID} {
		_, ok := table.Lookup(id)
		assert.False(t, ok, "%s must not be classified", id)
	}

	for id, info := range table {
		assert.Equal(t, info.Category.Tier(), info.Tier, id)
		assert.Contains(t, info.Label, string(info.Category)+"_", id)
	}
}

func TestProgramTable_With(t *testing.T) {
	base := DefaultProgramTable()
	custom := base.With("Custom1111111111111111111111111111111111111", NewProgramInfo(CategoryLend, "CUSTOM"))

	_, inBase := base.Lookup("Custom1111111111111111111111111111111111111")
	assert.False(t, inBase, "With must not mutate the receiver")

	info, ok := custom.Lookup("Custom1111111111111111111111111111111111111")
	require.True(t, ok)
	assert.Equal(t, "LEND_CUSTOM", info.Label)
	assert.Len(t, custom, len(base)+1)
}

func TestMergeInstructions_Order(t *testing.T) {
	tx := newTx("s", "A", "P0", "P1", "P2", "P3").
		invoke(1, 2).
		inner(1, 3).
		inner(0, 4, 1).
		build()

	seq := MergeInstructions(tx)
	require.Len(t, seq, 5)

	got := make([]uint16, len(seq))
	for i, ix := range seq {
		got[i] = ix.ProgramIDIndex
	}
	// top-level first, then inner groups in list order regardless of their parent index
	assert.Equal(t, []uint16{1, 2, 3, 4, 1}, got)

	assert.False(t, seq[0].IsInner())
	assert.Equal(t, 1, seq[1].TopIndex)
	assert.True(t, seq[2].IsInner())
	assert.Equal(t, 1, seq[2].TopIndex)
	assert.Equal(t, 0, seq[3].TopIndex)
	assert.Equal(t, 1, seq[4].InnerIndex)
}

func TestMergeInstructions_NoMessage(t *testing.T) {
	assert.Empty(t, MergeInstructions(nil))
}

func TestClassify(t *testing.T) {
	// accounts: 0 signer, 1 swap, 2 nft, 3 stake, 4 second swap, 5 system
	accounts := []string{walletA, JupiterV6ProgramID, MagicEdenV2ProgramID, StakeProgramID, RaydiumAMMV4ProgramID, SystemProgramID}
	table := DefaultProgramTable()

	seqOf := func(indexes ...uint16) []ScannedInstruction {
		seq := make([]ScannedInstruction, len(indexes))
		for i, idx := range indexes {
			seq[i] = ScannedInstruction{TopIndex: i, InnerIndex: -1, ProgramIDIndex: idx}
		}
		return seq
	}

	tests := []struct {
		name      string
		seq       []ScannedInstruction
		wantLabel string
		wantTier  int
	}{
		{name: "tiers 3,5,2 resolve to 5", seq: seqOf(1, 2, 3), wantLabel: "NFT_MAGIC_EDEN", wantTier: 5},
		{name: "equal tiers keep first", seq: seqOf(4, 1), wantLabel: "SWAP_RAYDIUM", wantTier: 3},
		{name: "lower tier does not replace", seq: seqOf(1, 3), wantLabel: "SWAP_JUPITER", wantTier: 3},
		{name: "unknown programs are SEND", seq: seqOf(5, 0), wantLabel: DefaultLabel, wantTier: 0},
		{name: "empty sequence is SEND", seq: nil, wantLabel: DefaultLabel, wantTier: 0},
		{name: "out of range index skipped", seq: seqOf(42, 3), wantLabel: "STAKE_NATIVE", wantTier: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(accounts, tt.seq, table)
			assert.Equal(t, tt.wantLabel, got.Label)
			assert.Equal(t, tt.wantTier, got.Priority)
		})
	}
}

func TestClassify_TopLevelBeforeInner(t *testing.T) {
	// Raydium runs as a CPI of instruction 0 and Jupiter is top-level instruction 1.
	// Top-level instructions are scanned first, so Jupiter wins the tie.
	tx := newTx("s", walletA, RaydiumAMMV4ProgramID, JupiterV6ProgramID).
		invoke(0, 2).
		inner(0, 1).
		build()

	got := Classify(ResolveAccounts(tx), MergeInstructions(tx), DefaultProgramTable())
	assert.Equal(t, "SWAP_JUPITER", got.Label)
	assert.Equal(t, JupiterV6ProgramID, got.ProgramID)
}

func TestClassify_InnerUpgradesTier(t *testing.T) {
	tx := newTx("s", walletA, JupiterV6ProgramID, KaminoLendProgramID).
		invoke(1).
		inner(0, 2).
		build()

	got := Classify(ResolveAccounts(tx), MergeInstructions(tx), DefaultProgramTable())
	assert.Equal(t, "LEND_KAMINO", got.Label)
	assert.Equal(t, 4, got.Priority)
}

func TestClassify_LoadedProgram(t *testing.T) {
	tx := newTx("s", walletA).
		loaded(nil, []string{DriftProgramID}).
		invoke(1).
		build()

	got := Classify(ResolveAccounts(tx), MergeInstructions(tx), DefaultProgramTable())
	assert.Equal(t, "PERP_DRIFT", got.Label)
}
