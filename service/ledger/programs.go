package ledger

// Category is the intent group a known program belongs to.
type Category string

const (
	CategoryNFT   Category = "NFT"
	CategoryLend  Category = "LEND"
	CategoryPerp  Category = "PERP"
	CategorySwap  Category = "SWAP"
	CategoryStake Category = "STAKE"
	CategoryOther Category = "OTHER"
)

// Tier returns the classification priority of the category.
// Higher tiers win over lower ones when a transaction touches several programs.
func (c Category) Tier() int {
	switch c {
	case CategoryNFT:
		return 5
	case CategoryLend, CategoryPerp:
		return 4
	case CategorySwap:
		return 3
	case CategoryStake:
		return 2
	case CategoryOther:
		return 1
	}
	return 0
}

// ProgramInfo describes a known program.
type ProgramInfo struct {
	Label    string   `json:"label"`
	Category Category `json:"category"`
	Tier     int      `json:"tier"`
}

// NewProgramInfo builds a ProgramInfo labelled <CATEGORY>_<PROTOCOL>.
func NewProgramInfo(category Category, protocol string) ProgramInfo {
	return ProgramInfo{
		Label:    string(category) + "_" + protocol,
		Category: category,
		Tier:     category.Tier(),
	}
}

// ProgramTable maps base58 program ids to their classification.
type ProgramTable map[string]ProgramInfo

// Lookup returns the info for a program id.
func (t ProgramTable) Lookup(programID string) (ProgramInfo, bool) {
	info, ok := t[programID]
	return info, ok
}

// With returns a copy of the table with programID added or replaced.
func (t ProgramTable) With(programID string, info ProgramInfo) ProgramTable {
	out := make(ProgramTable, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[programID] = info
	return out
}

// Well-known program ids.
const (
	JupiterV6ProgramID       = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	JupiterV4ProgramID       = "JUP4Fb2cqiRUcaTHdrPC8h2gNsA2ETXiPDD33WcGuJB"
	RaydiumAMMV4ProgramID    = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	RaydiumCLMMProgramID     = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
	RaydiumCPMMProgramID     = "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C"
	RaydiumRouterProgramID   = "routeUGWgWzqBWFcrCfv8tritsqukccJPu3q5GPP3xS"
	OrcaWhirlpoolProgramID   = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	OrcaLegacyProgramID      = "9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP"
	MeteoraDLMMProgramID     = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
	PumpFunProgramID         = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	PhoenixProgramID         = "PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjFHGqdXY"
	SolendProgramID          = "So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo"
	KaminoLendProgramID      = "KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD"
	MarginFiProgramID        = "MFv2hWf31Z9kbCa1snEPYctwafyhdvnV7FZnsebVacA"
	DriftProgramID           = "dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH"
	MangoV4ProgramID         = "4MangoMjqJ2firMokCjjGgoK8d4MXcrgL7XJaL3w6fVg"
	JupiterPerpsProgramID    = "PERPHjGBqRHArX4DySjwM6UJHiR3sWAatqfdBS2qQJu"
	ZetaProgramID            = "ZETAxsqBRek56DhiGXrn75yj2NHU3aYUnxvHXpkf3aD"
	StakeProgramID           = "Stake11111111111111111111111111111111111111"
	MarinadeProgramID        = "MarBmsSgKXdrN1egZf5sqe1TMai9K1rChYNDJgjq7aD"
	StakePoolProgramID       = "SPoo1Ku8WFXoNDMHPsrGSTSG1Y47rzgn41SLUNakuHy"
	JitoStakePoolProgramID   = "J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn"
	MagicEdenV2ProgramID     = "M2mx93ekt1fmXSVkTrUL9xVFHkmME8HTUi5Cyc5aF7K"
	MagicEdenV1ProgramID     = "MEisE1HzehtrDpAAT8PnLHjpSSkRYakotTuJRPjTpo8"
	TensorSwapProgramID      = "TSWAPaqyCSx2KABk68Shruf4rp7CxcNi8hAsbdwmHbN"
	TensorCNFTProgramID      = "TCMPhJdwDryooaGtiocG1u3xcYbRpiJzb283XfCZsDp"
	TensorBidProgramID       = "TBIDxNsM9DuLs4YCbmA7VuACbMZ5WyYv5JGQxpqLMVJ"
	AuctionHouseProgramID    = "hausS13jsjafwWwGqZTUQRmWyvyxn9EQpqMwV1PBBmk"
	TokenMetadataProgramID   = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
	BubblegumProgramID       = "BGUMAp9Gq7iTEuizy4pqaxsTyUCBK68MDfK752saRPUY"
	MemoProgramID            = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	WormholeCoreProgramID    = "worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth"
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	ComputeBudgetProgramID   = "ComputeBudget111111111111111111111111111111"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// DefaultProgramTable returns the built-in table of known programs.
// System, token and compute budget programs are deliberately absent so plain
// transfers classify as SEND.
func DefaultProgramTable() ProgramTable {
	return ProgramTable{
		JupiterV6ProgramID:     NewProgramInfo(CategorySwap, "JUPITER"),
		JupiterV4ProgramID:     NewProgramInfo(CategorySwap, "JUPITER"),
		RaydiumAMMV4ProgramID:  NewProgramInfo(CategorySwap, "RAYDIUM"),
		RaydiumCLMMProgramID:   NewProgramInfo(CategorySwap, "RAYDIUM"),
		RaydiumCPMMProgramID:   NewProgramInfo(CategorySwap, "RAYDIUM"),
		RaydiumRouterProgramID: NewProgramInfo(CategorySwap, "RAYDIUM"),
		OrcaWhirlpoolProgramID: NewProgramInfo(CategorySwap, "ORCA"),
		OrcaLegacyProgramID:    NewProgramInfo(CategorySwap, "ORCA"),
		MeteoraDLMMProgramID:   NewProgramInfo(CategorySwap, "METEORA"),
		PumpFunProgramID:       NewProgramInfo(CategorySwap, "PUMPFUN"),
		PhoenixProgramID:       NewProgramInfo(CategorySwap, "PHOENIX"),

		SolendProgramID:     NewProgramInfo(CategoryLend, "SOLEND"),
		KaminoLendProgramID: NewProgramInfo(CategoryLend, "KAMINO"),
		MarginFiProgramID:   NewProgramInfo(CategoryLend, "MARGINFI"),

		DriftProgramID:        NewProgramInfo(CategoryPerp, "DRIFT"),
		MangoV4ProgramID:      NewProgramInfo(CategoryPerp, "MANGO"),
		JupiterPerpsProgramID: NewProgramInfo(CategoryPerp, "JUPITER"),
		ZetaProgramID:         NewProgramInfo(CategoryPerp, "ZETA"),

		StakeProgramID:         NewProgramInfo(CategoryStake, "NATIVE"),
		MarinadeProgramID:      NewProgramInfo(CategoryStake, "MARINADE"),
		StakePoolProgramID:     NewProgramInfo(CategoryStake, "SPL_POOL"),
		JitoStakePoolProgramID: NewProgramInfo(CategoryStake, "JITO"),

		MagicEdenV2ProgramID:  NewProgramInfo(CategoryNFT, "MAGIC_EDEN"),
		MagicEdenV1ProgramID:  NewProgramInfo(CategoryNFT, "MAGIC_EDEN"),
		TensorSwapProgramID:   NewProgramInfo(CategoryNFT, "TENSOR"),
		TensorCNFTProgramID:   NewProgramInfo(CategoryNFT, "TENSOR"),
		TensorBidProgramID:    NewProgramInfo(CategoryNFT, "TENSOR"),
		AuctionHouseProgramID: NewProgramInfo(CategoryNFT, "METAPLEX"),

		TokenMetadataProgramID: NewProgramInfo(CategoryOther, "METAPLEX"),
		BubblegumProgramID:     NewProgramInfo(CategoryOther, "BUBBLEGUM"),
		MemoProgramID:          NewProgramInfo(CategoryOther, "MEMO"),
		WormholeCoreProgramID:  NewProgramInfo(CategoryOther, "WORMHOLE"),
	}
}
