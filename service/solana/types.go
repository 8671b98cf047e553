package solana

// Block is a decoded Solana block.
// This is our domain model, independent of the RPC response format.
type Block struct {
	Slot         uint64         `json:"slot"`
	ParentSlot   uint64         `json:"parent_slot"`
	Blockhash    string         `json:"blockhash"`
	BlockTime    *int64         `json:"block_time,omitempty"` // nil when the node did not report one
	Transactions []*Transaction `json:"transactions"`
}

// Timestamp returns the block time in unix seconds, or 0 when absent.
func (b *Block) Timestamp() int64 {
	if b == nil || b.BlockTime == nil {
		return 0
	}
	return *b.BlockTime
}

// Transaction is a transaction together with its execution metadata.
// Message or Meta may be nil when the upstream could not decode them.
type Transaction struct {
	Signatures []string `json:"signatures"`
	Message    *Message `json:"message,omitempty"`
	Meta       *Meta    `json:"meta,omitempty"`
}

// FirstSignature returns the transaction id, or "" if there are no signatures.
func (t *Transaction) FirstSignature() string {
	if t == nil || len(t.Signatures) == 0 {
		return ""
	}
	return t.Signatures[0]
}

// Message holds the static account keys and top-level instructions.
type Message struct {
	AccountKeys  []string      `json:"account_keys"`
	Instructions []Instruction `json:"instructions"`
}

// Meta is the execution metadata of a transaction.
type Meta struct {
	Err               any                 `json:"err,omitempty"` // nil if the transaction succeeded
	Fee               uint64              `json:"fee"`
	PreBalances       []uint64            `json:"pre_balances"`
	PostBalances      []uint64            `json:"post_balances"`
	PreTokenBalances  []TokenBalance      `json:"pre_token_balances"`
	PostTokenBalances []TokenBalance      `json:"post_token_balances"`
	LoadedWritable    []string            `json:"loaded_writable_addresses"`
	LoadedReadonly    []string            `json:"loaded_readonly_addresses"`
	InnerInstructions []InnerInstructions `json:"inner_instructions"`
	LogMessages       []string            `json:"log_messages"`
}

// Failed reports whether the transaction carries an execution error.
func (m *Meta) Failed() bool {
	return m != nil && m.Err != nil
}

// TokenBalance is an SPL token balance snapshot for one account.
type TokenBalance struct {
	AccountIndex  uint16         `json:"account_index"`
	Mint          string         `json:"mint"`
	Owner         string         `json:"owner"`
	UITokenAmount *UITokenAmount `json:"ui_token_amount,omitempty"`
}

// UIAmount returns the decimal-scaled amount, or 0 when absent.
func (b TokenBalance) UIAmount() float64 {
	if b.UITokenAmount == nil || b.UITokenAmount.UIAmount == nil {
		return 0
	}
	return *b.UITokenAmount.UIAmount
}

// Decimals returns the mint decimals, or 0 when absent.
func (b TokenBalance) Decimals() uint8 {
	if b.UITokenAmount == nil {
		return 0
	}
	return b.UITokenAmount.Decimals
}

// UITokenAmount mirrors the RPC uiTokenAmount object.
type UITokenAmount struct {
	Amount   string   `json:"amount"`
	Decimals uint8    `json:"decimals"`
	UIAmount *float64 `json:"ui_amount,omitempty"`
}

// Instruction is a compiled instruction. Indices point into the resolved account list.
type Instruction struct {
	ProgramIDIndex uint16   `json:"program_id_index"`
	Accounts       []uint16 `json:"accounts"`
	Data           []byte   `json:"-"`
}

// InnerInstructions groups the CPI instructions emitted by one top-level instruction.
type InnerInstructions struct {
	Index        uint16        `json:"index"`
	Instructions []Instruction `json:"instructions"`
}
