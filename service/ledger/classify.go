package ledger

import "github.com/brojonat/solflow/service/solana"

// DefaultLabel is assigned when no instruction hits the program table.
const DefaultLabel = "SEND"

// ScannedInstruction is one entry of the classifier's scan sequence.
type ScannedInstruction struct {
	TopIndex       int      // index of the top-level instruction
	InnerIndex     int      // position within the inner group, -1 for top-level
	ProgramIDIndex uint16   // index into the resolved account list
	Accounts       []uint16 // instruction account indices
}

// IsInner reports whether the instruction came from a CPI group.
func (s ScannedInstruction) IsInner() bool {
	return s.InnerIndex >= 0
}

// Classification is the resolved intent of a transaction.
type Classification struct {
	Label     string `json:"label"`
	Priority  int    `json:"priority"`
	ProgramID string `json:"program_id,omitempty"` // program that produced the label, empty for SEND
}

// MergeInstructions flattens a transaction into the classifier's scan order:
// every top-level instruction in order, then every inner group in list order.
func MergeInstructions(tx *solana.Transaction) []ScannedInstruction {
	if tx == nil || tx.Message == nil {
		return nil
	}

	seq := make([]ScannedInstruction, 0, len(tx.Message.Instructions))
	for i, ix := range tx.Message.Instructions {
		seq = append(seq, ScannedInstruction{
			TopIndex:       i,
			InnerIndex:     -1,
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       ix.Accounts,
		})
	}
	if tx.Meta == nil {
		return seq
	}
	for _, group := range tx.Meta.InnerInstructions {
		for j, ix := range group.Instructions {
			seq = append(seq, ScannedInstruction{
				TopIndex:       int(group.Index),
				InnerIndex:     j,
				ProgramIDIndex: ix.ProgramIDIndex,
				Accounts:       ix.Accounts,
			})
		}
	}
	return seq
}

// Classify resolves the dominant intent over seq. A match replaces the running
// best only when its tier is strictly greater, so among equal tiers the first
// instruction in seq wins.
func Classify(accounts []string, seq []ScannedInstruction, table ProgramTable) Classification {
	best := Classification{Label: DefaultLabel}
	for _, ix := range seq {
		programID, ok := AccountAt(accounts, int(ix.ProgramIDIndex))
		if !ok {
			continue
		}
		info, ok := table.Lookup(programID)
		if !ok {
			continue
		}
		if info.Tier > best.Priority {
			best = Classification{Label: info.Label, Priority: info.Tier, ProgramID: programID}
		}
	}
	return best
}
