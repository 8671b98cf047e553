package solana

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
)

// ErrMalformedBlock is returned when block input cannot be decoded.
var ErrMalformedBlock = errors.New("malformed block")

type instructionJSON struct {
	ProgramIDIndex uint16   `json:"program_id_index"`
	Accounts       []uint16 `json:"accounts"`
	Data           string   `json:"data"` // base58, as in the RPC "json" encoding
}

// MarshalJSON encodes instruction data as base58.
func (i Instruction) MarshalJSON() ([]byte, error) {
	return json.Marshal(instructionJSON{
		ProgramIDIndex: i.ProgramIDIndex,
		Accounts:       i.Accounts,
		Data:           base58.Encode(i.Data),
	})
}

// UnmarshalJSON decodes base58 instruction data.
func (i *Instruction) UnmarshalJSON(b []byte) error {
	var raw instructionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	i.ProgramIDIndex = raw.ProgramIDIndex
	i.Accounts = raw.Accounts
	i.Data = nil
	if raw.Data != "" {
		data, err := base58.Decode(raw.Data)
		if err != nil {
			return fmt.Errorf("invalid instruction data: %w", err)
		}
		i.Data = data
	}
	return nil
}

// DecodeBlockJSON reads one block from r.
// Any decode failure is reported as ErrMalformedBlock so callers can fail the whole block.
func DecodeBlockJSON(r io.Reader) (*Block, error) {
	var block Block
	dec := json.NewDecoder(r)
	if err := dec.Decode(&block); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	return &block, nil
}

// DecodeBlocksJSON reads a stream of blocks from r. The stream may be a JSON array
// or concatenated JSON objects (one per line).
func DecodeBlocksJSON(r io.Reader) ([]*Block, error) {
	dec := json.NewDecoder(r)

	var blocks []*Block
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
		}

		if len(raw) > 0 && raw[0] == '[' {
			var batch []*Block
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
			}
			blocks = append(blocks, batch...)
			continue
		}

		var block Block
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
		}
		blocks = append(blocks, &block)
	}

	for i, b := range blocks {
		if b == nil {
			return nil, fmt.Errorf("%w: null block at position %d", ErrMalformedBlock, i)
		}
	}
	return blocks, nil
}
