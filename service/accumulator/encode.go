package accumulator

import "encoding/json"

// EncodedDelta is the storage-boundary form of a Delta with a string key.
type EncodedDelta struct {
	Key     string  `json:"key"`
	Old     float64 `json:"old"`
	New     float64 `json:"new"`
	Existed bool    `json:"existed"`
}

// Encode converts d to its string-keyed form.
func (d Delta) Encode() EncodedDelta {
	return EncodedDelta{Key: d.Key.String(), Old: d.Old, New: d.New, Existed: d.Existed}
}

// MarshalJSON encodes d in its string-keyed form.
func (d Delta) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Encode())
}

// Decode parses the key of e for space.
func (e EncodedDelta) Decode(space Space) (Delta, bool) {
	key, ok := ParseKey(space, e.Key)
	if !ok {
		return Delta{}, false
	}
	return Delta{Key: key, Old: e.Old, New: e.New, Existed: e.Existed}, true
}

// EncodeDeltas encodes every delta.
func EncodeDeltas(deltas []Delta) []EncodedDelta {
	out := make([]EncodedDelta, len(deltas))
	for i, d := range deltas {
		out[i] = d.Encode()
	}
	return out
}

// DecodeDeltas decodes deltas for space, dropping malformed keys.
func DecodeDeltas(space Space, encoded []EncodedDelta) []Delta {
	out := make([]Delta, 0, len(encoded))
	for _, e := range encoded {
		if d, ok := e.Decode(space); ok {
			out = append(out, d)
		}
	}
	return out
}
