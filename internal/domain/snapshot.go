package domain

import "encoding/json"

// Snapshot is the whole shared drawing surface. Records are opaque and
// passed through untouched; a snapshot is replaced wholesale, never merged.
type Snapshot struct {
	Paths  []json.RawMessage `json:"paths"`
	Shapes []json.RawMessage `json:"shapes"`
	Emojis []json.RawMessage `json:"emojis"`
}

func EmptySnapshot() Snapshot {
	return Snapshot{
		Paths:  []json.RawMessage{},
		Shapes: []json.RawMessage{},
		Emojis: []json.RawMessage{},
	}
}

// Normalize replaces missing sequences with empty ones so the wire form
// always carries three arrays.
func (s Snapshot) Normalize() Snapshot {
	if s.Paths == nil {
		s.Paths = []json.RawMessage{}
	}
	if s.Shapes == nil {
		s.Shapes = []json.RawMessage{}
	}
	if s.Emojis == nil {
		s.Emojis = []json.RawMessage{}
	}
	return s
}

func (s Snapshot) IsEmpty() bool {
	return len(s.Paths) == 0 && len(s.Shapes) == 0 && len(s.Emojis) == 0
}

// Clone copies the record slices so the caller may hold the result after
// the owner replaced its snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Paths:  cloneRecords(s.Paths),
		Shapes: cloneRecords(s.Shapes),
		Emojis: cloneRecords(s.Emojis),
	}
}

func cloneRecords(in []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(in))
	for i, r := range in {
		out[i] = append(json.RawMessage(nil), r...)
	}
	return out
}
