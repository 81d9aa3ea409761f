package message

import (
	"encoding/json"
	"fmt"
)

// Well-known segment kinds. The vocabulary is open-ended: adapters may emit
// kinds not listed here, and consumers must carry unrecognized kinds through
// unchanged instead of failing.
const (
	KindText    = "text"
	KindImage   = "image"
	KindEmoji   = "emoji"
	KindAt      = "at"
	KindReply   = "reply"
	KindVoice   = "voice"
	KindSegList = "seglist"
)

// Seg is one unit of message content: either a leaf (opaque string payload,
// e.g. raw text, a target id, or a base64 blob) or a seglist holding an
// ordered sequence of child segments. The tree has arbitrary depth.
type Seg struct {
	Type string
	Data string // leaf payload, empty for seglist
	Segs []Seg  // seglist children, nil for leaves

	// raw holds a structured (object or array) leaf payload verbatim, so a
	// segment kind this process does not understand survives re-serialization
	// byte for byte instead of being rejected or mangled.
	raw json.RawMessage
}

// NewSeg creates a leaf segment.
func NewSeg(kind, data string) Seg {
	return Seg{Type: kind, Data: data}
}

// NewSegList creates a composite segment from the given children.
func NewSegList(segs ...Seg) Seg {
	return Seg{Type: KindSegList, Segs: segs}
}

// IsList reports whether the segment is a seglist composite.
func (s Seg) IsList() bool {
	return s.Type == KindSegList
}

// Walk visits the segment and every descendant in document order. Returning
// false from fn stops the walk.
func (s Seg) Walk(fn func(Seg) bool) bool {
	if !fn(s) {
		return false
	}
	for _, child := range s.Segs {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// Kinds returns the set of leaf kinds present anywhere in the tree.
func (s Seg) Kinds() map[string]bool {
	kinds := make(map[string]bool)
	s.Walk(func(seg Seg) bool {
		if !seg.IsList() {
			kinds[seg.Type] = true
		}
		return true
	})
	return kinds
}

// PlainText concatenates the payloads of all text leaves in order.
func (s Seg) PlainText() string {
	var out string
	s.Walk(func(seg Seg) bool {
		if seg.Type == KindText {
			out += seg.Data
		}
		return true
	})
	return out
}

func (s Seg) MarshalJSON() ([]byte, error) {
	if s.IsList() {
		segs := s.Segs
		if segs == nil {
			segs = []Seg{}
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			Data []Seg  `json:"data"`
		}{s.Type, segs})
	}
	if s.raw != nil {
		return json.Marshal(struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}{s.Type, s.raw})
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}{s.Type, s.Data})
}

func (s *Seg) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: segment: %v", ErrMalformed, err)
	}
	if raw.Type == "" {
		return fmt.Errorf("%w: segment missing type", ErrMalformed)
	}
	s.Type = raw.Type
	s.Data = ""
	s.Segs = nil
	s.raw = nil

	if raw.Type == KindSegList {
		var segs []Seg
		if err := json.Unmarshal(raw.Data, &segs); err != nil {
			return fmt.Errorf("%w: seglist payload is not a segment list: %v", ErrMalformed, err)
		}
		if len(segs) > 0 {
			s.Segs = segs
		}
		return nil
	}

	if len(raw.Data) == 0 {
		return nil
	}
	var fv flexValue
	if err := json.Unmarshal(raw.Data, &fv); err != nil {
		// Structured payload of a kind we don't model: carry it through
		// untouched.
		s.raw = append(json.RawMessage(nil), raw.Data...)
		s.Data = string(raw.Data)
		return nil
	}
	s.Data = string(fv)
	return nil
}
