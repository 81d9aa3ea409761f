// Package message defines the canonical wire format exchanged between the
// agent core, the router, and platform adapters: a recursive segment tree
// plus routing metadata, serialized as one JSON object per WebSocket frame.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a wire record is missing a required field or
// carries a structurally invalid payload. The frame is dropped; the
// connection that received it stays open.
var ErrMalformed = errors.New("malformed message")

// flexValue accepts a JSON string or number and carries it as a string.
// Platform adapters are inconsistent about numeric ids, so user_id,
// group_id and message_id tolerate both on the wire.
type flexValue string

func (f *flexValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexValue(n.String())
	return nil
}

// UserInfo identifies the author of a message on its source platform.
type UserInfo struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
	Nickname string `json:"user_nickname,omitempty"`
	Cardname string `json:"user_cardname,omitempty"`
}

func (u *UserInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Platform string    `json:"platform"`
		UserID   flexValue `json:"user_id"`
		Nickname string    `json:"user_nickname"`
		Cardname string    `json:"user_cardname"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.Platform = raw.Platform
	u.UserID = string(raw.UserID)
	u.Nickname = raw.Nickname
	u.Cardname = raw.Cardname
	return nil
}

// GroupInfo identifies the group or channel a message belongs to. Platform
// must match the owning message's platform.
type GroupInfo struct {
	Platform string `json:"platform"`
	GroupID  string `json:"group_id"`
	Name     string `json:"group_name,omitempty"`
}

func (g *GroupInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Platform string    `json:"platform"`
		GroupID  flexValue `json:"group_id"`
		Name     string    `json:"group_name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.Platform = raw.Platform
	g.GroupID = string(raw.GroupID)
	g.Name = raw.Name
	return nil
}

// FormatInfo advertises which segment kinds a message contains and which
// kinds the sender is willing to receive in a reply. Advisory only: the
// router never inspects it.
type FormatInfo struct {
	ContentFormat []string `json:"content_format,omitempty"`
	AcceptFormat  []string `json:"accept_format,omitempty"`
}

// Accepts reports whether the sender declared it can receive the given
// segment kind. An absent accept list means everything is accepted.
func (f *FormatInfo) Accepts(kind string) bool {
	if f == nil || len(f.AcceptFormat) == 0 {
		return true
	}
	for _, k := range f.AcceptFormat {
		if k == kind {
			return true
		}
	}
	return false
}

// TemplateInfo names an optional presentation template. Opaque to the router.
type TemplateInfo struct {
	Items   map[string]string `json:"template_items,omitempty"`
	Name    string            `json:"template_name,omitempty"`
	Default bool              `json:"template_default"`
}

// MessageInfo carries the routing metadata of a message. Platform is the key
// the router uses to pick a target; it is required, as is UserInfo.UserID.
type MessageInfo struct {
	Platform         string         `json:"platform"`
	MessageID        string         `json:"message_id,omitempty"`
	Time             float64        `json:"time,omitempty"`
	UserInfo         *UserInfo      `json:"user_info"`
	GroupInfo        *GroupInfo     `json:"group_info,omitempty"`
	FormatInfo       *FormatInfo    `json:"format_info,omitempty"`
	TemplateInfo     *TemplateInfo  `json:"template_info,omitempty"`
	AdditionalConfig map[string]any `json:"additional_config,omitempty"`
}

func (i *MessageInfo) UnmarshalJSON(data []byte) error {
	type alias MessageInfo
	var raw struct {
		*alias
		MessageID flexValue `json:"message_id"`
	}
	raw.alias = (*alias)(i)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.MessageID = string(raw.MessageID)
	return nil
}

// Message is the unit exchanged over the wire: routing metadata plus a
// segment tree, conventionally rooted at a seglist.
type Message struct {
	Info    MessageInfo `json:"message_info"`
	Segment Seg         `json:"message_segment"`
	Raw     string      `json:"raw_message,omitempty"`
}

// New builds a message with the given routing metadata and content.
func New(info MessageInfo, segment Seg) *Message {
	return &Message{Info: info, Segment: segment}
}

// Validate checks the fields deserialization cannot refuse on its own.
func (m *Message) Validate() error {
	if m.Info.Platform == "" {
		return fmt.Errorf("%w: missing platform", ErrMalformed)
	}
	if m.Info.UserInfo == nil || m.Info.UserInfo.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrMalformed)
	}
	if m.Segment.Type == "" {
		return fmt.Errorf("%w: missing message_segment", ErrMalformed)
	}
	return nil
}

// Marshal serializes a message into its canonical wire record.
func Marshal(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Unmarshal parses a wire record. Unknown top-level fields are ignored for
// forward compatibility; a missing segment type, platform, or user_id yields
// ErrMalformed.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		if errors.Is(err, ErrMalformed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
