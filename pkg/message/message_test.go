package message

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func sampleMessage() *Message {
	return &Message{
		Info: MessageInfo{
			Platform:  "qq",
			MessageID: "10086",
			Time:      1717000000.25,
			UserInfo: &UserInfo{
				Platform: "qq",
				UserID:   "123456",
				Nickname: "mai",
			},
			GroupInfo: &GroupInfo{
				Platform: "qq",
				GroupID:  "654321",
				Name:     "test group",
			},
			FormatInfo: &FormatInfo{
				ContentFormat: []string{"text", "image"},
				AcceptFormat:  []string{"text", "emoji", "reply"},
			},
			TemplateInfo: &TemplateInfo{
				Name:    "compact",
				Items:   map[string]string{"reply": "{user}: {text}"},
				Default: false,
			},
			AdditionalConfig: map[string]any{"reply_probability": 0.7},
		},
		Segment: NewSegList(
			NewSeg(KindText, "hello "),
			NewSegList(
				NewSeg(KindAt, "123456"),
				NewSegList(
					NewSeg(KindImage, "aGVsbG8="),
					NewSeg(KindText, "deep"),
				),
			),
			NewSeg(KindText, "world"),
		),
		Raw: "hello [CQ:at,qq=123456] world",
	}
}

func TestRoundTrip(t *testing.T) {
	orig := sampleMessage()
	data, err := Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(orig, got) {
		t.Errorf("round trip mismatch:\n  orig: %+v\n  got:  %+v", orig, got)
	}
}

func TestRoundTrip_MinimalMessage(t *testing.T) {
	orig := New(MessageInfo{
		Platform: "test",
		UserInfo: &UserInfo{Platform: "test", UserID: "1"},
	}, NewSeg(KindText, "hi"))

	data, err := Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(orig, got) {
		t.Errorf("round trip mismatch:\n  orig: %+v\n  got:  %+v", orig, got)
	}
	if got.Info.GroupInfo != nil || got.Info.FormatInfo != nil || got.Info.TemplateInfo != nil {
		t.Error("absent optional fields must stay absent after a round trip")
	}
}

func TestUnmarshal_NumericIDs(t *testing.T) {
	record := `{
		"message_info": {
			"platform": "qq",
			"message_id": 42,
			"user_info": {"platform": "qq", "user_id": 123456},
			"group_info": {"platform": "qq", "group_id": 654321}
		},
		"message_segment": {"type": "text", "data": "hi"}
	}`
	m, err := Unmarshal([]byte(record))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Info.MessageID != "42" {
		t.Errorf("message_id: got %q, want %q", m.Info.MessageID, "42")
	}
	if m.Info.UserInfo.UserID != "123456" {
		t.Errorf("user_id: got %q, want %q", m.Info.UserInfo.UserID, "123456")
	}
	if m.Info.GroupInfo.GroupID != "654321" {
		t.Errorf("group_id: got %q, want %q", m.Info.GroupInfo.GroupID, "654321")
	}
}

func TestUnmarshal_MissingUserID(t *testing.T) {
	record := `{
		"message_info": {"platform": "qq", "user_info": {"platform": "qq"}},
		"message_segment": {"type": "text", "data": "hi"}
	}`
	_, err := Unmarshal([]byte(record))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if !strings.Contains(err.Error(), "user_id") {
		t.Errorf("error should name the missing field: %v", err)
	}
}

func TestUnmarshal_MissingPlatform(t *testing.T) {
	record := `{
		"message_info": {"user_info": {"platform": "qq", "user_id": "1"}},
		"message_segment": {"type": "text", "data": "hi"}
	}`
	if _, err := Unmarshal([]byte(record)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestUnmarshal_MissingSegmentType(t *testing.T) {
	record := `{
		"message_info": {"platform": "qq", "user_info": {"platform": "qq", "user_id": "1"}},
		"message_segment": {"data": "hi"}
	}`
	if _, err := Unmarshal([]byte(record)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestUnmarshal_SeglistWithScalarPayload(t *testing.T) {
	record := `{
		"message_info": {"platform": "qq", "user_info": {"platform": "qq", "user_id": "1"}},
		"message_segment": {"type": "seglist", "data": "not a list"}
	}`
	if _, err := Unmarshal([]byte(record)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestUnmarshal_InvalidJSON(t *testing.T) {
	if _, err := Unmarshal([]byte("{not json")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestUnmarshal_UnknownTopLevelFieldIgnored(t *testing.T) {
	record := `{
		"message_info": {"platform": "qq", "user_info": {"platform": "qq", "user_id": "1"}},
		"message_segment": {"type": "text", "data": "hi"},
		"future_field": {"anything": true}
	}`
	if _, err := Unmarshal([]byte(record)); err != nil {
		t.Fatalf("unknown top-level fields must be ignored: %v", err)
	}
}

func TestUnmarshal_UnknownSegmentKindPreserved(t *testing.T) {
	record := `{
		"message_info": {"platform": "qq", "user_info": {"platform": "qq", "user_id": "1"}},
		"message_segment": {"type": "seglist", "data": [
			{"type": "hologram", "data": "opaque-blob"},
			{"type": "text", "data": "hi"}
		]}
	}`
	m, err := Unmarshal([]byte(record))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Segment.Segs[0].Type != "hologram" || m.Segment.Segs[0].Data != "opaque-blob" {
		t.Errorf("unknown kind must pass through unchanged, got %+v", m.Segment.Segs[0])
	}

	data, err := Marshal(m)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if !reflect.DeepEqual(m, back) {
		t.Error("unknown kind must survive a re-serialization round trip")
	}
}

func TestUnmarshal_StructuredLeafPayloadPreserved(t *testing.T) {
	record := `{
		"message_info": {"platform": "qq", "user_info": {"platform": "qq", "user_id": "1"}},
		"message_segment": {"type": "poke", "data": {"target": 42, "times": [1, 2]}}
	}`
	m, err := Unmarshal([]byte(record))
	if err != nil {
		t.Fatalf("structured payloads of unknown kinds must not fail: %v", err)
	}

	data, err := Marshal(m)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !strings.Contains(string(data), `"data":{"target": 42, "times": [1, 2]}`) {
		t.Errorf("structured payload must be re-serialized verbatim, got %s", data)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if !reflect.DeepEqual(m, back) {
		t.Error("structured payload must survive a re-serialization round trip")
	}
}

func TestSegWalk_OrderPreserving(t *testing.T) {
	root := NewSegList(
		NewSeg(KindText, "a"),
		NewSegList(NewSeg(KindText, "b"), NewSeg(KindImage, "c")),
		NewSeg(KindText, "d"),
	)
	var order []string
	root.Walk(func(s Seg) bool {
		if !s.IsList() {
			order = append(order, s.Data)
		}
		return true
	})
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("walk order: got %v, want %v", order, want)
	}
}

func TestSegPlainText(t *testing.T) {
	root := NewSegList(
		NewSeg(KindText, "hello "),
		NewSeg(KindImage, "ignored"),
		NewSegList(NewSeg(KindText, "world")),
	)
	if got := root.PlainText(); got != "hello world" {
		t.Errorf("plain text: got %q", got)
	}
}

func TestSegKinds(t *testing.T) {
	root := NewSegList(
		NewSeg(KindText, "a"),
		NewSegList(NewSeg(KindImage, "b"), NewSeg(KindAt, "c")),
	)
	kinds := root.Kinds()
	for _, k := range []string{KindText, KindImage, KindAt} {
		if !kinds[k] {
			t.Errorf("expected kind %q present", k)
		}
	}
	if kinds[KindSegList] {
		t.Error("seglist is not a leaf kind")
	}
}

func TestFormatInfoAccepts(t *testing.T) {
	fi := &FormatInfo{AcceptFormat: []string{"text", "emoji"}}
	if !fi.Accepts("emoji") {
		t.Error("emoji should be accepted")
	}
	if fi.Accepts("image") {
		t.Error("image should not be accepted")
	}
	var empty *FormatInfo
	if !empty.Accepts("image") {
		t.Error("absent format info accepts everything")
	}
}

func TestMarshal_RejectsInvalid(t *testing.T) {
	m := New(MessageInfo{Platform: "qq"}, NewSeg(KindText, "hi"))
	if _, err := Marshal(m); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for message without user info, got %v", err)
	}
}
