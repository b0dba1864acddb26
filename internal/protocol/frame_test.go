package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeAuthFrame(t *testing.T) {
	f, err := Decode([]byte(`{"type":"auth","token":"abc123"}`))
	if err != nil {
		t.Fatalf("decode auth: %v", err)
	}
	auth, ok := f.(*AuthFrame)
	if !ok {
		t.Fatalf("expected *AuthFrame, got %T", f)
	}
	if auth.Token != "abc123" {
		t.Fatalf("token = %q", auth.Token)
	}
}

func TestDecodeAuthResult(t *testing.T) {
	f, err := Decode([]byte(`{"type":"auth","success":true}`))
	if err != nil {
		t.Fatalf("decode auth result: %v", err)
	}
	res, ok := f.(*AuthResult)
	if !ok {
		t.Fatalf("expected *AuthResult, got %T", f)
	}
	if !res.Success {
		t.Fatal("success = false")
	}
}

func TestDecodeMessageFrame(t *testing.T) {
	raw := `{"type":"message","content":"hi","fileUrl":"/u/a.png","fileSize":42,"timestamp":"2025-03-01T10:00:00Z"}`
	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	m, ok := f.(*MessageFrame)
	if !ok {
		t.Fatalf("expected *MessageFrame, got %T", f)
	}
	if m.Content != "hi" || m.FileURL != "/u/a.png" || m.FileSize != 42 {
		t.Fatalf("unexpected fields: %+v", m)
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if !m.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", m.Timestamp, want)
	}
}

func TestDecodeBroadcastFrame(t *testing.T) {
	raw := `{"type":"message","data":{"id":"m7","sender":"ann","content":"yo","timestamp":1740823200000}}`
	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	b, ok := f.(*BroadcastFrame)
	if !ok {
		t.Fatalf("expected *BroadcastFrame, got %T", f)
	}
	if b.Data.ID != "m7" || b.Data.Sender != "ann" {
		t.Fatalf("unexpected data: %+v", b.Data)
	}
	if b.Data.Timestamp.IsZero() {
		t.Fatal("epoch timestamp not normalized")
	}
}

func TestDecodeTypingFrame(t *testing.T) {
	f, err := Decode([]byte(`{"type":"typing","isTyping":true,"user":"bob"}`))
	if err != nil {
		t.Fatalf("decode typing: %v", err)
	}
	ty := f.(*TypingFrame)
	if !ty.IsTyping || ty.User != "bob" {
		t.Fatalf("unexpected typing frame: %+v", ty)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		`{not json`,
		`{"content":"no type tag"}`,
		`{"type":"presence"}`,
		`{"type":"typing"}`,
	}
	for _, raw := range cases {
		_, err := Decode([]byte(raw))
		if err == nil {
			t.Fatalf("decode %q: expected error", raw)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("decode %q: expected *ParseError, got %T", raw, err)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := Encode(&TypingFrame{IsTyping: true, User: "ann"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ty, ok := f.(*TypingFrame)
	if !ok || !ty.IsTyping || ty.User != "ann" {
		t.Fatalf("round trip mismatch: %#v", f)
	}
}

func TestFlexTimeEpochAndISOAgree(t *testing.T) {
	var a, b FlexTime
	if err := a.UnmarshalJSON([]byte(`"2025-03-01T10:00:00Z"`)); err != nil {
		t.Fatalf("iso: %v", err)
	}
	if err := b.UnmarshalJSON([]byte(`1740823200000`)); err != nil {
		t.Fatalf("epoch: %v", err)
	}
	if !a.Equal(b.Time) {
		t.Fatalf("iso %v != epoch %v", a, b)
	}
}

func TestShouldReconnect(t *testing.T) {
	for code, want := range map[int]bool{
		1000:              false,
		CloseAuthRequired: false,
		CloseAuthRejected: false,
		1006:              true,
		1011:              true,
		4999:              true,
	} {
		if got := ShouldReconnect(code); got != want {
			t.Fatalf("ShouldReconnect(%d) = %v, want %v", code, got, want)
		}
	}
}
