package canonical

import (
	"strings"
	"testing"
)

func TestIDsAreDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := AccountID("slack", "U123"); got != "user_slack_U123" {
			t.Errorf("AccountID = %q, want user_slack_U123", got)
		}
		if got := ThreadID("slack", "channel", "C123"); got != "thread_slack_channel_C123" {
			t.Errorf("ThreadID = %q, want thread_slack_channel_C123", got)
		}
		if got := MessageID("slack", "C123_1234567890.123456"); got != "msg_slack_C123_1234567890.123456" {
			t.Errorf("MessageID = %q", got)
		}
	}
}

func TestPlatformsNeverCollide(t *testing.T) {
	a := MessageID("signal", "abc")
	b := MessageID("slack", "abc")
	if a == b {
		t.Fatalf("ids collide across platforms: %q", a)
	}
	if !strings.HasPrefix(a, "msg_signal_") || !strings.HasPrefix(b, "msg_slack_") {
		t.Errorf("platform prefix missing: %q %q", a, b)
	}
}

func TestPlatformSegmentCannotSmuggleSeparators(t *testing.T) {
	// A hostile or sloppy platform name must not let one platform's ids
	// masquerade as another's.
	got := AccountID("sl_ack", "U1")
	if got == "user_sl_ack_U1" {
		t.Errorf("separator leaked through platform segment: %q", got)
	}
	if got != "user_sl-5fack_U1" {
		t.Errorf("AccountID(sl_ack) = %q, want user_sl-5fack_U1", got)
	}
}

func TestPlatformSegmentIsInjective(t *testing.T) {
	// Escaping, not collapsing: names that only differ in the escaped byte
	// must still yield distinct segments.
	pairs := [][2]string{
		{"sl_ack", "sl-ack"},
		{"sl_ack", "sl.ack"},
		{"Slack", "slack"},
	}
	for _, p := range pairs {
		a, b := AccountID(p[0], "U1"), AccountID(p[1], "U1")
		if a == b {
			t.Errorf("platforms %q and %q collide: %q", p[0], p[1], a)
		}
	}
}

func TestCanonicalizeBinaryNativeID(t *testing.T) {
	raw := string([]byte{0x00, 0xab, 0xff})
	first := CanonicalizeNativeID(raw)
	second := CanonicalizeNativeID(raw)
	if first != second {
		t.Fatalf("binary canonicalization unstable: %q vs %q", first, second)
	}
	if first != "hex:00abff" {
		t.Errorf("CanonicalizeNativeID(binary) = %q, want hex:00abff", first)
	}
}

func TestCanonicalizeAmbiguousPrintableID(t *testing.T) {
	// A printable id that happens to look like a hex encoding must not
	// collide with the encoding of its binary counterpart.
	printable := "hex:00abff"
	if got := CanonicalizeNativeID(printable); got == "hex:00abff" {
		t.Errorf("ambiguous printable id passed through unescaped")
	}
	binary := CanonicalizeNativeID(string([]byte{0x00, 0xab, 0xff}))
	if CanonicalizeNativeID(printable) == binary {
		t.Errorf("printable %q collides with binary encoding", printable)
	}
}

func TestMalformedInputsStillProduceStableIDs(t *testing.T) {
	cases := []string{"", " ", "\n", "id with spaces", "\x7f\x80"}
	for _, c := range cases {
		first := MessageID("sms", c)
		second := MessageID("sms", c)
		if first == "" || first != second {
			t.Errorf("MessageID(%q) unstable or empty: %q vs %q", c, first, second)
		}
	}
	// Distinct malformed inputs must stay distinct.
	if MessageID("sms", " ") == MessageID("sms", "\n") {
		t.Errorf("distinct malformed ids collapsed")
	}
}
