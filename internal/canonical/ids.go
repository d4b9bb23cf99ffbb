// Package canonical derives stable identifiers for accounts, threads, and
// messages from a platform name plus platform-native identifiers.
//
// The functions are pure and total: the same inputs always yield the same
// output, and malformed native ids still produce some stable id rather than
// an error, because failing would stall an entire import over one bad record.
package canonical

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const hexPrefix = "hex:"

// AccountID returns the canonical id for a platform user.
func AccountID(platform, nativeUserID string) string {
	return "user_" + platformSegment(platform) + "_" + CanonicalizeNativeID(nativeUserID)
}

// ThreadID returns the canonical id for a conversation container. The thread
// type is part of the id because some platforms reuse native ids across
// container kinds (a Slack thread shares its parent channel's id).
func ThreadID(platform, threadType, nativeChannelID string) string {
	return "thread_" + platformSegment(platform) + "_" + platformSegment(threadType) + "_" + CanonicalizeNativeID(nativeChannelID)
}

// MessageID returns the canonical id for a message.
func MessageID(platform, nativeMessageID string) string {
	return "msg_" + platformSegment(platform) + "_" + CanonicalizeNativeID(nativeMessageID)
}

// CanonicalizeNativeID maps a platform-native identifier to one stable
// textual form. Opaque binary identifiers (e.g. a group id handed over as
// raw bytes by one adapter path and as text by another) are hex-encoded, so
// every adapter path that observes the same identifier agrees on the result.
//
// Printable ids pass through untouched except when they would be ambiguous
// with the hex encoding itself.
func CanonicalizeNativeID(native string) string {
	if native == "" {
		return hexPrefix
	}
	if isPrintable(native) && !strings.HasPrefix(native, hexPrefix) {
		return native
	}
	return hexPrefix + hex.EncodeToString([]byte(native))
}

func isPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] <= 0x20 || s[i] >= 0x7f {
			return false
		}
	}
	return true
}

// platformSegment normalizes a platform or type name into a fixed id segment.
// Segments never contain '_', which keeps the platform prefix parseable.
// Bytes outside [a-z0-9] are escaped as "-" plus two hex digits rather than
// collapsed, so the mapping is injective and distinct platform names can
// never share a segment.
func platformSegment(name string) string {
	if name == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
			continue
		}
		b.WriteString(fmt.Sprintf("-%02x", c))
	}
	return b.String()
}
