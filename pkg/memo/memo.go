// Package memo implements the payment attribution tag carried in the memo
// field of shielded transactions.
//
// A tag is the configured prefix followed by the purchase id, for example
// "gimlee:7f1c...". Nodes report memos as fixed-length, NUL-padded byte
// strings encoded in hex.
package memo

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// Size is the length of a zcash-family memo field in bytes.
	Size = 512

	// noMemo is the leading byte zcashd uses for "no memo" fields.
	noMemo = 0xf6
)

// MalformedMemoError is returned when a memo is not valid hex.
type MalformedMemoError struct {
	Memo   string
	Reason string
}

func (e *MalformedMemoError) Error() string {
	return fmt.Sprintf("malformed memo %q: %s", abbreviate(e.Memo), e.Reason)
}

// Encode builds the attribution tag for a purchase.
func Encode(prefix, purchaseId string) string {
	return prefix + purchaseId
}

// PurchaseId extracts the purchase id from a decoded tag, reporting false
// when the tag does not start with prefix.
func PurchaseId(prefix, tag string) (string, bool) {
	if !strings.HasPrefix(tag, prefix) || len(tag) == len(prefix) {
		return "", false
	}
	return strings.TrimPrefix(tag, prefix), true
}

// EncodeHex renders text the way a node reports it: UTF-8 bytes, NUL padded
// to size, hex encoded. Text longer than size is rejected.
func EncodeHex(text string, size int) (string, error) {
	if size <= 0 {
		size = Size
	}
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("memo text is not valid UTF-8")
	}
	if len(text) > size {
		return "", fmt.Errorf("memo text is %d bytes, exceeds %d", len(text), size)
	}
	buf := make([]byte, size)
	copy(buf, text)
	return hex.EncodeToString(buf), nil
}

// Decode turns a hex memo into text. A blank input yields nil with no error.
// The content is cut at the first NUL byte; an empty content yields a pointer
// to the empty string.
func Decode(hexMemo string) (*string, error) {
	hexMemo = strings.TrimSpace(hexMemo)
	if hexMemo == "" {
		return nil, nil
	}
	if len(hexMemo)%2 != 0 {
		return nil, &MalformedMemoError{hexMemo, "odd length hex string"}
	}
	raw, err := hex.DecodeString(hexMemo)
	if err != nil {
		return nil, &MalformedMemoError{hexMemo, "invalid hex characters"}
	}
	if len(raw) > 0 && raw[0] == noMemo {
		empty := ""
		return &empty, nil
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	text := string(raw)
	return &text, nil
}

// DecodeText is Decode collapsing the absent case into an empty string.
func DecodeText(hexMemo string) (string, error) {
	text, err := Decode(hexMemo)
	if err != nil || text == nil {
		return "", err
	}
	return *text, nil
}

func abbreviate(s string) string {
	if len(s) <= 32 {
		return s
	}
	return s[:32] + "..."
}
