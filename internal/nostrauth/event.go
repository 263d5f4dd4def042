// Package nostrauth verifies and produces short-lived Nostr events used as
// proof-of-key-possession for privileged operations.
package nostrauth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// AuthEventKind is the event kind reserved for HTTP authentication proofs.
const AuthEventKind = 27235

// DefaultAction is the action tag value used when a caller does not name one.
const DefaultAction = "auth"

// Event is a NIP-01 Nostr event.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

var errMalformed = errors.New("malformed event")

// ParseEvent decodes an event from raw JSON. A JSON null or an empty payload
// yields a nil event and no error so callers can treat it as "missing".
func ParseEvent(raw []byte) (*Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, errMalformed
	}
	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return &ev, nil
}

// Serialize returns the canonical NIP-01 serialization
// [0, pubkey, created_at, kind, tags, content] that the event id commits to.
// Strings are escaped the NIP-01 way: the named escapes \n \" \\ \r \t \b \f,
// \u00XX for the remaining control bytes, and everything else verbatim,
// including U+2028, U+2029 and bytes that are not valid UTF-8.
func (e *Event) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 128+len(e.Content))
	buf = append(buf, `[0,`...)
	buf = appendString(buf, e.Pubkey)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, e.CreatedAt, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(e.Kind), 10)
	buf = append(buf, ",["...)
	for i, tag := range e.Tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, v := range tag {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, v)
		}
		buf = append(buf, ']')
	}
	buf = append(buf, "],"...)
	buf = appendString(buf, e.Content)
	buf = append(buf, ']')
	return buf, nil
}

const hexDigits = "0123456789abcdef"

func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			if c < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
				continue
			}
			buf = append(buf, c)
		}
	}
	return append(buf, '"')
}

// Hash returns sha256 of the canonical serialization.
func (e *Event) Hash() ([]byte, error) {
	b, err := e.Serialize()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

// ComputeID returns the hex-encoded event id.
func (e *Event) ComputeID() (string, error) {
	h, err := e.Hash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h), nil
}

// Tag returns the first value of the named tag, or "".
func (e *Event) Tag(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// CreateAuthEventTemplate returns an unsigned auth event draft for pubkey.
// The counterparty signs this exact structure and sends it back.
func CreateAuthEventTemplate(pubkey, action string) *Event {
	if action == "" {
		action = DefaultAction
	}
	return &Event{
		Pubkey:    pubkey,
		CreatedAt: time.Now().Unix(),
		Kind:      AuthEventKind,
		Tags:      [][]string{{"action", action}},
		Content:   "",
	}
}
