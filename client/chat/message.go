package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	ChannelGlobal = "global"

	// UnknownSender names the sender of a bare string message
	UnknownSender = "Unknown"
	// UnknownSailor names the sender of a message no lookup could resolve
	UnknownSailor = "Unknown Sailor"
)

// Message is a normalized chat message. It is immutable once stored.
// Timestamp is in milliseconds since the epoch.
type Message struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
	SenderID   string `json:"player_id,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	Channel    string `json:"type"`
}

// Structured is a chat message object as sent by the server. Absent fields
// are zero values, except Content which is nil when missing.
//
// Decoding is lenient: numeric ids and numeric timestamp strings are
// accepted, and fields of any other unexpected type are left zero and
// listed in Invalid.
type Structured struct {
	Content    *string
	SenderName string
	SenderID   string
	Timestamp  float64
	Channel    string
	Invalid    []string
}

func (s *Structured) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("failed to unmarshal chat object: %w", err)
	}

	decoded := Structured{}
	if raw, ok := present(fields, "content"); ok {
		var content string
		if err := json.Unmarshal(raw, &content); err != nil {
			decoded.Invalid = append(decoded.Invalid, "content")
		} else {
			decoded.Content = &content
		}
	}
	decoded.SenderName = decoded.text(fields, "sender_name")
	decoded.SenderID = decoded.text(fields, "player_id")
	decoded.Channel = decoded.text(fields, "type")
	if raw, ok := present(fields, "timestamp"); ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			decoded.Invalid = append(decoded.Invalid, "timestamp")
		} else {
			decoded.Timestamp = ts
		}
	}

	*s = decoded
	return nil
}

// text decodes a string field, accepting a number in its literal form.
func (s *Structured) text(fields map[string]json.RawMessage, name string) string {
	raw, ok := present(fields, name)
	if !ok {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	s.Invalid = append(s.Invalid, name)
	return ""
}

// present returns the raw value of a field that is set and not null.
func present(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// parseTimestamp accepts a JSON number or a string holding one.
func parseTimestamp(raw json.RawMessage) (float64, error) {
	var ts float64
	if err := json.Unmarshal(raw, &ts); err == nil {
		return ts, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(str), 64)
}

type IncomingKind int

const (
	IncomingRaw IncomingKind = iota
	IncomingStructured
)

// Incoming is an inbound chat payload: either a bare string or a structured object.
type Incoming struct {
	Kind       IncomingKind
	Raw        string
	Structured Structured
}

func RawIncoming(content string) Incoming {
	return Incoming{Kind: IncomingRaw, Raw: content}
}

func StructuredIncoming(s Structured) Incoming {
	return Incoming{Kind: IncomingStructured, Structured: s}
}

func (in *Incoming) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return &MalformedMessageError{Reason: "empty payload"}
	}
	switch b[0] {
	case '"':
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("failed to unmarshal chat string: %w", err)
		}
		*in = RawIncoming(raw)
		return nil
	case '{':
		var s Structured
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*in = StructuredIncoming(s)
		return nil
	default:
		return &MalformedMessageError{Reason: fmt.Sprintf("unexpected payload %.32s", b)}
	}
}
