package protocol

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Error is a protocol violation. Its text is what the offending client
// receives in an error message; the connection stays open.
type Error struct {
	Text string
}

func (e *Error) Error() string { return e.Text }

var (
	ErrMalformed = &Error{Text: "Bad message"}
	ErrNoType    = &Error{Text: "Bad message: missing field 'type'"}
)

func MissingField(name string) error {
	return &Error{Text: fmt.Sprintf("Bad message: missing field '%s'", name)}
}

func BadField(name string) error {
	return &Error{Text: fmt.Sprintf("Bad message: invalid field '%s'", name)}
}

func UnknownType(t string) error {
	return &Error{Text: fmt.Sprintf("Bad message: unknown type '%s'", t)}
}

// AsError unwraps the protocol violation in err, if there is one. Such
// errors are answered with an error message instead of tearing the session
// down.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if !errors.As(err, &pe) {
		return nil, false
	}
	return pe, true
}

var null = []byte("null")

// Envelope is a decoded inbound message.
type Envelope struct {
	Type   string
	fields map[string]json.RawMessage
}

// Decode parses one inbound frame. It fails on anything that is not a JSON
// object with a string "type".
func Decode(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrMalformed
	}
	raw, ok := fields["type"]
	if !ok || bytes.Equal(raw, null) {
		return nil, ErrNoType
	}
	var t string
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, BadField("type")
	}
	delete(fields, "type")
	return &Envelope{Type: t, fields: fields}, nil
}

// String returns a required string field.
func (e *Envelope) String(name string) (string, error) {
	s, ok, err := e.OptionalString(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", MissingField(name)
	}
	return s, nil
}

// OptionalString returns a string field that may be absent or null.
func (e *Envelope) OptionalString(name string) (string, bool, error) {
	raw, ok := e.fields[name]
	if !ok || bytes.Equal(raw, null) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, BadField(name)
	}
	return s, true, nil
}

// Raw returns a required field of any JSON type. An explicit null counts
// as present.
func (e *Envelope) Raw(name string) (json.RawMessage, error) {
	raw, ok := e.fields[name]
	if !ok || len(raw) == 0 {
		return nil, MissingField(name)
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}
