package protocol

import (
	"errors"
	"fmt"
	"testing"

	json "github.com/goccy/go-json"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"valid", `{"type":"room-join","room-name":"x"}`, ""},
		{"not json", `hello`, "Bad message"},
		{"array", `[1,2]`, "Bad message"},
		{"null", `null`, "Bad message"},
		{"no type", `{"room-name":"x"}`, "Bad message: missing field 'type'"},
		{"type not string", `{"type":7}`, "Bad message: invalid field 'type'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.in))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error %v", err)
				}
				if env.Type != "room-join" {
					t.Errorf("Expected type room-join, got %q", env.Type)
				}
				return
			}
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("Expected *Error, got %v", err)
			}
			if pe.Text != tt.wantErr {
				t.Errorf("Expected %q, got %q", tt.wantErr, pe.Text)
			}
		})
	}
}

func TestEnvelopeFields(t *testing.T) {
	env, err := Decode([]byte(`{"type":"key-set","key":"k","value":{"a":[1]},"n":3,"nothing":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if key, err := env.String("key"); err != nil || key != "k" {
		t.Errorf("Expected key k, got %q (%v)", key, err)
	}
	if _, err := env.String("missing"); err == nil || err.Error() != "Bad message: missing field 'missing'" {
		t.Errorf("Unexpected error %v", err)
	}
	if _, err := env.String("n"); err == nil {
		t.Error("Expected a protocol error for a non-string field")
	} else if pe, ok := AsError(fmt.Errorf("wrapped: %w", err)); !ok || pe.Text != "Bad message: invalid field 'n'" {
		t.Errorf("Expected a protocol error for a non-string field, got %v", err)
	}
	if _, ok := AsError(errors.New("io")); ok {
		t.Error("Expected a plain error not to count as a protocol error")
	}
	if _, ok, err := env.OptionalString("nothing"); ok || err != nil {
		t.Errorf("Expected null to count as absent, got ok=%v err=%v", ok, err)
	}

	raw, err := env.Raw("value")
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if string(raw) != `{"a":[1]}` {
		t.Errorf("Unexpected raw value %s", raw)
	}
	if raw, err := env.Raw("nothing"); err != nil || string(raw) != "null" {
		t.Errorf("Expected explicit null to be kept, got %s (%v)", raw, err)
	}
}

func TestServerMessagesEncoding(t *testing.T) {
	data, err := json.Marshal(NewRoomJoinSuccess("lobby", 4, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"room-join-success","room-name":"lobby","client-id":4,"clients":[]}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}
