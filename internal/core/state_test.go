package core

import (
	"reflect"
	"testing"

	json "github.com/goccy/go-json"
)

func TestStateKeepsInsertionOrder(t *testing.T) {
	st := NewState()
	st.Set("z", json.RawMessage(`1`))
	st.Set("a", json.RawMessage(`2`))
	st.Set("m", json.RawMessage(`3`))
	st.Set("z", json.RawMessage(`4`))

	if want := []string{"z", "a", "m"}; !reflect.DeepEqual(st.Keys(), want) {
		t.Errorf("Expected keys %v, got %v", want, st.Keys())
	}
	data, err := st.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"z":4,"a":2,"m":3}` {
		t.Errorf("Unexpected encoding %s", data)
	}

	if !st.Delete("a") {
		t.Error("Expected Delete to report a present key")
	}
	if st.Delete("a") {
		t.Error("Expected Delete to report an absent key")
	}
}

func TestParseState(t *testing.T) {
	st, err := ParseState([]byte(`{"b":{"x":[1,2]},"a":"s","c":null}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := []string{"b", "a", "c"}; !reflect.DeepEqual(st.Keys(), want) {
		t.Errorf("Expected keys %v, got %v", want, st.Keys())
	}
	if v, _ := st.Get("a"); string(v) != `"s"` {
		t.Errorf("Expected \"s\", got %s", v)
	}

	for _, bad := range []string{`[]`, `1`, `"x"`, ``} {
		if _, err := ParseState([]byte(bad)); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func TestStateCloneIsIndependent(t *testing.T) {
	st := NewState()
	value := json.RawMessage(`{"n":1}`)
	st.Set("k", value)
	value[1] = 'X'

	clone := st.Clone()
	clone.Set("k", json.RawMessage(`2`))
	clone.Set("extra", json.RawMessage(`3`))

	if v, _ := st.Get("k"); string(v) != `{"n":1}` {
		t.Errorf("Original changed: %s", v)
	}
	if st.Len() != 1 {
		t.Errorf("Expected 1 key in original, got %d", st.Len())
	}
}
