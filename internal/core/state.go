package core

import (
	"fmt"

	json "github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is a room's shared document: string keys in insertion order,
// each holding one raw JSON value. Values are never shared between two
// State instances.
type State struct {
	m *orderedmap.OrderedMap[string, json.RawMessage]
}

func NewState() *State {
	return &State{m: orderedmap.New[string, json.RawMessage]()}
}

// ParseState adopts a serialized document. Anything but a JSON object is
// rejected.
func ParseState(data []byte) (*State, error) {
	s := NewState()
	if err := s.m.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return s, nil
}

func (s *State) Len() int { return s.m.Len() }

func (s *State) Get(key string) (json.RawMessage, bool) {
	return s.m.Get(key)
}

func (s *State) Set(key string, value json.RawMessage) {
	s.m.Set(key, cloneRaw(value))
}

// Delete reports whether key was present.
func (s *State) Delete(key string) bool {
	_, ok := s.m.Delete(key)
	return ok
}

func (s *State) Keys() []string {
	keys := make([]string, 0, s.m.Len())
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Clone returns a deep, independent copy.
func (s *State) Clone() *State {
	out := NewState()
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		out.m.Set(pair.Key, cloneRaw(pair.Value))
	}
	return out
}

func (s *State) MarshalJSON() ([]byte, error) {
	return s.m.MarshalJSON()
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
