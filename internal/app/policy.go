package app

import "fmt"

type OverflowAction int

const (
	DropMessage OverflowAction = iota
	Disconnect
)

// Policy decides what happens to a session whose bounded outgoing queue is
// full.
type Policy interface {
	OnOverflow(s *Session) OverflowAction
}

type SimplePolicy struct {
	Action OverflowAction
}

func (p SimplePolicy) OnOverflow(*Session) OverflowAction { return p.Action }

func ParseOverflowAction(s string) (OverflowAction, error) {
	switch s {
	case "", "disconnect":
		return Disconnect, nil
	case "drop":
		return DropMessage, nil
	default:
		return 0, fmt.Errorf("unknown overflow action %q", s)
	}
}
