package core

import "fmt"

// Close codes that count as a normal end of a stream.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// CloseError is how a Stream reports that the peer or the transport ended
// the connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("stream closed: code=%d reason=%q", e.Code, e.Reason)
}

func (e *CloseError) Is(target error) bool { return target == ErrStreamClosed }

func (e *CloseError) Normal() bool {
	return e.Code == CloseNormal || e.Code == CloseGoingAway
}
