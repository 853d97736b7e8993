// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// ClientID is assigned by the hub in connection order and never reused.
type ClientID int64

func (id ClientID) String() string { return strconv.FormatInt(int64(id), 10) }

type User struct {
	ID       ClientID `json:"cid"`
	Username string   `json:"name"`
}

// NewUser gives the user a placeholder name until the client picks one.
func NewUser(id ClientID) *User {
	return &User{ID: id, Username: PlaceholderName()}
}

func PlaceholderName() string {
	return "guest-" + uuid.NewString()[:8]
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
