package session

import (
	"errors"
	"strings"
)

// Status is the lifecycle state of a ride session.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

var ErrInvalidStatus = errors.New("invalid session status")

// ParseStatus normalizes (uppercases+trims) and validates a status string.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether status is one of the known constants.
func (status Status) Valid() bool {
	switch status {
	case StatusActive, StatusEnded:
		return true
	default:
		return false
	}
}

func (status Status) String() string {
	return string(status)
}
