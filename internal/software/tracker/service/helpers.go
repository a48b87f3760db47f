package service

import (
	"crypto/rand"
	"encoding/hex"
)

// randID generates a random 24-char hex string for correlation IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
