// Package utils provides random identifier helpers shared by the OAuth flow
// and the HTTP layer.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// StateBytes is the entropy of an OAuth state token
const StateBytes = 32

// GenerateRandomID generates a cryptographically secure random hex ID.
//
// length is the number of hex characters; length/2 random bytes are read.
// For odd lengths the result is one character shorter.
func GenerateRandomID(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateState returns a fresh OAuth state token: 32 random bytes, hex encoded.
func GenerateState() (string, error) {
	state, err := GenerateRandomID(StateBytes * 2)
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return state, nil
}

// GenerateRequestID generates a unique request ID for tracing and correlation.
//
// Format: "req-{16 hex chars}-{unix seconds}"
func GenerateRequestID() (string, error) {
	id, err := GenerateRandomID(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return fmt.Sprintf("req-%s-%d", id, time.Now().Unix()), nil
}

// MustGenerateRequestID generates a request ID or panics on failure.
func MustGenerateRequestID() string {
	id, err := GenerateRequestID()
	if err != nil {
		panic(fmt.Sprintf("failed to generate request ID: %v", err))
	}
	return id
}
