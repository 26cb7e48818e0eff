package device

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Pairing codes avoid 0/1/I/O so they survive being read off a small OLED
// and typed by hand. 32 symbols over 8 characters is 40 bits.
const pairingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	deviceTokenBytes  = 32
	pairingCodeLength = 8
)

// generateDeviceToken returns a hex-encoded 256-bit bearer token.
func generateDeviceToken() (string, error) {
	b := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate device token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// generatePairingCode returns an 8-character uppercase code.
func generatePairingCode() (string, error) {
	b := make([]byte, pairingCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate pairing code: %w", err)
	}
	for i := range b {
		b[i] = pairingAlphabet[int(b[i])%len(pairingAlphabet)]
	}
	return string(b), nil
}
