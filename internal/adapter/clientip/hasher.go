package clientip

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces salted one-way digests of canonical addresses.
type Hasher struct {
	secret string
}

func NewHasher(secret string) *Hasher {
	return &Hasher{secret: secret}
}

// Hash returns hex(sha256(ip + secret)), or nil for an empty address.
func (h *Hasher) Hash(ip string) *string {
	if ip == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(ip + h.secret))
	digest := hex.EncodeToString(sum[:])
	return &digest
}
