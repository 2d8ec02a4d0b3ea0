// Package sha256 provides the SHA-256 digests used to sign marketplace requests.
package sha256

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the lowercase hex SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HMAC returns HMAC-SHA256(key, data).
func HMAC(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// HMACHex is HMAC rendered as lowercase hex.
func HMACHex(key []byte, data string) string {
	return hex.EncodeToString(HMAC(key, data))
}
