package session

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// StorageContext names the slot an identity's playground state lives in.
// Passing it explicitly (instead of module-level globals) makes identity
// switches an observable, testable operation.
type StorageContext struct {
	// Key is the derived identity key the snapshot is stored under.
	Key string

	// Transitioning suppresses slot writes while an identity switch is in
	// progress, so a stale save cannot race the clear-and-reload.
	Transitioning bool
}

// DeriveKey derives a storage key from an API credential. The credential
// itself never reaches the slot layer, only its hash.
func DeriveKey(credential string) string {
	sum := sha3.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// DeriveKeyFromUserID derives a storage key for token-based auth, where the
// session already yields a stable user identifier.
func DeriveKeyFromUserID(userID string) string {
	return DeriveKey("user:" + userID)
}
