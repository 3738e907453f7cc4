// Package keyprotect wraps and unwraps the Secure Audit Log's 32-byte
// master key under an OS-bound, per-user data-protection primitive (spec
// §4.1 "Key lifecycle", Glossary "Protected data primitive").
//
// Three concrete Protector implementations are selected at build time:
//   - Linux:   the kernel per-UID user keyring (add_key/keyctl), see
//     keyring_linux.go.
//   - Windows: DPAPI (CryptProtectData/CryptUnprotectData), see
//     dpapi_windows.go.
//   - other:   scrypt key derivation + nacl/secretbox sealing against a
//     per-host random salt file, see fallback_other.go — weaker than a
//     true OS primitive and never promoted to "protected" in audit text.
package keyprotect

import "errors"

// ErrUnprotectFailed is returned when the OS declines to unwrap a
// previously-protected blob under the current user (wrong user, revoked
// key material, keyring flushed by reboot, etc). The audit writer treats
// this as "key unwrap failure" (spec §4.1 step 4); the decoder treats it
// as a hard, user-visible error (spec §4.2, §7).
var ErrUnprotectFailed = errors.New("keyprotect: unprotect failed under current user")

// Protector wraps and unwraps opaque key material using an OS-scoped
// identity. Implementations must never let the unwrapped form leave the
// caller's address space other than via Unprotect's return value.
type Protector interface {
	// Protect wraps plaintext (expected to be 32 random bytes) into an
	// opaque on-disk representation recoverable only via Unprotect under
	// the same OS-scoped identity.
	Protect(plaintext []byte) ([]byte, error)

	// Unprotect reverses Protect. Returns ErrUnprotectFailed (wrapped) if
	// the current identity cannot recover the plaintext.
	Unprotect(wrapped []byte) ([]byte, error)
}

// New returns the platform-appropriate Protector, backed by
// newPlatformProtector which is implemented once per build-tagged file.
func New(stateDir string) (Protector, error) {
	return newPlatformProtector(stateDir)
}
