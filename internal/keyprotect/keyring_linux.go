//go:build linux

package keyprotect

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// keyDescription names the wrapping key inside the kernel's per-UID user
// keyring (KEY_SPEC_USER_KEYRING, "@u"). That keyring is private to the
// calling UID and is the closest Linux analogue to DPAPI's "current
// user" scope: any process running as the same user can look the key up
// by description, nothing else can.
const keyDescription = "exfilguard:log-key-wrap"

// linuxKeyringProtector seals payloads with AES-256-GCM under a 32-byte
// wrapping key that itself lives only in the kernel user keyring — never
// written to disk in unwrapped form.
type linuxKeyringProtector struct{}

func newPlatformProtector(_ string) (Protector, error) {
	return &linuxKeyringProtector{}, nil
}

// wrapKey fetches the wrapping key from the user keyring, creating it on
// first use. add_key(2) with key type "user" stores arbitrary payload
// bytes; KEY_SPEC_USER_KEYRING scopes the lookup to the calling UID.
func wrapKey() ([]byte, error) {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, "user", keyDescription, 0)
	if err == nil {
		buf := make([]byte, 64)
		n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buf, 0)
		if err != nil {
			return nil, fmt.Errorf("keyctl read wrap key: %w", err)
		}
		if n != 32 {
			return nil, fmt.Errorf("keyctl wrap key: unexpected length %d", n)
		}
		return buf[:n], nil
	}

	material := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, fmt.Errorf("generate wrap key: %w", err)
	}
	if _, err := unix.AddKey("user", keyDescription, material, unix.KEY_SPEC_USER_KEYRING); err != nil {
		return nil, fmt.Errorf("add_key: %w", err)
	}
	return material, nil
}

func (p *linuxKeyringProtector) Protect(plaintext []byte) ([]byte, error) {
	wk, err := wrapKey()
	if err != nil {
		return nil, fmt.Errorf("keyprotect(linux): %w", err)
	}
	block, err := aes.NewCipher(wk)
	if err != nil {
		return nil, fmt.Errorf("keyprotect(linux): aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keyprotect(linux): cipher.NewGCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keyprotect(linux): nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *linuxKeyringProtector) Unprotect(wrapped []byte) ([]byte, error) {
	wk, err := wrapKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprotectFailed, err)
	}
	block, err := aes.NewCipher(wk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprotectFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprotectFailed, err)
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: truncated blob", ErrUnprotectFailed)
	}
	nonce, ct := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprotectFailed, err)
	}
	return plain, nil
}
