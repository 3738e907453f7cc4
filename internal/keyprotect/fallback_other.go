//go:build !linux && !windows

package keyprotect

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// saltFile holds the per-host random salt that, combined with a fixed
// passphrase-equivalent derived from the OS user id, scrypt-derives the
// sealing key. This is explicitly weaker than a true OS-bound primitive
// (documented in SPEC_FULL.md §C.6 and DESIGN.md) and is used on
// platforms with neither DPAPI nor a Linux kernel keyring.
const saltFile = "keyprotect.salt"

const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

type scryptSecretboxProtector struct {
	saltPath string
}

func newPlatformProtector(stateDir string) (Protector, error) {
	if stateDir == "" {
		stateDir = "."
	}
	return &scryptSecretboxProtector{saltPath: filepath.Join(stateDir, saltFile)}, nil
}

func (p *scryptSecretboxProtector) salt() ([]byte, error) {
	data, err := os.ReadFile(p.saltPath)
	if err == nil && len(data) == 32 {
		return data, nil
	}
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(p.saltPath, salt, 0o600); err != nil {
		return nil, fmt.Errorf("persist salt: %w", err)
	}
	return salt, nil
}

func (p *scryptSecretboxProtector) sealKey() (*[32]byte, error) {
	salt, err := p.salt()
	if err != nil {
		return nil, err
	}
	uid := fmt.Sprintf("uid:%d", os.Getuid())
	derived, err := scrypt.Key([]byte(uid), salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("scrypt.Key: %w", err)
	}
	var out [32]byte
	copy(out[:], derived)
	return &out, nil
}

func (p *scryptSecretboxProtector) Protect(plaintext []byte) ([]byte, error) {
	key, err := p.sealKey()
	if err != nil {
		return nil, fmt.Errorf("keyprotect(fallback): %w", err)
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("keyprotect(fallback): nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

func (p *scryptSecretboxProtector) Unprotect(wrapped []byte) ([]byte, error) {
	key, err := p.sealKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprotectFailed, err)
	}
	if len(wrapped) < 24 {
		return nil, fmt.Errorf("%w: truncated blob", ErrUnprotectFailed)
	}
	var nonce [24]byte
	copy(nonce[:], wrapped[:24])
	plain, ok := secretbox.Open(nil, wrapped[24:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("%w: secretbox open failed", ErrUnprotectFailed)
	}
	return plain, nil
}
