//go:build windows

package keyprotect

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// dpapiProtector wraps the literal primitive the spec's glossary
// describes ("Protected data primitive: an OS service that
// encrypts/decrypts under the current user's identity"): Windows DPAPI,
// CryptProtectData/CryptUnprotectData, current-user scope,
// CRYPTPROTECT_UI_FORBIDDEN, no extra entropy.
type dpapiProtector struct{}

func newPlatformProtector(_ string) (Protector, error) {
	return &dpapiProtector{}, nil
}

var (
	modcrypt32          = windows.NewLazySystemDLL("crypt32.dll")
	modkernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procCryptProtectData   = modcrypt32.NewProc("CryptProtectData")
	procCryptUnprotectData = modcrypt32.NewProc("CryptUnprotectData")
	procLocalFree          = modkernel32.NewProc("LocalFree")
)

// cryptprotectUIForbidden prevents DPAPI from ever showing a UI prompt —
// a background agent must never block on user interaction.
const cryptprotectUIForbidden = 0x10

type dataBlob struct {
	cbData uint32
	pbData *byte
}

func newBlob(b []byte) dataBlob {
	if len(b) == 0 {
		return dataBlob{}
	}
	return dataBlob{cbData: uint32(len(b)), pbData: &b[0]}
}

func (b dataBlob) bytes() []byte {
	if b.pbData == nil || b.cbData == 0 {
		return nil
	}
	out := make([]byte, b.cbData)
	copy(out, unsafe.Slice(b.pbData, b.cbData))
	return out
}

func (p *dpapiProtector) Protect(plaintext []byte) ([]byte, error) {
	in := newBlob(plaintext)
	var out dataBlob
	ret, _, err := procCryptProtectData.Call(
		uintptr(unsafe.Pointer(&in)),
		0, // description
		0, // optional entropy
		0, // reserved
		0, // prompt struct
		uintptr(cryptprotectUIForbidden),
		uintptr(unsafe.Pointer(&out)),
	)
	if ret == 0 {
		return nil, fmt.Errorf("keyprotect(windows): CryptProtectData: %w", err)
	}
	defer procLocalFree.Call(uintptr(unsafe.Pointer(out.pbData))) //nolint:errcheck
	return out.bytes(), nil
}

func (p *dpapiProtector) Unprotect(wrapped []byte) ([]byte, error) {
	in := newBlob(wrapped)
	var out dataBlob
	ret, _, err := procCryptUnprotectData.Call(
		uintptr(unsafe.Pointer(&in)),
		0,
		0,
		0,
		0,
		uintptr(cryptprotectUIForbidden),
		uintptr(unsafe.Pointer(&out)),
	)
	if ret == 0 {
		return nil, fmt.Errorf("%w: CryptUnprotectData: %v", ErrUnprotectFailed, err)
	}
	defer procLocalFree.Call(uintptr(unsafe.Pointer(out.pbData))) //nolint:errcheck
	return out.bytes(), nil
}
