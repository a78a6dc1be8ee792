package retention

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Confirmation code shape: two groups of four characters from an
// unambiguous alphabet (no 0/O, 1/I).
const (
	codeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeGroupLen  = 4
	codeGroups    = 2
	issuerKeySize = 32
)

// codeIssuer mints and verifies deletion confirmation codes. Codes are
// never stored; only an HMAC tag under an HKDF-derived key is
// persisted, so a database read alone cannot confirm a deletion.
type codeIssuer struct {
	key []byte
}

// newCodeIssuer derives a per-process HMAC key from fresh random
// material. Codes therefore survive only as long as the process, which
// matches the confirmation TTL model.
func newCodeIssuer() (*codeIssuer, error) {
	secret := make([]byte, issuerKeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate issuer secret: %w", err)
	}

	kdf := hkdf.New(sha256.New, secret, nil, []byte("typetrace deletion confirmation v1"))
	key := make([]byte, issuerKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive confirmation key: %w", err)
	}
	return &codeIssuer{key: key}, nil
}

// Issue returns a fresh confirmation code and its HMAC tag.
func (c *codeIssuer) Issue() (string, []byte, error) {
	raw := make([]byte, codeGroups*codeGroupLen)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate confirmation code: %w", err)
	}

	buf := make([]byte, 0, codeGroups*codeGroupLen+codeGroups-1)
	for i, b := range raw {
		if i > 0 && i%codeGroupLen == 0 {
			buf = append(buf, '-')
		}
		buf = append(buf, codeAlphabet[int(b)%len(codeAlphabet)])
	}
	code := string(buf)
	return code, c.tag(code), nil
}

// Verify reports whether the code matches the stored tag.
func (c *codeIssuer) Verify(code string, storedTag []byte) bool {
	return hmac.Equal(c.tag(code), storedTag)
}

func (c *codeIssuer) tag(code string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(code))
	return mac.Sum(nil)
}
