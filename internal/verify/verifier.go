package verify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	minisign "github.com/jedisct1/go-minisign"
)

var (
	ErrBadSignature = errors.New("catalog signature does not match")
	ErrWrongFile    = errors.New("catalog signature was issued for another file")
)

// Minisign checks detached minisign signatures over catalog snapshots held in memory.
type Minisign struct {
	key minisign.PublicKey
}

// NewMinisign accepts the key in any of the forms minisign hands out: the
// two-line .pub file content, the bare base64 key, or a path to the .pub file.
func NewMinisign(key string) (*Minisign, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("minisign public key is required")
	}
	if data, err := os.ReadFile(key); err == nil {
		key = strings.TrimSpace(string(data))
	}

	var (
		pk  minisign.PublicKey
		err error
	)
	if strings.Contains(key, "\n") {
		pk, err = minisign.DecodePublicKey(key)
	} else {
		pk, err = minisign.NewPublicKey(key)
	}
	if err != nil {
		return nil, fmt.Errorf("parse minisign public key: %w", err)
	}
	return &Minisign{key: pk}, nil
}

// Verify checks signature against payload. When the trusted comment names a
// file, it must match name.
func (m *Minisign) Verify(name string, payload, signature []byte) error {
	if m == nil {
		return errors.New("signature verifier not configured")
	}
	sig, err := minisign.DecodeSignature(string(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	ok, err := m.key.Verify(payload, sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}
	if signed := signedFile(sig.TrustedComment); signed != "" && name != "" && signed != name {
		return fmt.Errorf("%w: signed %q, loaded %q", ErrWrongFile, signed, name)
	}
	return nil
}

// signedFile extracts the file: field minisign writes into trusted comments
// ("timestamp:1730000000\tfile:locations.json").
func signedFile(comment string) string {
	for _, field := range strings.FieldsFunc(comment, func(r rune) bool { return r == '\t' || r == ' ' }) {
		if v, ok := strings.CutPrefix(field, "file:"); ok {
			return v
		}
	}
	return ""
}
