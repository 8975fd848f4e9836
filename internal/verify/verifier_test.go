package verify

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const trustedComment = "timestamp:1730000000\tfile:locations.json"

// sign produces a public key file content and a legacy ("Ed") minisign
// signature over content with the given trusted comment.
func sign(t *testing.T, content []byte, comment string) (pubKey string, signature []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyID := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	keyBlob := append([]byte("Ed"), keyID...)
	keyBlob = append(keyBlob, pub...)
	pubKey = "untrusted comment: minisign public key 0807060504030201\n" + base64.StdEncoding.EncodeToString(keyBlob) + "\n"

	sig := ed25519.Sign(priv, content)
	sigBlob := append([]byte("Ed"), keyID...)
	sigBlob = append(sigBlob, sig...)
	global := ed25519.Sign(priv, append(append([]byte{}, sig...), []byte(comment)...))
	sigText := "untrusted comment: signature from minisign secret key\n" +
		base64.StdEncoding.EncodeToString(sigBlob) + "\n" +
		"trusted comment: " + comment + "\n" +
		base64.StdEncoding.EncodeToString(global) + "\n"

	return pubKey, []byte(sigText)
}

func TestMinisignAcceptsValidSignature(t *testing.T) {
	content := []byte(`[{"iata":"FRA"}]`)
	pubKey, sig := sign(t, content, trustedComment)

	v, err := NewMinisign(pubKey)
	if err != nil {
		t.Fatalf("NewMinisign: %v", err)
	}
	if err := v.Verify("locations.json", content, sig); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
}

func TestMinisignRejectsTamperedPayload(t *testing.T) {
	pubKey, sig := sign(t, []byte(`[{"iata":"FRA"}]`), trustedComment)

	v, err := NewMinisign(pubKey)
	if err != nil {
		t.Fatalf("NewMinisign: %v", err)
	}
	if err := v.Verify("locations.json", []byte(`[{"iata":"AMS"}]`), sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestMinisignChecksSignedFileName(t *testing.T) {
	content := []byte("catalog")
	pubKey, sig := sign(t, content, trustedComment)

	v, err := NewMinisign(pubKey)
	if err != nil {
		t.Fatalf("NewMinisign: %v", err)
	}
	if err := v.Verify("other.json", content, sig); !errors.Is(err, ErrWrongFile) {
		t.Fatalf("expected ErrWrongFile, got %v", err)
	}

	_, unnamed := sign(t, content, "timestamp:1730000000")
	if err := v.Verify("other.json", content, unnamed); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("signature from another key must fail, got %v", err)
	}
}

func TestMinisignKeyForms(t *testing.T) {
	content := []byte("catalog")
	pubKey, sig := sign(t, content, trustedComment)

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "catalog.pub")
	if err := os.WriteFile(keyPath, []byte(pubKey), 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(pubKey), "\n")
	bare := lines[len(lines)-1]

	for name, key := range map[string]string{"text": pubKey, "path": keyPath, "bare": bare} {
		v, err := NewMinisign(key)
		if err != nil {
			t.Fatalf("%s: NewMinisign: %v", name, err)
		}
		if err := v.Verify("locations.json", content, sig); err != nil {
			t.Fatalf("%s: Verify: %v", name, err)
		}
	}
}

func TestNewMinisignRequiresKey(t *testing.T) {
	if _, err := NewMinisign("  "); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := NewMinisign("not-a-key"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}
