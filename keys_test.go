package provchain

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestKeyManager_EnsureKeypair(t *testing.T) {
	dir := t.TempDir()
	km := NewKeyManager(filepath.Join(dir, "keys"))

	first, err := km.EnsureKeypair()
	if err != nil {
		t.Fatalf("EnsureKeypair failed: %v", err)
	}

	// Second invocation must load the same pair, not rotate it.
	second, err := km.EnsureKeypair()
	if err != nil {
		t.Fatalf("second EnsureKeypair failed: %v", err)
	}
	if !bytes.Equal(first.Private, second.Private) {
		t.Fatal("private key changed between invocations")
	}
	if !bytes.Equal(first.Public, second.Public) {
		t.Fatal("public key changed between invocations")
	}
}

func TestKeyManager_FileModes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	km := NewKeyManager(dir)
	if _, err := km.EnsureKeypair(); err != nil {
		t.Fatal(err)
	}

	privInfo, err := os.Stat(filepath.Join(dir, privateKeyFileName))
	if err != nil {
		t.Fatal(err)
	}
	if mode := privInfo.Mode().Perm(); mode != 0600 {
		t.Fatalf("private key mode %o, want 0600", mode)
	}

	pubInfo, err := os.Stat(filepath.Join(dir, publicKeyFileName))
	if err != nil {
		t.Fatal(err)
	}
	if mode := pubInfo.Mode().Perm(); mode != 0644 {
		t.Fatalf("public key mode %o, want 0644", mode)
	}
}

func TestKeyManager_ReadPathsNeverGenerate(t *testing.T) {
	km := NewKeyManager(filepath.Join(t.TempDir(), "keys"))

	if _, err := km.LoadPrivateKey(); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("LoadPrivateKey error = %v, want ErrKeyNotFound", err)
	}
	if _, err := km.LoadPublicKey(); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("LoadPublicKey error = %v, want ErrKeyNotFound", err)
	}
	// The failed loads must not have created anything.
	if _, err := km.LoadPrivateKey(); !errors.Is(err, ErrKeyNotFound) {
		t.Fatal("a read path generated key material")
	}
}

func TestKeyManager_SignVerifyAcrossLoads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	km := NewKeyManager(dir)
	pair, err := km.EnsureKeypair()
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte(canonicalPrefix + `{"index":0}`)
	sig := Sign(pair.Private, payload)

	pub, err := NewKeyManager(dir).LoadPublicKey()
	if err != nil {
		t.Fatal(err)
	}
	if !VerifySignature(pub, payload, sig) {
		t.Fatal("reloaded public key does not verify signature")
	}
}
