package provchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFileName = "private_key.pem"
	publicKeyFileName  = "public_key.pem"
)

// Keypair bundles the signing and verification halves of the chain identity.
type Keypair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// KeyManager owns the on-disk ed25519 keypair. Private key material is stored
// in the clear with restricted permissions; filesystem-level protection is the
// operator's responsibility.
type KeyManager struct {
	dir string
}

// NewKeyManager binds a key manager to a directory. The directory is created
// lazily by EnsureKeypair.
func NewKeyManager(dir string) *KeyManager {
	return &KeyManager{dir: dir}
}

func (m *KeyManager) privatePath() string { return filepath.Join(m.dir, privateKeyFileName) }

func (m *KeyManager) publicPath() string { return filepath.Join(m.dir, publicKeyFileName) }

// EnsureKeypair loads the existing keypair, or generates and persists a fresh
// one if none exists yet. The private key file is written 0600, the public
// key file 0644. All invocations after the first are pure reads.
func (m *KeyManager) EnsureKeypair() (Keypair, error) {
	priv, err := m.LoadPrivateKey()
	switch {
	case err == nil:
		return Keypair{Private: priv, Public: priv.Public().(ed25519.PublicKey)}, nil
	case err != ErrKeyNotFound:
		return Keypair{}, err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return Keypair{}, storageErr("create keys dir", err)
	}
	if err := writeKeyFile(m.privatePath(), "PRIVATE KEY", mustMarshalPKCS8(priv), 0600); err != nil {
		return Keypair{}, err
	}
	if err := writeKeyFile(m.publicPath(), "PUBLIC KEY", mustMarshalPKIX(pub), 0644); err != nil {
		return Keypair{}, err
	}
	return Keypair{Private: priv, Public: pub}, nil
}

// LoadPrivateKey reads the signing key. It fails with ErrKeyNotFound if the
// key file is absent; it never generates one.
func (m *KeyManager) LoadPrivateKey() (ed25519.PrivateKey, error) {
	der, err := readKeyFile(m.privatePath(), "PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ed25519", key)
	}
	return priv, nil
}

// LoadPublicKey reads the verification key. It fails with ErrKeyNotFound if
// the key file is absent.
func (m *KeyManager) LoadPublicKey() (ed25519.PublicKey, error) {
	der, err := readKeyFile(m.publicPath(), "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ed25519", key)
	}
	return pub, nil
}

func writeKeyFile(path, blockType string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, mode); err != nil {
		return storageErr("write key file", err)
	}
	// WriteFile honours umask; force the intended mode.
	if err := os.Chmod(path, mode); err != nil {
		return storageErr("chmod key file", err)
	}
	return nil
}

func readKeyFile(path, blockType string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, storageErr("read key file", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("%s: no %s PEM block", path, blockType)
	}
	return block.Bytes, nil
}

func mustMarshalPKCS8(priv ed25519.PrivateKey) []byte {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		panic(err) // cannot fail for a well-formed ed25519 key
	}
	return der
}

func mustMarshalPKIX(pub ed25519.PublicKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		panic(err)
	}
	return der
}
