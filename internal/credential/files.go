package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

const (
	keyFile    = "current.key"
	certFile   = "current.crt"
	archiveDir = "archive"

	pemPrivateKey   = "PRIVATE KEY"
	pemEncryptedKey = "ENCRYPTED PRIVATE KEY"
	pemCertificate  = "CERTIFICATE"

	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

var errInsecureFileMode = errors.New("insecure file permissions")

// encodeKey renders key as PKCS#8 PEM, sealed with AES-GCM under a
// scrypt-derived key when passphrase is set.
func encodeKey(key *rsa.PrivateKey, passphrase []byte) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der}), nil
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := keyCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type: pemEncryptedKey,
		Headers: map[string]string{
			"KDF":   "scrypt",
			"Salt":  hex.EncodeToString(salt),
			"Nonce": hex.EncodeToString(nonce),
		},
		Bytes: aead.Seal(nil, nonce, der, nil),
	}), nil
}

func decodeKey(data, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	der := block.Bytes
	switch block.Type {
	case pemPrivateKey:
	case pemEncryptedKey:
		if len(passphrase) == 0 {
			return nil, errors.New("key is encrypted and no passphrase is configured")
		}
		salt, err := hex.DecodeString(block.Headers["Salt"])
		if err != nil {
			return nil, fmt.Errorf("salt: %w", err)
		}
		nonce, err := hex.DecodeString(block.Headers["Nonce"])
		if err != nil {
			return nil, fmt.Errorf("nonce: %w", err)
		}
		aead, err := keyCipher(passphrase, salt)
		if err != nil {
			return nil, err
		}
		if len(nonce) != aead.NonceSize() {
			return nil, errors.New("nonce has wrong length")
		}
		if der, err = aead.Open(nil, nonce, block.Bytes, nil); err != nil {
			return nil, errors.New("wrong passphrase or corrupt key")
		}
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return key, nil
}

func keyCipher(passphrase, salt []byte) (cipher.AEAD, error) {
	k, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encodeCertificate(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemCertificate, Bytes: der})
}

func decodeCertificate(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemCertificate {
		return nil, errors.New("no CERTIFICATE block")
	}
	return block.Bytes, nil
}

// readKeyFile opens path and refuses it when group or other may access it.
// The mode is checked on the open descriptor.
func readKeyFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("mode %04o allows group/other access: %w", fi.Mode().Perm(), errInsecureFileMode)
	}
	return io.ReadAll(f)
}

// writeTemp writes data to a new temporary file in dir and returns its path.
// The caller renames it into place.
func writeTemp(dir, pattern string, data []byte, mode os.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	path := f.Name()
	cleanup := func(err error) (string, error) {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Chmod(mode); err != nil {
		return cleanup(err)
	}
	if _, err := f.Write(data); err != nil {
		return cleanup(err)
	}
	if err := f.Sync(); err != nil {
		return cleanup(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func archivePath(dir, serial, stamp, ext string) string {
	return filepath.Join(dir, archiveDir, serial+"-"+stamp+ext)
}
