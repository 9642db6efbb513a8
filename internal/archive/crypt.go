package archive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"db-backup-runner/internal/joberr"
)

// encMagic prefixes every encrypted artifact so Extract can recognize one
// regardless of its file name.
var encMagic = []byte("DBRENC1\x00")

const (
	encSaltSize   = 16
	encIterations = 100_000
	encKeySize    = 32 // AES-256
)

// artifactCipher encrypts and decrypts compressed artifacts with
// AES-256-GCM, deriving the key from the configured passphrase via PBKDF2.
type artifactCipher struct {
	passphrase string
}

func newArtifactCipher(passphrase string) *artifactCipher {
	return &artifactCipher{passphrase: passphrase}
}

func (c *artifactCipher) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(c.passphrase), salt, encIterations, encKeySize, sha256.New)
}

// encryptFile replaces the file at path with its encrypted form:
// magic || salt || nonce || ciphertext.
func (c *artifactCipher) encryptFile(path string) error {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return joberr.ArchiveUnsupported("failed to read artifact for encryption", err)
	}

	salt := make([]byte, encSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return joberr.ArchiveUnsupported("failed to generate encryption salt", err)
	}

	gcm, err := newGCM(c.deriveKey(salt))
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return joberr.ArchiveUnsupported("failed to generate nonce", err)
	}

	out := make([]byte, 0, len(encMagic)+len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, encMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return joberr.ArchiveUnsupported("failed to write encrypted artifact", err)
	}
	return nil
}

// decryptStream consumes an encrypted artifact stream (starting at the
// magic) and returns the plaintext.
func (c *artifactCipher) decryptStream(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, joberr.ArchiveCorrupt("failed to read encrypted artifact", err)
	}
	if len(data) < len(encMagic)+encSaltSize {
		return nil, joberr.ArchiveCorrupt("encrypted artifact truncated", nil)
	}
	data = data[len(encMagic):]

	salt := data[:encSaltSize]
	data = data[encSaltSize:]

	gcm, err := newGCM(c.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, joberr.ArchiveCorrupt("encrypted artifact truncated", nil)
	}

	nonce := data[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, data[gcm.NonceSize():], nil)
	if err != nil {
		return nil, joberr.ArchiveCorrupt("failed to decrypt artifact (wrong key or corrupted data)", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, joberr.ArchiveUnsupported("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, joberr.ArchiveUnsupported("failed to create GCM", err)
	}
	return gcm, nil
}
