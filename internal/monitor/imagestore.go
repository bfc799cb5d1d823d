package monitor

import (
	"context"
	"io"
)

// ImageStore is where captured tile images live. Keys are slash-separated
// paths such as "<areaID>/<tileKey>/<timestamp>.png".
type ImageStore interface {
	// Put stores size bytes read from r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// ValidateSetup verifies that the store is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// Encryptor handles at-rest encryption of stored images.
// Encryption uses the public key only. Decryption requires the passphrase to
// unlock the private key, producing a DecryptionContext for the process.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `geowatch keys init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
