package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"geowatch/internal/monitor"
)

// ErrLocked is returned when reading from an EncryptedStore that has no
// decryption context.
var ErrLocked = errors.New("image store locked: private key not unlocked")

// EncryptedStore seals images before handing them to the wrapped store.
// Writing needs only the public key; reading needs an unlocked context.
type EncryptedStore struct {
	inner     monitor.ImageStore
	encryptor monitor.Encryptor
	decryptor monitor.DecryptionContext
}

// NewEncryptedStore wraps inner. decryptor may be nil for write-only use.
func NewEncryptedStore(inner monitor.ImageStore, encryptor monitor.Encryptor, decryptor monitor.DecryptionContext) *EncryptedStore {
	return &EncryptedStore{inner: inner, encryptor: encryptor, decryptor: decryptor}
}

// SetDecryptor unlocks reads. Call it before the store is shared.
func (e *EncryptedStore) SetDecryptor(decryptor monitor.DecryptionContext) {
	e.decryptor = decryptor
}

// Locked reports whether reads will fail with ErrLocked.
func (e *EncryptedStore) Locked() bool {
	return e.decryptor == nil
}

// Put encrypts the image and stores the ciphertext under key.
func (e *EncryptedStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	var sealed bytes.Buffer
	counted := &countingReader{r: r}
	if err := e.encryptor.Encrypt(counted, &sealed); err != nil {
		return fmt.Errorf("encrypting image: %w", err)
	}
	if counted.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counted.n)
	}
	return e.inner.Put(ctx, key, &sealed, int64(sealed.Len()))
}

// Get fetches and decrypts the image stored under key.
func (e *EncryptedStore) Get(ctx context.Context, key string, w io.Writer) error {
	if e.decryptor == nil {
		return ErrLocked
	}
	var sealed bytes.Buffer
	if err := e.inner.Get(ctx, key, &sealed); err != nil {
		return err
	}
	if err := e.decryptor.Decrypt(&sealed, w); err != nil {
		return fmt.Errorf("decrypting image %s: %w", key, err)
	}
	return nil
}

// ValidateSetup checks the wrapped store and that keys are present.
func (e *EncryptedStore) ValidateSetup(ctx context.Context) error {
	if !e.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys not configured (run `geowatch keys init`)")
	}
	return e.inner.ValidateSetup(ctx)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ monitor.ImageStore = (*EncryptedStore)(nil)
