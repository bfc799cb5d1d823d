package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"geowatch/internal/config"
	"geowatch/internal/monitor"
)

// ErrKeysExist is returned by Setup when a key pair is already on disk.
var ErrKeysExist = errors.New("encryption keys already exist")

// keyFiles locates an X25519 key pair on disk. The recipient file is
// plaintext; the identity file is itself age-encrypted with a passphrase.
type keyFiles struct {
	recipient string
	identity  string
}

func (k keyFiles) paths() []string { return []string{k.recipient, k.identity} }

// anyExists reports whether either key file is present.
func (k keyFiles) anyExists() (bool, error) {
	for _, p := range k.paths() {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, fs.ErrNotExist):
			return false, fmt.Errorf("checking %s: %w", p, err)
		}
	}
	return false, nil
}

// AgeEncryptor seals images with filippo.io/age. Sealing needs only the
// public recipient; reading images back requires Unlock.
type AgeEncryptor struct {
	keys keyFiles

	once      sync.Once
	recipient age.Recipient
	loadErr   error
}

var _ monitor.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor over the configured key paths.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{keys: keyFiles{recipient: cfg.PublicKeyPath, identity: cfg.PrivateKeyPath}}
}

// Setup generates the key pair. Existing keys are never replaced.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	exists, err := e.keys.anyExists()
	if err != nil {
		return err
	}
	if exists {
		return ErrKeysExist
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	sealedIdentity, err := sealWithPassphrase(identity.String()+"\n", passphrase)
	if err != nil {
		return err
	}

	for _, p := range e.keys.paths() {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(e.keys.recipient, []byte(identity.Recipient().String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing recipient: %w", err)
	}
	if err := os.WriteFile(e.keys.identity, sealedIdentity, 0o600); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	return nil
}

// sealWithPassphrase encrypts text with an scrypt recipient.
func sealWithPassphrase(text, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	var out bytes.Buffer
	if err := seal(&out, strings.NewReader(text), recipient); err != nil {
		return nil, fmt.Errorf("sealing identity: %w", err)
	}
	return out.Bytes(), nil
}

// seal streams r through age to w for the given recipients.
func seal(w io.Writer, r io.Reader, recipients ...age.Recipient) error {
	sealed, err := age.Encrypt(w, recipients...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(sealed, r); err != nil {
		return err
	}
	return sealed.Close()
}

// Encrypt seals the image read from r into w. The recipient file is read
// once per encryptor.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	e.once.Do(func() { e.recipient, e.loadErr = e.readRecipient() })
	if e.loadErr != nil {
		return e.loadErr
	}
	if err := seal(w, r, e.recipient); err != nil {
		return fmt.Errorf("sealing image: %w", err)
	}
	return nil
}

func (e *AgeEncryptor) readRecipient() (age.Recipient, error) {
	f, err := os.Open(e.keys.recipient)
	if err != nil {
		return nil, fmt.Errorf("opening recipient: %w", err)
	}
	defer f.Close()

	recipients, err := age.ParseRecipients(f)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient %s: %w", e.keys.recipient, err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("recipient file %s is empty", e.keys.recipient)
	}
	return recipients[0], nil
}

// Unlock opens the identity file with passphrase. A wrong passphrase fails
// here, before any image is touched.
func (e *AgeEncryptor) Unlock(passphrase string) (monitor.DecryptionContext, error) {
	f, err := os.Open(e.keys.identity)
	if err != nil {
		return nil, fmt.Errorf("opening identity: %w", err)
	}
	defer f.Close()

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	plain, err := age.Decrypt(f, scrypt)
	if err != nil {
		return nil, fmt.Errorf("unlocking identity: %w", err)
	}
	identities, err := age.ParseIdentities(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("identity file holds no keys")
	}
	return &AgeDecryptionContext{identity: identities[0]}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range e.keys.paths() {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// AgeDecryptionContext opens images sealed by AgeEncryptor.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ monitor.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt streams the image sealed in r to w.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("opening sealed image: %w", err)
	}
	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("reading sealed image: %w", err)
	}
	return nil
}
