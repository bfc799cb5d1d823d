package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"geowatch/internal/monitor"
)

// testHeader marks images sealed by TestEncryptor.
var testHeader = []byte("GWIMG\x00\x00\x00")

// testMask is XORed over every payload byte.
const testMask = 0x5a

// TestEncryptor seals images with a fixed header and a byte mask. It is
// deterministic and offers no secrecy; it exists for tests and dry runs.
type TestEncryptor struct{}

var _ monitor.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (*TestEncryptor) Setup(string) error { return nil }

func (*TestEncryptor) IsConfigured() bool { return true }

func (*TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.Write(testHeader)
	if err := mask(bw, r); err != nil {
		return fmt.Errorf("sealing image: %w", err)
	}
	return bw.Flush()
}

// Unlock accepts any passphrase.
func (*TestEncryptor) Unlock(string) (monitor.DecryptionContext, error) {
	return &TestDecryptionContext{}, nil
}

// TestDecryptionContext opens images sealed by TestEncryptor.
type TestDecryptionContext struct{}

var _ monitor.DecryptionContext = (*TestDecryptionContext)(nil)

func (*TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	header, err := br.Peek(len(testHeader))
	if err != nil || !bytes.Equal(header, testHeader) {
		return errors.New("not a sealed test image")
	}
	br.Discard(len(testHeader))

	bw := bufio.NewWriter(w)
	if err := mask(bw, br); err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	return bw.Flush()
}

func mask(w io.ByteWriter, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if werr := w.WriteByte(b ^ testMask); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
