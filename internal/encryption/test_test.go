package encryption

import (
	"bytes"
	"testing"
)

func TestTestEncryptor_RoundTrip(t *testing.T) {
	e := NewTestEncryptor()
	if err := e.Setup("anything"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	input := []byte("tile bytes")
	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(input), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.HasPrefix(sealed.Bytes(), testHeader) {
		t.Errorf("sealed data missing header: %q", sealed.Bytes())
	}
	if bytes.Contains(sealed.Bytes(), input) {
		t.Error("sealed data contains the plaintext")
	}

	dc, _ := e.Unlock("")
	var plain bytes.Buffer
	if err := dc.Decrypt(&sealed, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(plain.Bytes(), input) {
		t.Errorf("Decrypt() = %q, want %q", plain.Bytes(), input)
	}
}

func TestTestDecryptionContext_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "truncated header", input: testHeader[:3]},
		{name: "wrong header", input: []byte("NOTSEALEDdata")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := (&TestDecryptionContext{}).Decrypt(bytes.NewReader(tt.input), &out); err == nil {
				t.Error("Decrypt() expected error")
			}
		})
	}
}
