package encryption

import (
	"bytes"
	"fmt"
	"io"

	"driveingest/internal/ingest"
)

var plainHeader = []byte("DIPLAIN\x00")

// PlainEncryptor frames data with a fixed header instead of encrypting it.
// Used by tests and the "test" encryption type, where snapshots must be
// readable without keys.
type PlainEncryptor struct {
	configured bool
}

var _ ingest.Encryptor = (*PlainEncryptor)(nil)

func NewPlainEncryptor() *PlainEncryptor {
	return &PlainEncryptor{configured: true}
}

func (e *PlainEncryptor) Setup(passphrase string) error {
	e.configured = true
	return nil
}

func (e *PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(plainHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *PlainEncryptor) Unlock(passphrase string) (ingest.DecryptionContext, error) {
	return PlainDecryptionContext{}, nil
}

func (e *PlainEncryptor) IsConfigured() bool {
	return e.configured
}

// PlainDecryptionContext strips the header written by PlainEncryptor.
type PlainDecryptionContext struct{}

var _ ingest.DecryptionContext = PlainDecryptionContext{}

func (PlainDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(plainHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, plainHeader) {
		return fmt.Errorf("data was not written by PlainEncryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
