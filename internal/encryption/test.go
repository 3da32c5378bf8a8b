package encryption

import (
	"bytes"
	"fmt"
	"io"

	"safeboard/internal/board"
)

var plainMarker = []byte("SBPLAIN1")

// TestEncryptor frames data with a fixed marker instead of encrypting it.
// Output differs from the input and round-trips without keys.
type TestEncryptor struct {
	setups int
}

var _ board.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setups++
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(plainMarker); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	_, err := io.Copy(w, r)
	return err
}

func (e *TestEncryptor) Unlock(passphrase string) (board.DecryptionContext, error) {
	return testDecryptor{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

func (e *TestEncryptor) Suffix() string { return ".test" }

type testDecryptor struct{}

func (testDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	marker := make([]byte, len(plainMarker))
	if _, err := io.ReadFull(r, marker); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(marker, plainMarker) {
		return fmt.Errorf("not a test-encrypted snapshot")
	}
	_, err := io.Copy(w, r)
	return err
}
