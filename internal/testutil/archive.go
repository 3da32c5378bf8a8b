package testutil

import (
	"safeboard/internal/archive"
	"safeboard/internal/board"
	"safeboard/internal/encryption"
)

// NewTestArchive creates an empty in-memory archive.
func NewTestArchive() *archive.MemoryArchive {
	return archive.NewMemoryArchive("test-archive")
}

// NewTestEncryptor creates an encryptor that frames data without keys.
func NewTestEncryptor() board.Encryptor {
	return encryption.NewTestEncryptor()
}
