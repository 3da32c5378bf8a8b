package encryption

import (
	"fmt"
	"strings"

	"safeboard/internal/board"
	"safeboard/internal/config"
)

// NewArchiveEncryptor returns the encryptor for archived snapshots. The age
// encryptor needs both key paths, even before keygen has written the keys.
func NewArchiveEncryptor(cfg config.EncryptionConfig) (board.Encryptor, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("archive encryption: public_key_path and private_key_path must be set")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown archive encryption type: %q", cfg.Type)
	}
}
