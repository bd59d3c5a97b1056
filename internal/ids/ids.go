// Package ids generates opaque identifiers and content hashes for uploads and renders.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"scenerender/internal/pkg/errors"
)

const (
	hashBufferSize = 16384

	shareTokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_-"
	shareTokenLength   = 12
)

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// IsID reports whether s is a UUID produced by NewID (or any canonical UUID).
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NewShareToken returns a short URL-safe token for public share links.
func NewShareToken() (string, error) {
	tok, err := gonanoid.Generate(shareTokenAlphabet, shareTokenLength)
	if err != nil {
		return "", errors.Wrap(err, "ids.share_token", "failed to generate share token")
	}
	return tok, nil
}

// HashContent returns the hex SHA-256 of the whole stream. The stream is read
// from the start and is always left positioned at offset 0, also when reading
// fails. A stream that cannot be rewound is an error.
func HashContent(rs io.ReadSeeker) (digest string, err error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", errors.Wrap(err, "ids.hash", "stream cannot be rewound")
	}

	defer func() {
		if _, seekErr := rs.Seek(0, io.SeekStart); seekErr != nil {
			digest = ""
			err = errors.Wrap(seekErr, "ids.hash", "failed to reset stream after hashing")
		}
	}()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, rs, buf); err != nil {
		return "", errors.Wrap(err, "ids.hash", "failed to read stream")
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
