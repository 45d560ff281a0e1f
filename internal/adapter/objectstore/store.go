// Package objectstore holds original ingested content. Every backend is
// content addressed: the reference of a blob is the hex SHA-256 of its
// bytes, so identical content is stored once and a reference never goes
// stale.
package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// Store is an ObjectStore that owns a connection or file handle.
type Store interface {
	port.ObjectStore
	Close() error
}

// Ref returns the content reference for data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// checkRef rejects references that no backend could have produced.
func checkRef(ref string) error {
	if len(ref) != sha256.Size*2 {
		return notFound(ref)
	}
	if _, err := hex.DecodeString(ref); err != nil {
		return notFound(ref)
	}
	return nil
}

func checkPut(data []byte) error {
	if len(data) == 0 {
		return domain.NewError(domain.KindInput, "content must not be empty", nil)
	}
	return nil
}

func notFound(ref string) error {
	return domain.NewError(domain.KindNotFound, fmt.Sprintf("content %q not found", ref), nil)
}

func unavailable(op string, err error) error {
	return domain.NewError(domain.KindStoreUnavailable, op, err)
}
