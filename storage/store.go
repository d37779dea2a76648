// Package storage keeps uploaded file content in a public and a private area.
// The area a file lives in is its visibility: the same layout backs Asset rows
// and the image fields of users and offerings.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/cppla/storefront/models"
)

var (
	// ErrNotFound is returned when no object exists under the key.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidKey is returned for empty, absolute or escaping keys.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Store persists file content by visibility area and key.
type Store interface {
	Save(ctx context.Context, vis models.Visibility, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, vis models.Visibility, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, vis models.Visibility, key string) (bool, error)
	// Remove deletes the object; removing a missing object is not an error.
	Remove(ctx context.Context, vis models.Visibility, key string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewKey returns a unique key under uploads/ that keeps a readable form of filename.
func NewKey(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "file"
	}
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return fmt.Sprintf("uploads/%s-%s", uuid.NewString(), base)
}

// CleanKey normalizes key to a relative slash path and rejects traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func area(vis models.Visibility) (string, error) {
	switch vis {
	case models.VisibilityPublic:
		return "public", nil
	case models.VisibilityPrivate:
		return "private", nil
	default:
		return "", fmt.Errorf("storage: unknown visibility %q", vis)
	}
}

// IsStoredKey reports whether ref names an object in the store rather than an
// external URL or an inline data URI.
func IsStoredKey(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	for _, p := range []string{"http://", "https://", "data:"} {
		if strings.HasPrefix(ref, p) {
			return false
		}
	}
	return true
}
