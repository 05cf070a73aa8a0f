// Package objectstore holds uploaded source PDFs until a batch job has
// consumed them. The browser uploads straight to the bucket through a
// presigned PUT URL; the server reads, checks and clears objects.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"
)

var (
	ErrNotFound        = errors.New("object not found")
	ErrExists          = errors.New("object already exists")
	ErrUnsupportedType = errors.New("only PDF files are allowed")
	ErrInvalidKey      = errors.New("invalid object key")
)

// PDFContentType is the only content type accepted for presigned uploads.
const PDFContentType = "application/pdf"

// DefaultPresignTTL is how long a presigned upload URL stays valid.
const DefaultPresignTTL = 30 * time.Minute

// Store is a bucket of source PDFs.
type Store interface {
	// PresignPut returns a URL the client can PUT the object body to.
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Put writes a new object and fails with ErrExists if key is taken.
	Put(ctx context.Context, key, contentType string, r io.Reader) error
	Delete(ctx context.Context, key string) error
	// Clear deletes every object in the bucket and reports how many.
	Clear(ctx context.Context) (int, error)
}

// ReadAll reads a whole object.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

var (
	unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	dotDotSegment  = regexp.MustCompile(`(^|/)\.\.(/|$)`)
)

// NewKey builds the key of a mass upload: mass_qr_<unix-ms>_<filename>.
func NewKey(filename string, now time.Time) string {
	return "mass_qr_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + unsafeKeyChars.ReplaceAllString(filename, "_")
}

// ValidateKey rejects keys that are empty, too long or path-like.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > 1024:
		return fmt.Errorf("%w: longer than 1024 bytes", ErrInvalidKey)
	case key[0] == '/' || dotDotSegment.MatchString(key):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func checkPresign(key, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if contentType != PDFContentType {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultPresignTTL
	}
	return ttl
}
