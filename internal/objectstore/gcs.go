package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCS stores objects in a Cloud Storage bucket.
type GCS struct {
	bucket *storage.BucketHandle
	name   string
}

func NewGCS(client *storage.Client, bucket string) *GCS {
	return &GCS{bucket: client.Bucket(bucket), name: bucket}
}

func (g *GCS) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if err := checkPresign(key, contentType); err != nil {
		return "", err
	}
	url, err := g.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().Add(ttlOrDefault(ttl)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign upload URL for %s: %w", key, err)
	}
	return url, nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, g.name, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", g.name, key, err)
	}
	return r, nil
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", g.name, key, err)
	}
	return true, nil
}

// Put writes the object only if it does not exist yet.
func (g *GCS) Put(ctx context.Context, key, contentType string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	writer := g.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = map[string]string{"uploadedAt": time.Now().UTC().Format(time.RFC3339)}

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return g.writeErr(key, err)
	}
	if err := writer.Close(); err != nil {
		return g.writeErr(key, err)
	}
	return nil
}

func (g *GCS) writeErr(key string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: gs://%s/%s", ErrExists, g.name, key)
	}
	slog.Error("Failed to write object.", "bucket", g.name, "key", key, "error", err)
	return fmt.Errorf("failed to write gs://%s/%s: %w", g.name, key, err)
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", g.name, key, err)
	}
	return nil
}

func (g *GCS) Clear(ctx context.Context) (int, error) {
	it := g.bucket.Objects(ctx, nil)
	deleted := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to list gs://%s: %w", g.name, err)
		}
		if err := g.Delete(ctx, attrs.Name); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
