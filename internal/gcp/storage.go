package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectTooLarge is returned by ReadObject when the object exceeds the size limit.
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt64 reads an integer environment variable, falling back on absence or parse failure.
func GetEnvInt64(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(GetEnv(key, ""), 10, 64); err == nil {
		return v
	}
	return fallback
}

// GetEnvDuration reads a time.ParseDuration-formatted environment variable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(GetEnv(key, "")); err == nil {
		return d
	}
	return fallback
}

// GetEnvBool reads a strconv.ParseBool-formatted environment variable.
func GetEnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(GetEnv(key, "")); err == nil {
		return b
	}
	return fallback
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	return writeIfAbsent(writer, objectName, strings.NewReader(content))
}

// writeIfAbsent copies content into a conditional writer. A failed
// DoesNotExist precondition means the object is already there and is not an error.
func writeIfAbsent(writer io.WriteCloser, objectName string, content io.Reader) error {
	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	// The precondition is usually only checked when the upload is finalized.
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// ReadObject reads a whole GCS object into memory, refusing objects larger than maxBytes.
func ReadObject(ctx context.Context, client *storage.Client, bucket, object string, maxBytes int64) ([]byte, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := readLimited(r, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrObjectTooLarge, maxBytes)
	}
	return data, nil
}

// GCSStore reads trigger objects and writes results through one storage client.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore wraps an existing storage client.
func NewGCSStore(client *storage.Client) *GCSStore {
	return &GCSStore{client: client}
}

// ReadObject reads bucket/object, refusing anything over maxBytes.
func (s *GCSStore) ReadObject(ctx context.Context, bucket, object string, maxBytes int64) ([]byte, error) {
	return ReadObject(ctx, s.client, bucket, object, maxBytes)
}

// WriteIfAbsent writes bucket/object unless it already exists.
func (s *GCSStore) WriteIfAbsent(ctx context.Context, bucket, object, contentType string, content []byte) error {
	return SaveToGCSAtomically(ctx, s.client.Bucket(bucket), object, contentType, string(content))
}
