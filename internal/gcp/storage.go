package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// IsPreconditionFailed reports whether err is a GCS 412 response.
func IsPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// SaveToGCSAtomically streams content into a GCS object only if it doesn't
// already exist. It reports whether this call created the object; an
// existing object is not a failure in an idempotent workflow.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content io.Reader) (bool, error) {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/pdf"

	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		if IsPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping.", "gcsObject", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if IsPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping.", "gcsObject", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return true, nil
}

// DownloadObject streams gs://bucket/object into destPath.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

// ReadObject returns the full content of gs://bucket/object.
func ReadObject(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}
