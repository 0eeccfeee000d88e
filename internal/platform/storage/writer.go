package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
)

// Object describes a stored export.
type Object struct {
	Bucket      string
	Name        string
	ContentType string
	Size        int64
}

// ObjectWriter streams an object into a bucket.
type ObjectWriter interface {
	Write(ctx context.Context, obj Object, body io.Reader) (Object, error)
}

// GCSWriter writes objects through the Cloud Storage client.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter constructs a GCSWriter backed by the provided Cloud Storage client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// Write uploads body and returns the stored object with its size. The object is only
// finalised when Close succeeds, so a failed copy leaves nothing behind.
func (w *GCSWriter) Write(ctx context.Context, obj Object, body io.Reader) (Object, error) {
	if w == nil || w.client == nil {
		return Object{}, errors.New("storage writer: client is not initialised")
	}
	if err := validateObject(obj); err != nil {
		return Object{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := w.client.Bucket(obj.Bucket).Object(obj.Name).NewWriter(ctx)
	writer.ContentType = obj.ContentType
	n, err := io.Copy(writer, body)
	if err != nil {
		cancel()
		_ = writer.Close()
		return Object{}, fmt.Errorf("storage writer: copy %s: %w", obj.Name, err)
	}
	if err := writer.Close(); err != nil {
		return Object{}, fmt.Errorf("storage writer: finalise %s: %w", obj.Name, err)
	}
	obj.Size = n
	return obj, nil
}

// MemoryWriter keeps objects in process memory for local runs and tests.
type MemoryWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryWriter returns an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{objects: map[string][]byte{}}
}

func (w *MemoryWriter) Write(ctx context.Context, obj Object, body io.Reader) (Object, error) {
	if err := validateObject(obj); err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Object{}, fmt.Errorf("storage writer: read %s: %w", obj.Name, err)
	}
	w.mu.Lock()
	w.objects[obj.Bucket+"/"+obj.Name] = data
	w.mu.Unlock()
	obj.Size = int64(len(data))
	return obj, nil
}

// Object returns the stored bytes for bucket/name.
func (w *MemoryWriter) Object(bucket, name string) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, ok := w.objects[bucket+"/"+name]
	return bytes.Clone(data), ok
}

func validateObject(obj Object) error {
	if strings.TrimSpace(obj.Bucket) == "" {
		return errInvalidBucket
	}
	if strings.TrimSpace(obj.Name) == "" {
		return errInvalidObject
	}
	return nil
}
