package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yourusername/network-backup-manager/internal/models"
)

// GCSConfig is the gcs provider schema. CredentialsJSON holds a service
// account key; Endpoint points at an emulator and disables authentication.
type GCSConfig struct {
	Bucket          string `json:"bucket"`
	CredentialsJSON string `json:"credentials_json,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
}

// Validate checks the config.
func (c *GCSConfig) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.CredentialsJSON == "" && c.Endpoint == "" {
		return fmt.Errorf("credentials_json is required")
	}
	return nil
}

// GCS stores artifacts in Google Cloud Storage.
type GCS struct {
	config GCSConfig
	client *storage.Client
}

// NewGCS creates a GCS provider.
func NewGCS(ctx context.Context, config GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	log.Printf("[GCSProvider] Initialized bucket=%s", config.Bucket)
	return &GCS{config: config, client: client}, nil
}

func (p *GCS) object(objectPath string) (*storage.ObjectHandle, string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return nil, "", err
	}
	return p.client.Bucket(p.config.Bucket).Object(joinPrefix(p.config.Prefix, clean)), clean, nil
}

// Store uploads the artifact, replacing any existing object.
func (p *GCS) Store(ctx context.Context, r io.Reader, dest string) (StoreResult, error) {
	obj, clean, err := p.object(dest)
	if err != nil {
		return StoreResult{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	hr := newHashingReader(r)
	if _, err := io.Copy(w, hr); err != nil {
		cancel()
		w.Close()
		return StoreResult{}, fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return StoreResult{}, fmt.Errorf("failed to finalize GCS upload: %w", err)
	}

	log.Printf("[GCSProvider] Stored gs://%s/%s (%d bytes)", p.config.Bucket, obj.ObjectName(), hr.size)
	return hr.result(clean), nil
}

// Fetch downloads an artifact.
func (p *GCS) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	obj, _, err := p.object(objectPath)
	if err != nil {
		return nil, err
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("failed to open GCS object: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object: %w", err)
	}
	return data, nil
}

// Remove deletes an artifact.
func (p *GCS) Remove(ctx context.Context, objectPath string) error {
	obj, _, err := p.object(objectPath)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return fmt.Errorf("failed to delete GCS object: %w", err)
	}
	log.Printf("[GCSProvider] Removed gs://%s/%s", p.config.Bucket, obj.ObjectName())
	return nil
}

// List returns artifacts under prefix.
func (p *GCS) List(ctx context.Context, prefix string) ([]Object, error) {
	strip := strings.Trim(p.config.Prefix, "/")
	if strip != "" {
		strip += "/"
	}
	query := strip
	if sub := strings.Trim(prefix, "/"); sub != "" {
		query += sub + "/"
	}

	var objects []Object
	it := p.client.Bucket(p.config.Bucket).Objects(ctx, &storage.Query{Prefix: query})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		objects = append(objects, Object{
			Path:    strings.TrimPrefix(attrs.Name, strip),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}
	return objects, nil
}

// Type implements Provider.
func (p *GCS) Type() models.ProviderType {
	return models.ProviderGCS
}

// Close releases the client.
func (p *GCS) Close() error {
	return p.client.Close()
}
