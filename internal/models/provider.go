package models

import (
	"encoding/json"
	"fmt"
)

// ProviderType tags a storage backend.
type ProviderType string

const (
	ProviderLocal       ProviderType = "local"
	ProviderS3          ProviderType = "aws-s3"
	ProviderGCS         ProviderType = "gcs"
	ProviderDropbox     ProviderType = "dropbox"
	ProviderGoogleDrive ProviderType = "google-drive"
	ProviderSFTP        ProviderType = "sftp"
)

// Provider is a configured storage backend. Config is opaque outside the
// backend that owns its schema.
type Provider struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     ProviderType    `json:"type"`
	Config   json.RawMessage `json:"config"`
	IsActive bool            `json:"is_active"`
}

// DecodeConfig unmarshals the provider config into v.
func (p *Provider) DecodeConfig(v any) error {
	if len(p.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.Config, v); err != nil {
		return fmt.Errorf("invalid %s provider config: %w", p.Type, err)
	}
	return nil
}
