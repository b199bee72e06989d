// Package provider stores backup artifacts on local disk or in remote
// storage. Every back end owns its config schema; callers only see the
// Provider contract.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"path"
	"strings"
	"time"

	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/ssh"
)

// ErrNotFound is returned by Fetch and Remove when nothing is stored at path.
var ErrNotFound = errors.New("object not found")

// StoreResult describes a stored object.
type StoreResult struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// Object is a listing entry.
type Object struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Provider is a storage back end. Store overwrites any object already at
// dest and returns the sha256 of the bytes it consumed.
type Provider interface {
	Store(ctx context.Context, r io.Reader, dest string) (StoreResult, error)
	Fetch(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Type() models.ProviderType
}

// Options carries process-wide settings some back ends need.
type Options struct {
	// HostKeys verifies SFTP servers.
	HostKeys *ssh.HostKeyStore
	// BaseDir resolves relative local provider paths.
	BaseDir string
}

// Validate decodes and checks a provider's config without connecting.
func Validate(p *models.Provider) error {
	switch p.Type {
	case models.ProviderLocal:
		var cfg LocalConfig
		return decodeAndValidate(p, &cfg)
	case models.ProviderS3:
		var cfg S3Config
		return decodeAndValidate(p, &cfg)
	case models.ProviderGCS:
		var cfg GCSConfig
		return decodeAndValidate(p, &cfg)
	case models.ProviderDropbox:
		var cfg DropboxConfig
		return decodeAndValidate(p, &cfg)
	case models.ProviderGoogleDrive:
		var cfg DriveConfig
		return decodeAndValidate(p, &cfg)
	case models.ProviderSFTP:
		var cfg SFTPConfig
		return decodeAndValidate(p, &cfg)
	default:
		return fmt.Errorf("unsupported provider type: %s", p.Type)
	}
}

type validator interface {
	Validate() error
}

func decodeAndValidate(p *models.Provider, cfg validator) error {
	if err := p.DecodeConfig(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid %s provider config: %w", p.Type, err)
	}
	return nil
}

// New builds the back end for p. Remote clients are created here but no
// object is touched until the first call.
func New(ctx context.Context, p *models.Provider, opts Options) (Provider, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	switch p.Type {
	case models.ProviderLocal:
		var cfg LocalConfig
		p.DecodeConfig(&cfg)
		return NewLocal(cfg, opts.BaseDir), nil
	case models.ProviderS3:
		var cfg S3Config
		p.DecodeConfig(&cfg)
		return NewS3(cfg)
	case models.ProviderGCS:
		var cfg GCSConfig
		p.DecodeConfig(&cfg)
		return NewGCS(ctx, cfg)
	case models.ProviderDropbox:
		var cfg DropboxConfig
		p.DecodeConfig(&cfg)
		return NewDropbox(cfg), nil
	case models.ProviderGoogleDrive:
		var cfg DriveConfig
		p.DecodeConfig(&cfg)
		return NewDrive(ctx, cfg)
	case models.ProviderSFTP:
		var cfg SFTPConfig
		p.DecodeConfig(&cfg)
		return NewSFTP(cfg, opts.HostKeys), nil
	}
	return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
}

// ObjectPath is the deterministic location of an artifact inside a
// provider: <equipment_id>/<file_name>.
func ObjectPath(equipmentID, fileName string) string {
	return path.Join(equipmentID, fileName)
}

// Checksum returns the hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cleanPath rejects absolute and escaping object paths.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(p)), "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("object path is empty")
	}
	return p, nil
}

// joinPrefix applies a provider-level prefix to an object path.
func joinPrefix(prefix, p string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}

// hashingReader counts and hashes bytes as they are read.
type hashingReader struct {
	r    io.Reader
	h    hash.Hash
	size int64
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: sha256.New()}
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.size += int64(n)
	}
	return n, err
}

func (hr *hashingReader) result(p string) StoreResult {
	return StoreResult{Path: p, Checksum: hex.EncodeToString(hr.h.Sum(nil)), Size: hr.size}
}
