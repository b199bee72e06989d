package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/network-backup-manager/internal/models"
)

// LocalConfig is the local provider schema.
type LocalConfig struct {
	Path string `json:"path"`
}

// Validate checks the config.
func (c *LocalConfig) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// Local stores artifacts on the local filesystem
type Local struct {
	basePath string
}

// NewLocal creates a local provider. Relative paths resolve under baseDir.
func NewLocal(cfg LocalConfig, baseDir string) *Local {
	base := cfg.Path
	if !filepath.IsAbs(base) && baseDir != "" {
		base = filepath.Join(baseDir, base)
	}
	return &Local{basePath: filepath.Clean(base)}
}

// BasePath returns the root directory.
func (l *Local) BasePath() string {
	return l.basePath
}

func (l *Local) resolve(p string) (string, string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(l.basePath, filepath.FromSlash(clean)), nil
}

// Store writes the artifact through a temp file and renames it into place.
func (l *Local) Store(ctx context.Context, r io.Reader, dest string) (StoreResult, error) {
	rel, full, err := l.resolve(dest)
	if err != nil {
		return StoreResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return StoreResult{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hr := newHashingReader(r)
	if _, err := io.Copy(tmp, readerWithContext(ctx, hr)); err != nil {
		tmp.Close()
		return StoreResult{}, fmt.Errorf("failed to write backup file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return StoreResult{}, fmt.Errorf("failed to sync backup file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return StoreResult{}, fmt.Errorf("failed to close backup file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return StoreResult{}, fmt.Errorf("failed to move backup file into place: %w", err)
	}

	log.Printf("[LocalProvider] Stored %s (%d bytes)", rel, hr.size)
	return hr.result(rel), nil
}

// Fetch reads an artifact.
func (l *Local) Fetch(ctx context.Context, p string) ([]byte, error) {
	_, full, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	return data, nil
}

// Remove deletes an artifact.
func (l *Local) Remove(ctx context.Context, p string) error {
	_, full, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	log.Printf("[LocalProvider] Removed %s", p)
	return nil
}

// List returns artifacts under prefix.
func (l *Local) List(ctx context.Context, prefix string) ([]Object, error) {
	root := l.basePath
	if strings.Trim(prefix, "/") != "" {
		clean, err := cleanPath(prefix)
		if err != nil {
			return nil, err
		}
		root = filepath.Join(l.basePath, filepath.FromSlash(clean))
	}

	var objects []Object
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.Printf("[LocalProvider] Warning: Failed to get info for %s: %v", p, err)
			return nil
		}
		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}
	return objects, nil
}

// Type implements Provider.
func (l *Local) Type() models.ProviderType {
	return models.ProviderLocal
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
