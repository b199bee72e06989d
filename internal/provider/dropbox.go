package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"

	"github.com/yourusername/network-backup-manager/internal/models"
)

// DropboxConfig is the dropbox provider schema. Root is the app folder
// path artifacts are written under.
type DropboxConfig struct {
	AccessToken string `json:"access_token"`
	Root        string `json:"root,omitempty"`
}

// Validate checks the config.
func (c *DropboxConfig) Validate() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("access_token is required")
	}
	if c.Root != "" && !strings.HasPrefix(c.Root, "/") {
		return fmt.Errorf("root must start with /")
	}
	return nil
}

// Dropbox stores artifacts in a Dropbox folder.
type Dropbox struct {
	config DropboxConfig
	client files.Client
}

// NewDropbox creates a Dropbox provider.
func NewDropbox(config DropboxConfig) *Dropbox {
	client := files.New(dropbox.Config{
		Token:    config.AccessToken,
		LogLevel: dropbox.LogOff,
	})
	return &Dropbox{config: config, client: client}
}

func (p *Dropbox) remotePath(objectPath string) (string, string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", "", err
	}
	return path.Join("/", p.config.Root, clean), clean, nil
}

// Store uploads the artifact in overwrite mode.
func (p *Dropbox) Store(ctx context.Context, r io.Reader, dest string) (StoreResult, error) {
	remote, clean, err := p.remotePath(dest)
	if err != nil {
		return StoreResult{}, err
	}

	hr := newHashingReader(r)
	data, err := io.ReadAll(readerWithContext(ctx, hr))
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to read data: %w", err)
	}

	arg := files.NewUploadArg(remote)
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	arg.Mute = true
	if _, err := p.client.Upload(arg, bytes.NewReader(data)); err != nil {
		return StoreResult{}, fmt.Errorf("failed to upload to Dropbox: %w", err)
	}

	log.Printf("[DropboxProvider] Stored %s (%d bytes)", remote, hr.size)
	return hr.result(clean), nil
}

// Fetch downloads an artifact.
func (p *Dropbox) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	remote, _, err := p.remotePath(objectPath)
	if err != nil {
		return nil, err
	}

	_, content, err := p.client.Download(files.NewDownloadArg(remote))
	if err != nil {
		if isDropboxNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("failed to download from Dropbox: %w", err)
	}
	defer content.Close()

	data, err := io.ReadAll(readerWithContext(ctx, content))
	if err != nil {
		return nil, fmt.Errorf("failed to read Dropbox file: %w", err)
	}
	return data, nil
}

// Remove deletes an artifact.
func (p *Dropbox) Remove(ctx context.Context, objectPath string) error {
	remote, _, err := p.remotePath(objectPath)
	if err != nil {
		return err
	}
	if _, err := p.client.DeleteV2(files.NewDeleteArg(remote)); err != nil {
		if isDropboxNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return fmt.Errorf("failed to delete from Dropbox: %w", err)
	}
	log.Printf("[DropboxProvider] Removed %s", remote)
	return nil
}

// List returns artifacts under prefix.
func (p *Dropbox) List(ctx context.Context, prefix string) ([]Object, error) {
	root := path.Join("/", p.config.Root)
	folder := path.Join(root, strings.Trim(prefix, "/"))
	if folder == "/" {
		folder = ""
	}

	arg := files.NewListFolderArg(folder)
	arg.Recursive = true
	res, err := p.client.ListFolder(arg)
	if err != nil {
		if isDropboxNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list Dropbox folder: %w", err)
	}

	var objects []Object
	for {
		for _, entry := range res.Entries {
			file, ok := entry.(*files.FileMetadata)
			if !ok {
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(file.PathDisplay, root), "/")
			objects = append(objects, Object{Path: rel, Size: int64(file.Size), ModTime: file.ServerModified})
		}
		if !res.HasMore || ctx.Err() != nil {
			break
		}
		res, err = p.client.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, fmt.Errorf("failed to list Dropbox folder: %w", err)
		}
	}
	return objects, ctx.Err()
}

// Type implements Provider.
func (p *Dropbox) Type() models.ProviderType {
	return models.ProviderDropbox
}

func isDropboxNotFound(err error) bool {
	return strings.Contains(err.Error(), "not_found")
}
