package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/yourusername/network-backup-manager/internal/models"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// DriveConfig is the google-drive provider schema. Either a service account
// key or an OAuth client with a refresh token authorizes access. FolderID is
// the parent folder artifacts are written under.
type DriveConfig struct {
	FolderID        string `json:"folder_id"`
	CredentialsJSON string `json:"credentials_json,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
}

// Validate checks the config.
func (c *DriveConfig) Validate() error {
	if strings.TrimSpace(c.FolderID) == "" {
		return fmt.Errorf("folder_id is required")
	}
	hasOAuth := c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
	if c.CredentialsJSON == "" && !hasOAuth && c.Endpoint == "" {
		return fmt.Errorf("credentials_json or client_id, client_secret and refresh_token are required")
	}
	return nil
}

// Drive stores artifacts in Google Drive. Drive allows duplicate names, so
// every write looks the name up first and updates in place.
type Drive struct {
	config  DriveConfig
	service *drive.Service

	mu      sync.Mutex
	folders map[string]string
}

// NewDrive creates a Google Drive provider.
func NewDrive(ctx context.Context, config DriveConfig) (*Drive, error) {
	var opts []option.ClientOption
	switch {
	case config.Endpoint != "":
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	case config.RefreshToken != "":
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{drive.DriveFileScope},
		}
		token := &oauth2.Token{RefreshToken: config.RefreshToken, Expiry: time.Now()}
		opts = append(opts, option.WithTokenSource(oauthConfig.TokenSource(ctx, token)))
	default:
		opts = append(opts,
			option.WithCredentialsJSON([]byte(config.CredentialsJSON)),
			option.WithScopes(drive.DriveFileScope),
		)
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}
	log.Printf("[DriveProvider] Initialized folder=%s", config.FolderID)
	return &Drive{config: config, service: service, folders: make(map[string]string)}, nil
}

// driveQuote escapes a value for a Drive search query.
func driveQuote(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return "'" + strings.ReplaceAll(value, `'`, `\'`) + "'"
}

func driveChildQuery(parentID, name string, folder bool) string {
	q := fmt.Sprintf("name = %s and %s in parents and trashed = false", driveQuote(name), driveQuote(parentID))
	if folder {
		q += " and mimeType = " + driveQuote(driveFolderMime)
	} else {
		q += " and mimeType != " + driveQuote(driveFolderMime)
	}
	return q
}

func (p *Drive) findChild(ctx context.Context, parentID, name string, folder bool) (*drive.File, error) {
	list, err := p.service.Files.List().
		Q(driveChildQuery(parentID, name, folder)).
		Fields("files(id, name, size, modifiedTime)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to search Drive: %w", err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0], nil
}

// folder resolves (and optionally creates) the folder chain for dir.
func (p *Drive) folder(ctx context.Context, dir string, create bool) (string, error) {
	parent := p.config.FolderID
	if dir == "" || dir == "." {
		return parent, nil
	}

	p.mu.Lock()
	cached, ok := p.folders[dir]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	for _, name := range strings.Split(dir, "/") {
		child, err := p.findChild(ctx, parent, name, true)
		if err != nil {
			return "", err
		}
		if child == nil {
			if !create {
				return "", nil
			}
			child, err = p.service.Files.Create(&drive.File{
				Name:     name,
				MimeType: driveFolderMime,
				Parents:  []string{parent},
			}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
			if err != nil {
				return "", fmt.Errorf("failed to create Drive folder %s: %w", name, err)
			}
		}
		parent = child.Id
	}

	p.mu.Lock()
	p.folders[dir] = parent
	p.mu.Unlock()
	return parent, nil
}

func (p *Drive) lookup(ctx context.Context, objectPath string) (*drive.File, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	parent, err := p.folder(ctx, path.Dir(clean), false)
	if err != nil {
		return nil, err
	}
	if parent == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
	}
	file, err := p.findChild(ctx, parent, path.Base(clean), false)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
	}
	return file, nil
}

// Store uploads the artifact, updating an existing file of the same name.
func (p *Drive) Store(ctx context.Context, r io.Reader, dest string) (StoreResult, error) {
	clean, err := cleanPath(dest)
	if err != nil {
		return StoreResult{}, err
	}

	hr := newHashingReader(r)
	data, err := io.ReadAll(readerWithContext(ctx, hr))
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to read data: %w", err)
	}

	parent, err := p.folder(ctx, path.Dir(clean), true)
	if err != nil {
		return StoreResult{}, err
	}
	name := path.Base(clean)
	existing, err := p.findChild(ctx, parent, name, false)
	if err != nil {
		return StoreResult{}, err
	}

	media := googleapi.ContentType("application/octet-stream")
	if existing != nil {
		_, err = p.service.Files.Update(existing.Id, &drive.File{}).
			Media(bytes.NewReader(data), media).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	} else {
		_, err = p.service.Files.Create(&drive.File{Name: name, Parents: []string{parent}}).
			Media(bytes.NewReader(data), media).
			Fields("id").
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	}
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to upload to Drive: %w", err)
	}

	log.Printf("[DriveProvider] Stored %s (%d bytes, replaced=%t)", clean, hr.size, existing != nil)
	return hr.result(clean), nil
}

// Fetch downloads an artifact.
func (p *Drive) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	file, err := p.lookup(ctx, objectPath)
	if err != nil {
		return nil, err
	}

	resp, err := p.service.Files.Get(file.Id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("failed to download from Drive: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Drive file: %w", err)
	}
	return data, nil
}

// Remove deletes an artifact.
func (p *Drive) Remove(ctx context.Context, objectPath string) error {
	file, err := p.lookup(ctx, objectPath)
	if err != nil {
		return err
	}
	if err := p.service.Files.Delete(file.Id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete from Drive: %w", err)
	}
	log.Printf("[DriveProvider] Removed %s", objectPath)
	return nil
}

// List returns artifacts directly inside the prefix folder.
func (p *Drive) List(ctx context.Context, prefix string) ([]Object, error) {
	dir := strings.Trim(prefix, "/")
	parent, err := p.folder(ctx, dir, false)
	if err != nil {
		return nil, err
	}
	if parent == "" {
		return nil, nil
	}

	var objects []Object
	q := fmt.Sprintf("%s in parents and trashed = false and mimeType != %s", driveQuote(parent), driveQuote(driveFolderMime))
	err = p.service.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name, size, modifiedTime)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
				objects = append(objects, Object{Path: path.Join(dir, f.Name), Size: f.Size, ModTime: modified})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list Drive folder: %w", err)
	}
	return objects, nil
}

// Type implements Provider.
func (p *Drive) Type() models.ProviderType {
	return models.ProviderGoogleDrive
}
