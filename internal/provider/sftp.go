package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"

	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/ssh"
)

// SFTPConfig is the sftp provider schema.
type SFTPConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Path       string `json:"path,omitempty"`
}

// Validate checks the config.
func (c *SFTPConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Host) == "":
		return fmt.Errorf("host is required")
	case strings.TrimSpace(c.Username) == "":
		return fmt.Errorf("username is required")
	case c.Password == "" && c.PrivateKey == "":
		return fmt.Errorf("no authentication method provided for SFTP")
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// SFTP stores artifacts on a remote SFTP server. The connection is opened on
// first use and re-established after a failure.
type SFTP struct {
	config   SFTPConfig
	hostKeys *ssh.HostKeyStore

	mu         sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewSFTP creates an SFTP provider.
func NewSFTP(config SFTPConfig, hostKeys *ssh.HostKeyStore) *SFTP {
	if config.Port == 0 {
		config.Port = 22
	}
	return &SFTP{config: config, hostKeys: hostKeys}
}

// client returns a live SFTP client, connecting if needed. Callers hold mu.
func (p *SFTP) client(ctx context.Context) (*sftp.Client, error) {
	if p.sftpClient != nil {
		if _, err := p.sftpClient.Getwd(); err == nil {
			return p.sftpClient, nil
		}
		p.closeLocked()
	}

	sshClient := ssh.NewClient(&ssh.ClientConfig{
		Host:       p.config.Host,
		Port:       p.config.Port,
		Username:   p.config.Username,
		Password:   p.config.Password,
		PrivateKey: p.config.PrivateKey,
		Timeout:    30 * time.Second,
		HostKeys:   p.hostKeys,
	})

	log.Printf("[SFTPProvider] Connecting to %s...", sshClient.Address())
	if err := sshClient.Connect(ctx); err != nil {
		return nil, err
	}
	if err := sshClient.Authenticate(ctx); err != nil {
		sshClient.Close()
		return nil, err
	}

	sftpClient, err := sshClient.NewSFTP(
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	p.sshClient = sshClient
	p.sftpClient = sftpClient
	log.Printf("[SFTPProvider] Connected successfully")
	return sftpClient, nil
}

func (p *SFTP) remotePath(objectPath string) (string, string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", "", err
	}
	if p.config.Path == "" {
		return clean, clean, nil
	}
	return path.Join(p.config.Path, clean), clean, nil
}

// Store uploads the artifact through a temp name and renames it over dest.
func (p *SFTP) Store(ctx context.Context, r io.Reader, dest string) (StoreResult, error) {
	remote, clean, err := p.remotePath(dest)
	if err != nil {
		return StoreResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	client, err := p.client(ctx)
	if err != nil {
		return StoreResult{}, err
	}
	if err := client.MkdirAll(path.Dir(remote)); err != nil {
		return StoreResult{}, fmt.Errorf("failed to create remote directory: %w", err)
	}

	tmp := remote + ".part"
	file, err := client.Create(tmp)
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to create remote file: %w", err)
	}

	hr := newHashingReader(r)
	if _, err := io.Copy(file, readerWithContext(ctx, hr)); err != nil {
		file.Close()
		client.Remove(tmp)
		return StoreResult{}, fmt.Errorf("failed to write remote file: %w", err)
	}
	if err := file.Close(); err != nil {
		client.Remove(tmp)
		return StoreResult{}, fmt.Errorf("failed to close remote file: %w", err)
	}
	if err := client.PosixRename(tmp, remote); err != nil {
		// Servers without the posix-rename extension refuse to overwrite.
		client.Remove(remote)
		if err := client.Rename(tmp, remote); err != nil {
			client.Remove(tmp)
			return StoreResult{}, fmt.Errorf("failed to move remote file into place: %w", err)
		}
	}

	log.Printf("[SFTPProvider] Stored %s (%d bytes)", remote, hr.size)
	return hr.result(clean), nil
}

// Fetch downloads an artifact.
func (p *SFTP) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	remote, _, err := p.remotePath(objectPath)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	file, err := client.Open(remote)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(readerWithContext(ctx, file))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote file: %w", err)
	}
	return data, nil
}

// Remove deletes an artifact.
func (p *SFTP) Remove(ctx context.Context, objectPath string) error {
	remote, _, err := p.remotePath(objectPath)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	client, err := p.client(ctx)
	if err != nil {
		return err
	}
	if err := client.Remove(remote); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	log.Printf("[SFTPProvider] Removed %s", remote)
	return nil
}

// List returns artifacts under prefix.
func (p *SFTP) List(ctx context.Context, prefix string) ([]Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	base := p.config.Path
	if base == "" {
		base = "."
	}
	root := base
	if sub := strings.Trim(prefix, "/"); sub != "" {
		root = path.Join(base, sub)
	}

	var objects []Object
	walker := client.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read remote directory: %w", err)
		}
		info := walker.Stat()
		if info.IsDir() || strings.HasSuffix(info.Name(), ".part") {
			continue
		}
		rel := walker.Path()
		if base != "." {
			rel = strings.TrimPrefix(rel, base+"/")
		}
		objects = append(objects, Object{Path: rel, Size: info.Size(), ModTime: info.ModTime()})
	}
	return objects, nil
}

// Type implements Provider.
func (p *SFTP) Type() models.ProviderType {
	return models.ProviderSFTP
}

// Close closes the SFTP and SSH connections
func (p *SFTP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *SFTP) closeLocked() error {
	var err error
	if p.sftpClient != nil {
		p.sftpClient.Close()
		p.sftpClient = nil
	}
	if p.sshClient != nil {
		err = p.sshClient.Close()
		p.sshClient = nil
	}
	return err
}
