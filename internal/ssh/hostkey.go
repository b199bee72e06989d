package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yourusername/network-backup-manager/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyStore verifies device host keys against a known_hosts file and,
// when trust-on-first-use is enabled, records keys for hosts it has not seen.
// It is shared by all concurrent sessions.
type HostKeyStore struct {
	path            string
	trustOnFirstUse bool

	mu       sync.Mutex
	callback ssh.HostKeyCallback
}

// NewHostKeyStore opens (creating if needed) the known_hosts file at path.
// An empty path disables verification.
func NewHostKeyStore(path string, trustOnFirstUse bool) (*HostKeyStore, error) {
	store := &HostKeyStore{path: strings.TrimSpace(path), trustOnFirstUse: trustOnFirstUse}
	if store.path == "" {
		return store, nil
	}

	if err := ensureKnownHostsFile(store.path); err != nil {
		return nil, err
	}
	if err := store.reload(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewHostKeyCallback builds a TOFU-capable host key callback using a known_hosts file.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	store, err := NewHostKeyStore(knownHostsPath, trustOnFirstUse)
	if err != nil {
		return nil, err
	}
	return store.Callback, nil
}

func (s *HostKeyStore) reload() error {
	callback, err := knownhosts.New(s.path)
	if err != nil {
		return fmt.Errorf("failed to read known_hosts: %w", err)
	}
	s.callback = callback
	return nil
}

// Callback implements ssh.HostKeyCallback.
func (s *HostKeyStore) Callback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.callback(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}

	if len(keyErr.Want) > 0 {
		logging.L().Warn("ssh_host_key_changed",
			"host", hostname,
			"fingerprint", ssh.FingerprintSHA256(key),
		)
		return fmt.Errorf("SSH host key changed for %s", hostname)
	}

	if !s.trustOnFirstUse {
		return fmt.Errorf("unknown SSH host key for %s", hostname)
	}

	if err := appendKnownHost(s.path, hostname, remote, key); err != nil {
		return err
	}
	if err := s.reload(); err != nil {
		return err
	}

	logging.L().Info("ssh_host_key_accepted",
		"host", hostname,
		"fingerprint", ssh.FingerprintSHA256(key),
	)
	return nil
}

// Forget removes every known_hosts line naming host, used after a device is
// replaced and legitimately presents a new key.
func (s *HostKeyStore) Forget(host string, port int) error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read known_hosts: %w", err)
	}

	target := knownhosts.Normalize(fmt.Sprintf("%s:%d", host, port))
	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		match := false
		for _, h := range strings.Split(fields[0], ",") {
			if h == target {
				match = true
				break
			}
		}
		if !match {
			kept = append(kept, line)
		}
	}

	content := strings.Join(kept, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(s.path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write known_hosts: %w", err)
	}
	return s.reload()
}

func ensureKnownHostsFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	line := knownhosts.Line(buildKnownHostsEntries(hostname, remote), key)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

func buildKnownHostsEntries(hostname string, remote net.Addr) []string {
	var entries []string
	if hostname != "" {
		entries = append(entries, knownhosts.Normalize(hostname))
	}

	if remote != nil {
		if addr := knownhosts.Normalize(remote.String()); addr != "" && (len(entries) == 0 || addr != entries[0]) {
			entries = append(entries, addr)
		}
	}

	return entries
}
