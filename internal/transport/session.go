// Package transport implements the remote session capability set over SSH,
// Telnet and HTTP. Sessions are single-use and know nothing about vendors;
// everything device-specific arrives through profile steps.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/ssh"
)

var (
	// ErrAuthRejected marks credentials refused by the device.
	ErrAuthRejected = errors.New("credentials rejected by device")
	// ErrChecksumMismatch marks a download whose bytes disagree with the
	// checksum the device advertised.
	ErrChecksumMismatch = errors.New("downloaded bytes do not match advertised checksum")
	// ErrNotConnected is returned when a method runs before Connect.
	ErrNotConnected = errors.New("session not connected")
)

// Transfer describes a completed download.
type Transfer struct {
	// Bytes is the number of bytes written to the destination.
	Bytes int64
	// Expected is the size announced by the remote side, or -1 if unknown.
	Expected int64
	// Source is the remote file, command or URL path the bytes came from.
	Source string
}

// Session is one remote connection to a device.
type Session interface {
	// Connect opens the network connection.
	Connect(ctx context.Context) error
	// Authenticate logs in. Rejected credentials wrap ErrAuthRejected.
	Authenticate(ctx context.Context) error
	// RunStep executes a command or request step and returns its output.
	RunStep(ctx context.Context, step profile.Step) (string, error)
	// Download executes an artifact-producing step, streaming bytes to w.
	Download(ctx context.Context, step profile.Step, w io.Writer) (Transfer, error)
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Opener creates unconnected sessions.
type Opener interface {
	Open(p profile.Profile, equipment *models.Equipment) (Session, error)
}

// Options configures the sessions built by Factory.
type Options struct {
	DialTimeout      time.Duration
	HostKeys         *ssh.HostKeyStore
	LegacyAlgorithms bool
}

// Factory selects the transport once from the profile connection type.
type Factory struct {
	opts Options
}

// NewFactory creates a Factory.
func NewFactory(opts Options) *Factory {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	return &Factory{opts: opts}
}

// Open implements Opener.
func (f *Factory) Open(p profile.Profile, equipment *models.Equipment) (Session, error) {
	switch p.ConnectionType {
	case profile.SSH:
		return NewSSHSession(equipment, f.opts), nil
	case profile.Telnet:
		return NewTelnetSession(equipment, p.Prompts, f.opts), nil
	case profile.HTTP:
		return NewHTTPSession(equipment, p.Login, f.opts)
	default:
		return nil, fmt.Errorf("unsupported connection type %q", p.ConnectionType)
	}
}

// CheckAccess verifies the equipment has the resolved protocol enabled and
// credentials for it. Telnet uses the ssh block.
func CheckAccess(conn profile.ConnectionType, equipment *models.Equipment) error {
	switch conn {
	case profile.SSH, profile.Telnet:
		if !equipment.SSH.Enabled {
			return backuperr.Configuration("transport.access", "%s access is disabled for this equipment", conn)
		}
		if !equipment.SSH.HasCredentials() {
			return backuperr.Configuration("transport.access", "%s credentials are missing", conn)
		}
		if conn == profile.Telnet && equipment.SSH.Password == "" {
			return backuperr.Configuration("transport.access", "telnet requires a password")
		}
	case profile.HTTP:
		if !equipment.HTTP.Enabled {
			return backuperr.Configuration("transport.access", "http access is disabled for this equipment")
		}
		if !equipment.HTTP.HasCredentials() {
			return backuperr.Configuration("transport.access", "http credentials are missing")
		}
	default:
		return backuperr.Configuration("transport.access", "unsupported connection type %q", conn)
	}
	return nil
}

// stepContext bounds ctx by the step timeout when one is set.
func stepContext(ctx context.Context, step profile.Step) (context.Context, context.CancelFunc) {
	if step.Timeout > 0 {
		return context.WithTimeout(ctx, step.Timeout)
	}
	return context.WithCancel(ctx)
}

// credentialVars are the placeholders available to login forms.
func credentialVars(username, password string) map[string]string {
	return map[string]string{"username": username, "password": password}
}
