package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/ssh"
)

// SSHSession runs CLI commands on exec channels and downloads files over SFTP.
type SSHSession struct {
	client *ssh.Client
}

// NewSSHSession builds an SSH session from the equipment ssh block.
func NewSSHSession(equipment *models.Equipment, opts Options) *SSHSession {
	return &SSHSession{
		client: ssh.NewClient(&ssh.ClientConfig{
			Host:             equipment.Host,
			Port:             equipment.SSHPort(),
			Username:         equipment.SSH.Username,
			Password:         equipment.SSH.Password,
			PrivateKey:       equipment.SSH.PrivateKey,
			Timeout:          opts.DialTimeout,
			HostKeys:         opts.HostKeys,
			LegacyAlgorithms: opts.LegacyAlgorithms,
		}),
	}
}

func (s *SSHSession) Connect(ctx context.Context) error {
	return s.client.Connect(ctx)
}

func (s *SSHSession) Authenticate(ctx context.Context) error {
	if err := s.client.Authenticate(ctx); err != nil {
		if errors.Is(err, ssh.ErrAuthentication) {
			return fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		return err
	}
	return nil
}

func (s *SSHSession) RunStep(ctx context.Context, step profile.Step) (string, error) {
	if step.Kind != profile.KindCommand {
		return "", fmt.Errorf("ssh cannot run %s steps", step.Kind)
	}
	stepCtx, cancel := stepContext(ctx, step)
	defer cancel()

	return s.client.RunCommand(stepCtx, step.Command)
}

func (s *SSHSession) Download(ctx context.Context, step profile.Step, w io.Writer) (Transfer, error) {
	stepCtx, cancel := stepContext(ctx, step)
	defer cancel()

	switch step.Kind {
	case profile.KindCapture:
		output, err := s.client.RunCommand(stepCtx, step.Command)
		if err != nil {
			return Transfer{Source: step.Command}, err
		}
		n, err := io.WriteString(w, output)
		return Transfer{Bytes: int64(n), Expected: int64(len(output)), Source: step.Command}, err
	case profile.KindDownload:
		remote := strings.TrimSpace(step.RemoteFile)
		copied, size, err := s.client.Download(stepCtx, remote, w)
		return Transfer{Bytes: copied, Expected: size, Source: remote}, err
	default:
		return Transfer{}, fmt.Errorf("ssh cannot download with %s steps", step.Kind)
	}
}

func (s *SSHSession) Close() error {
	return s.client.Close()
}
