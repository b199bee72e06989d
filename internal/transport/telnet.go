package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/ziutek/telnet"
)

var (
	defaultUsernamePrompts = []string{"Username:", "username:", "Login:", "login:"}
	defaultPasswordPrompts = []string{"Password:", "password:"}
	defaultShellPrompts    = []string{"#", ">", "$"}
	defaultFailureMarkers  = []string{"failed", "incorrect", "invalid", "denied", "error"}
	pagerPrompts           = []string{"---- More ----", "--More--", "--- More ---"}
)

// TelnetSession drives a line-oriented CLI. It reuses the equipment ssh
// credentials.
type TelnetSession struct {
	addr     string
	username string
	password string
	timeout  time.Duration

	usernamePrompts []string
	passwordPrompts []string
	shellPrompts    []string
	failureMarkers  []string

	conn *telnet.Conn
	// prompt is the exact shell prompt learned after login.
	prompt string
}

// NewTelnetSession builds a Telnet session.
func NewTelnetSession(equipment *models.Equipment, prompts *profile.Prompts, opts Options) *TelnetSession {
	s := &TelnetSession{
		addr:            net.JoinHostPort(equipment.Host, strconv.Itoa(equipment.TelnetPortOrDefault())),
		username:        equipment.SSH.Username,
		password:        equipment.SSH.Password,
		timeout:         opts.DialTimeout,
		usernamePrompts: defaultUsernamePrompts,
		passwordPrompts: defaultPasswordPrompts,
		shellPrompts:    defaultShellPrompts,
		failureMarkers:  defaultFailureMarkers,
	}
	if prompts != nil {
		if len(prompts.Username) > 0 {
			s.usernamePrompts = prompts.Username
		}
		if len(prompts.Password) > 0 {
			s.passwordPrompts = prompts.Password
		}
		if len(prompts.Shell) > 0 {
			s.shellPrompts = prompts.Shell
		}
		if len(prompts.Failure) > 0 {
			s.failureMarkers = prompts.Failure
		}
	}
	return s
}

func (s *TelnetSession) Connect(ctx context.Context) error {
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := telnet.DialTimeout("tcp", s.addr, timeout)
	if err != nil {
		return fmt.Errorf("failed to dial telnet: %w", err)
	}
	conn.SetUnixWriteMode(true)
	s.conn = conn
	return nil
}

func (s *TelnetSession) Authenticate(ctx context.Context) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	defer s.watch(ctx)()

	s.setDeadline(ctx)
	if err := s.conn.SkipUntil(s.usernamePrompts...); err != nil {
		return fmt.Errorf("waiting for username prompt: %w", err)
	}
	if _, err := s.conn.Write([]byte(s.username + "\n")); err != nil {
		return fmt.Errorf("failed to send username: %w", err)
	}
	if err := s.conn.SkipUntil(s.passwordPrompts...); err != nil {
		return fmt.Errorf("waiting for password prompt: %w", err)
	}
	if _, err := s.conn.Write([]byte(s.password + "\n")); err != nil {
		return fmt.Errorf("failed to send password: %w", err)
	}

	// A second username prompt or a failure marker means the login bounced.
	delims := make([]string, 0, len(s.shellPrompts)+len(s.failureMarkers)+len(s.usernamePrompts))
	delims = append(delims, s.failureMarkers...)
	delims = append(delims, s.usernamePrompts...)
	delims = append(delims, s.shellPrompts...)

	data, idx, err := s.conn.ReadUntilIndex(delims...)
	if err != nil {
		return fmt.Errorf("waiting for shell prompt: %w", err)
	}
	if idx < len(s.failureMarkers)+len(s.usernamePrompts) {
		return fmt.Errorf("%w: %s", ErrAuthRejected, lastLine(string(data)))
	}

	s.prompt = lastLine(string(data))
	return nil
}

func (s *TelnetSession) RunStep(ctx context.Context, step profile.Step) (string, error) {
	if step.Kind != profile.KindCommand {
		return "", fmt.Errorf("telnet cannot run %s steps", step.Kind)
	}
	stepCtx, cancel := stepContext(ctx, step)
	defer cancel()

	return s.command(stepCtx, step.Command)
}

func (s *TelnetSession) Download(ctx context.Context, step profile.Step, w io.Writer) (Transfer, error) {
	if step.Kind != profile.KindCapture {
		return Transfer{}, fmt.Errorf("telnet cannot download with %s steps", step.Kind)
	}
	stepCtx, cancel := stepContext(ctx, step)
	defer cancel()

	output, err := s.command(stepCtx, step.Command)
	if err != nil {
		return Transfer{Source: step.Command}, err
	}
	n, err := io.WriteString(w, output)
	return Transfer{Bytes: int64(n), Expected: int64(len(output)), Source: step.Command}, err
}

// command sends one line and collects output up to the next prompt,
// answering pager prompts along the way.
func (s *TelnetSession) command(ctx context.Context, command string) (string, error) {
	if s.conn == nil {
		return "", ErrNotConnected
	}
	defer s.watch(ctx)()
	s.setDeadline(ctx)

	if _, err := s.conn.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	prompts := s.shellPrompts
	if s.prompt != "" {
		prompts = []string{s.prompt}
	}
	delims := append(append([]string{}, pagerPrompts...), prompts...)

	var out strings.Builder
	for {
		data, idx, err := s.conn.ReadUntilIndex(delims...)
		if err != nil {
			if ctx.Err() != nil {
				return out.String(), ctx.Err()
			}
			return out.String(), fmt.Errorf("failed to read command output: %w", err)
		}
		if idx < len(pagerPrompts) {
			out.Write(data[:len(data)-len(delims[idx])])
			if _, err := s.conn.Write([]byte(" ")); err != nil {
				return out.String(), fmt.Errorf("failed to page output: %w", err)
			}
			continue
		}
		out.Write(data[:len(data)-len(delims[idx])])
		break
	}

	return cleanOutput(out.String(), command), nil
}

func (s *TelnetSession) setDeadline(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.timeout)
	}
	s.conn.SetReadDeadline(deadline)
}

// watch closes the connection if ctx ends while a read is blocked.
func (s *TelnetSession) watch(ctx context.Context) func() {
	conn := s.conn
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return func() { stop() }
}

func (s *TelnetSession) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// cleanOutput drops the echoed command line and normalizes line endings.
func cleanOutput(output, command string) string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "")
	if idx := strings.Index(output, "\n"); idx >= 0 && strings.Contains(output[:idx], strings.TrimSpace(command)) {
		output = output[idx+1:]
	}
	return output
}

func lastLine(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.TrimRight(text, "\n")
	if idx := strings.LastIndex(text, "\n"); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return strings.TrimSpace(text)
}
