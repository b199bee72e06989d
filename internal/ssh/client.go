package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ErrAuthentication is wrapped by Authenticate when the device rejects the
// supplied credentials.
var ErrAuthentication = errors.New("ssh authentication rejected")

// Client is a single-use SSH connection to a network device. Connect and
// Authenticate are split so callers can tell an unreachable host from
// rejected credentials.
type Client struct {
	config *ClientConfig
	conn   net.Conn
	client *ssh.Client
	sftp   *sftp.Client
}

// ClientConfig holds SSH connection configuration
type ClientConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// PrivateKey is PEM content, optionally wrapped in the ENC1 envelope.
	PrivateKey       string
	Timeout          time.Duration
	HostKeys         *HostKeyStore
	LegacyAlgorithms bool
}

// NewClient creates an unconnected client
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Port == 0 {
		config.Port = 22
	}
	return &Client{config: config}
}

// Address returns host:port
func (c *Client) Address() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Connect opens the TCP connection
func (c *Client) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Address())
	if err != nil {
		return fmt.Errorf("failed to dial SSH: %w", err)
	}
	c.conn = conn
	return nil
}

// Authenticate performs the SSH handshake over the connected socket
func (c *Client) Authenticate(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	sshConfig, err := c.clientConfig()
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Now().Add(c.config.Timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(c.conn, c.Address(), sshConfig)
	if err != nil {
		if isAuthFailure(err) {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return fmt.Errorf("ssh handshake failed: %w", err)
	}
	c.conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if strings.TrimSpace(c.config.PrivateKey) != "" {
		signer, err := ParseSigner([]byte(c.config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.config.Password != "" {
		password := c.config.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH credentials configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.config.HostKeys != nil {
		hostKeyCallback = c.config.HostKeys.Callback
	}

	cfg := &ssh.ClientConfig{
		User:            c.config.Username,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.Timeout,
	}

	if c.config.LegacyAlgorithms {
		supported := ssh.SupportedAlgorithms()
		insecure := ssh.InsecureAlgorithms()
		cfg.KeyExchanges = append(supported.KeyExchanges, insecure.KeyExchanges...)
		cfg.Ciphers = append(supported.Ciphers, insecure.Ciphers...)
		cfg.MACs = append(supported.MACs, insecure.MACs...)
		cfg.HostKeyAlgorithms = append(supported.HostKeys, insecure.HostKeys...)
	}

	return cfg, nil
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}

// Close closes the SFTP subsystem and the SSH connection
func (c *Client) Close() error {
	var firstErr error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			firstErr = err
		}
		c.sftp = nil
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.client = nil
		c.conn = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}
	return firstErr
}

// RunCommand executes a command on a fresh exec channel and returns the
// combined output. The channel is closed when ctx ends.
func (c *Client) RunCommand(ctx context.Context, command string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	type result struct {
		output []byte
		err    error
	}
	resultChan := make(chan result, 1)

	go func() {
		output, err := session.CombinedOutput(command)
		resultChan <- result{output, err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(res.err, &exitErr) {
				return string(res.output), fmt.Errorf("command exited with status %d", exitErr.ExitStatus())
			}
			var missing *ssh.ExitMissingError
			if errors.As(res.err, &missing) {
				// Many device shells close the channel without an exit status.
				return string(res.output), nil
			}
			return string(res.output), fmt.Errorf("command failed: %w", res.err)
		}
		return string(res.output), nil
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	}
}

// Download streams remotePath over SFTP into w and returns the number of
// bytes copied along with the size the server reported.
func (c *Client) Download(ctx context.Context, remotePath string, w io.Writer) (int64, int64, error) {
	client, err := c.sftpClient()
	if err != nil {
		return 0, 0, err
	}

	file, err := client.Open(remotePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat remote file %s: %w", remotePath, err)
	}

	stop := context.AfterFunc(ctx, func() { file.Close() })
	defer stop()

	copied, err := io.Copy(w, file)
	if err != nil {
		if ctx.Err() != nil {
			return copied, info.Size(), ctx.Err()
		}
		return copied, info.Size(), fmt.Errorf("failed to read remote file: %w", err)
	}

	return copied, info.Size(), nil
}

// NewSFTP creates a new SFTP client on the authenticated connection
func (c *Client) NewSFTP(opts ...sftp.ClientOption) (*sftp.Client, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return sftp.NewClient(c.client, opts...)
}

func (c *Client) sftpClient() (*sftp.Client, error) {
	if c.sftp != nil {
		return c.sftp, nil
	}
	client, err := c.NewSFTP()
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp: %w", err)
	}
	c.sftp = client
	return client, nil
}
