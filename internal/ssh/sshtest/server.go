// Package sshtest runs an in-process SSH device for tests. It answers exec
// requests through a handler and serves a directory over SFTP.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Handler answers one exec request with output and an exit status.
type Handler func(command string) (output string, status uint32)

// Server is a fake SSH device listening on 127.0.0.1.
type Server struct {
	Addr string
	// RootDir is the SFTP working directory. Relative paths resolve here.
	RootDir string

	listener net.Listener
	config   *ssh.ServerConfig
	handler  Handler

	accepted atomic.Int64
	active   atomic.Int64

	mu       sync.Mutex
	commands []string
	wg       sync.WaitGroup
}

// NewServer starts a server accepting username/password.
func NewServer(username, password, rootDir string, handler Handler) (*Server, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if conn.User() == username && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", conn.User())
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	if handler == nil {
		handler = func(string) (string, uint32) { return "", 0 }
	}

	s := &Server{
		Addr:     listener.Addr().String(),
		RootDir:  rootDir,
		listener: listener,
		config:   config,
		handler:  handler,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Accepted returns the number of TCP connections accepted so far.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Active returns the number of SSH connections not yet closed.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// Commands returns the exec commands received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Close stops the listener and waits for connection handlers.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	s.active.Add(1)
	defer s.active.Add(-1)

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(channel, requests)
	}
	sconn.Wait()
}

func (s *Server) serveSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			output, status := s.handler(payload.Command)
			channel.Write([]byte(output))
			channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			var opts []sftp.ServerOption
			if s.RootDir != "" {
				opts = append(opts, sftp.WithServerWorkingDirectory(s.RootDir))
			}
			server, err := sftp.NewServer(channel, opts...)
			if err != nil {
				return
			}
			server.Serve()
			server.Close()
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}
