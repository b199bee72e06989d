package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
)

// fakeTelnetDevice is a plain-text CLI with a Huawei-style prompt.
type fakeTelnetDevice struct {
	listener net.Listener
	password string
	outputs  map[string]string

	mu       sync.Mutex
	received []string
}

func startFakeTelnet(t *testing.T, password string, outputs map[string]string) *fakeTelnetDevice {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	d := &fakeTelnetDevice{listener: listener, password: password, outputs: outputs}
	go d.serve()
	t.Cleanup(func() { listener.Close() })
	return d
}

func (d *fakeTelnetDevice) port() int {
	return d.listener.Addr().(*net.TCPAddr).Port
}

func (d *fakeTelnetDevice) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.received...)
}

func (d *fakeTelnetDevice) serve() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeTelnetDevice) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	readLine := func() (string, bool) {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", false
		}
		return strings.TrimRight(line, "\r\n"), true
	}

	conn.Write([]byte("Warning: authorized access only\r\nUsername:"))
	if _, ok := readLine(); !ok {
		return
	}
	conn.Write([]byte("Password:"))
	pass, ok := readLine()
	if !ok {
		return
	}
	if pass != d.password {
		conn.Write([]byte("\r\nError: Username or password error.\r\nUsername:"))
		return
	}
	conn.Write([]byte("\r\nInfo: login ok\r\n<NE40-Core>"))

	for {
		cmd, ok := readLine()
		if !ok {
			return
		}
		d.mu.Lock()
		d.received = append(d.received, cmd)
		d.mu.Unlock()

		out, known := d.outputs[cmd]
		if !known {
			out = "Error: Unrecognized command found at '^' position."
		}
		if strings.Contains(out, "<PAGE>") {
			parts := strings.SplitN(out, "<PAGE>", 2)
			conn.Write([]byte(cmd + "\r\n" + parts[0] + "  ---- More ----"))
			if _, err := reader.ReadByte(); err != nil {
				return
			}
			out = parts[1]
			conn.Write([]byte(out + "\r\n<NE40-Core>"))
			continue
		}
		conn.Write([]byte(cmd + "\r\n" + out + "\r\n<NE40-Core>"))
	}
}

func telnetEquipment(port int, password string) *models.Equipment {
	return &models.Equipment{
		ID:         "eq-ne",
		Type:       "Huawei NE40E",
		Host:       "127.0.0.1",
		TelnetPort: port,
		SSH:        models.SSHConfig{Enabled: true, Username: "admin", Password: password},
	}
}

func TestTelnetSessionCapture(t *testing.T) {
	device := startFakeTelnet(t, "secret", map[string]string{
		"screen-length 0 temporary":     "Info: The configuration takes effect on the current user terminal interface only.",
		"display current-configuration": "#\r\n sysname NE40-Core\r\n#\r\n<PAGE>interface GE0/0/1\r\n#\r\nreturn",
	})

	p, ok := profile.Default().Resolve("Huawei NE40E")
	if !ok {
		t.Fatalf("expected profile")
	}
	session, err := NewFactory(Options{DialTimeout: 5 * time.Second}).Open(p, telnetEquipment(device.port(), "secret"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := session.Authenticate(ctx); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	output, err := session.RunStep(ctx, p.Steps[0])
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if !strings.Contains(output, "takes effect") || strings.Contains(output, "screen-length") {
		t.Fatalf("unexpected step output %q", output)
	}

	var buf bytes.Buffer
	transfer, err := session.Download(ctx, p.Steps[1], &buf)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	body := buf.String()
	if !strings.Contains(body, "sysname NE40-Core") || !strings.Contains(body, "interface GE0/0/1") || !strings.HasSuffix(strings.TrimSpace(body), "return") {
		t.Fatalf("unexpected capture %q", body)
	}
	if strings.Contains(body, "More") || strings.Contains(body, "<NE40-Core>") {
		t.Fatalf("pager or prompt leaked into capture %q", body)
	}
	if transfer.Bytes != int64(len(body)) {
		t.Fatalf("transfer size mismatch %+v", transfer)
	}

	cmds := device.commands()
	if len(cmds) != 2 || cmds[1] != "display current-configuration" {
		t.Fatalf("unexpected commands %v", cmds)
	}
}

func TestTelnetSessionRejectsBadPassword(t *testing.T) {
	device := startFakeTelnet(t, "secret", nil)
	p, _ := profile.Default().Resolve("Huawei NE40E")

	session := NewTelnetSession(telnetEquipment(device.port(), "wrong"), p.Prompts, Options{DialTimeout: 5 * time.Second})
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := session.Authenticate(ctx); !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
}

func TestTelnetSessionConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	session := NewTelnetSession(telnetEquipment(port, "x"), nil, Options{DialTimeout: time.Second})
	if err := session.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect to fail on closed port %s", strconv.Itoa(port))
	}
	if err := session.Close(); err != nil {
		t.Fatalf("close should be a no-op: %v", err)
	}
}
