package transport

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
)

const maxStepBody = 64 * 1024

// HTTPSession talks to a device web interface. Form logins keep their
// session cookies in a per-session jar.
type HTTPSession struct {
	baseURL  *url.URL
	addr     string
	username string
	password string
	login    *profile.HTTPLogin
	opts     Options

	client *http.Client
}

// NewHTTPSession builds an HTTP session from the equipment http block.
func NewHTTPSession(equipment *models.Equipment, login *profile.HTTPLogin, opts Options) (*HTTPSession, error) {
	addr := net.JoinHostPort(equipment.Host, strconv.Itoa(equipment.HTTPPort()))
	base, err := url.Parse(equipment.HTTPScheme() + "://" + addr)
	if err != nil {
		return nil, fmt.Errorf("invalid http address: %w", err)
	}
	if login == nil {
		login = &profile.HTTPLogin{Basic: true}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy:           nil,
		DialContext:     (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: equipment.HTTP.IgnoreSSL},
	}

	return &HTTPSession{
		baseURL:  base,
		addr:     addr,
		username: equipment.HTTP.Username,
		password: equipment.HTTP.Password,
		login:    login,
		opts:     opts,
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
		},
	}, nil
}

// Connect verifies the web port accepts connections.
func (s *HTTPSession) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to reach web interface: %w", err)
	}
	return conn.Close()
}

func (s *HTTPSession) Authenticate(ctx context.Context) error {
	if s.login.Basic {
		resp, err := s.do(ctx, http.MethodGet, "/", "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxStepBody))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
		}
		return nil
	}

	form := url.Values{}
	vars := credentialVars(s.username, s.password)
	for key, value := range s.login.Form {
		form.Set(key, profile.Render(value, vars))
	}

	method := s.login.Method
	if method == "" {
		method = http.MethodPost
	}
	resp, err := s.do(ctx, method, s.login.Path, form.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStepBody))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("login request failed with status %d", resp.StatusCode)
	}
	lower := strings.ToLower(string(body))
	for _, marker := range s.login.FailureMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return fmt.Errorf("%w: %s", ErrAuthRejected, marker)
		}
	}
	return nil
}

func (s *HTTPSession) RunStep(ctx context.Context, step profile.Step) (string, error) {
	if step.Kind != profile.KindRequest {
		return "", fmt.Errorf("http cannot run %s steps", step.Kind)
	}
	stepCtx, cancel := stepContext(ctx, step)
	defer cancel()

	resp, err := s.do(stepCtx, step.Method, step.Path, step.Body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStepBody))
	if resp.StatusCode >= 400 {
		return string(body), fmt.Errorf("request %s returned status %d", step.Path, resp.StatusCode)
	}
	return string(body), nil
}

func (s *HTTPSession) Download(ctx context.Context, step profile.Step, w io.Writer) (Transfer, error) {
	if step.Kind != profile.KindDownload {
		return Transfer{}, fmt.Errorf("http cannot download with %s steps", step.Kind)
	}
	stepCtx, cancel := stepContext(ctx, step)
	defer cancel()

	transfer := Transfer{Expected: -1, Source: step.Path}

	resp, err := s.do(stepCtx, step.Method, step.Path, step.Body)
	if err != nil {
		return transfer, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxStepBody))
		return transfer, fmt.Errorf("download %s returned status %d", step.Path, resp.StatusCode)
	}
	transfer.Expected = resp.ContentLength

	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(w, hash), resp.Body)
	transfer.Bytes = n
	if err != nil {
		return transfer, fmt.Errorf("failed to read download body: %w", err)
	}

	if advertised := resp.Header.Get("Content-MD5"); advertised != "" {
		if base64.StdEncoding.EncodeToString(hash.Sum(nil)) != advertised {
			return transfer, ErrChecksumMismatch
		}
	}
	return transfer, nil
}

func (s *HTTPSession) do(ctx context.Context, method, path, body string) (*http.Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	target := s.baseURL.ResolveReference(&url.URL{Path: path})

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if s.login.Basic {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	return resp, nil
}

func (s *HTTPSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
