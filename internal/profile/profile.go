// Package profile maps free-text equipment types to the protocol and command
// sequence that produce a configuration backup.
package profile

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ConnectionType selects the transport.
type ConnectionType string

const (
	SSH    ConnectionType = "ssh"
	Telnet ConnectionType = "telnet"
	HTTP   ConnectionType = "http"
)

// StepKind describes what a step does with the session.
type StepKind string

const (
	// KindCommand runs a CLI command and checks its output for error markers.
	KindCommand StepKind = "command"
	// KindCapture runs a CLI command whose output is the artifact.
	KindCapture StepKind = "capture"
	// KindDownload retrieves a file (SFTP over SSH, GET over HTTP) as the artifact.
	KindDownload StepKind = "download"
	// KindRequest issues an HTTP request and checks the response status.
	KindRequest StepKind = "request"
)

// Step is one abstract instruction in a backup sequence. Text fields may
// contain {{name}}, {{username}} and {{password}} placeholders.
type Step struct {
	Kind         StepKind      `yaml:"kind" json:"kind"`
	Command      string        `yaml:"command,omitempty" json:"command,omitempty"`
	Method       string        `yaml:"method,omitempty" json:"method,omitempty"`
	Path         string        `yaml:"path,omitempty" json:"path,omitempty"`
	Body         string        `yaml:"body,omitempty" json:"body,omitempty"`
	RemoteFile   string        `yaml:"remote_file,omitempty" json:"remote_file,omitempty"`
	ErrorMarkers []string      `yaml:"error_markers,omitempty" json:"error_markers,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ProducesArtifact reports whether the step yields the backup bytes.
func (s Step) ProducesArtifact() bool {
	return s.Kind == KindCapture || s.Kind == KindDownload
}

// Describe returns a short label used in logs and history.
func (s Step) Describe() string {
	switch {
	case s.Command != "":
		return s.Command
	case s.RemoteFile != "":
		return "download " + s.RemoteFile
	case s.Path != "":
		method := s.Method
		if method == "" {
			method = "GET"
		}
		return method + " " + s.Path
	}
	return string(s.Kind)
}

// FindErrorMarker returns the first marker present in output, matched
// case-insensitively.
func (s Step) FindErrorMarker(output string) (string, bool) {
	lower := strings.ToLower(output)
	for _, marker := range s.ErrorMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return marker, true
		}
	}
	return "", false
}

// HTTPLogin describes how the HTTP transport authenticates.
type HTTPLogin struct {
	// Basic sends credentials as HTTP basic auth on every request.
	Basic bool `yaml:"basic,omitempty" json:"basic,omitempty"`
	// Method and Path locate a form login endpoint; session cookies are kept.
	Method string            `yaml:"method,omitempty" json:"method,omitempty"`
	Path   string            `yaml:"path,omitempty" json:"path,omitempty"`
	Form   map[string]string `yaml:"form,omitempty" json:"form,omitempty"`
	// FailureMarkers in a 200 response body mean the login was refused.
	FailureMarkers []string `yaml:"failure_markers,omitempty" json:"failure_markers,omitempty"`
}

// Prompts tunes prompt detection for Telnet CLIs.
type Prompts struct {
	Username []string `yaml:"username,omitempty" json:"username,omitempty"`
	Password []string `yaml:"password,omitempty" json:"password,omitempty"`
	Shell    []string `yaml:"shell,omitempty" json:"shell,omitempty"`
	Failure  []string `yaml:"failure,omitempty" json:"failure,omitempty"`
}

// Profile is a vendor backup recipe.
type Profile struct {
	Name               string         `yaml:"name" json:"name"`
	Match              []string       `yaml:"match" json:"match"`
	ConnectionType     ConnectionType `yaml:"connection_type" json:"connection_type"`
	Steps              []Step         `yaml:"steps" json:"steps"`
	Cleanup            []Step         `yaml:"cleanup,omitempty" json:"cleanup,omitempty"`
	AcceptedExtensions []string       `yaml:"accepted_extensions" json:"accepted_extensions"`
	Login              *HTTPLogin     `yaml:"login,omitempty" json:"login,omitempty"`
	Prompts            *Prompts       `yaml:"prompts,omitempty" json:"prompts,omitempty"`
}

// Matches reports whether equipmentType contains any match term.
func (p Profile) Matches(equipmentType string) bool {
	target := strings.ToLower(strings.TrimSpace(equipmentType))
	if target == "" {
		return false
	}
	for _, term := range p.Match {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(target, term) {
			return true
		}
	}
	return false
}

// Extension picks the artifact extension. A download whose remote name
// carries an accepted extension keeps it; otherwise the first accepted
// extension is used.
func (p Profile) Extension(remoteName string) string {
	if ext := strings.ToLower(path.Ext(remoteName)); ext != "" {
		for _, accepted := range p.AcceptedExtensions {
			if strings.EqualFold(accepted, ext) {
				return accepted
			}
		}
	}
	if len(p.AcceptedExtensions) > 0 {
		return p.AcceptedExtensions[0]
	}
	return ".txt"
}

// Accepts reports whether fileName has an accepted extension.
func (p Profile) Accepts(fileName string) bool {
	ext := path.Ext(fileName)
	for _, accepted := range p.AcceptedExtensions {
		if strings.EqualFold(accepted, ext) {
			return true
		}
	}
	return false
}

// Validate checks that the profile can be executed by its transport.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Match) == 0 {
		return fmt.Errorf("profile %s: at least one match term is required", p.Name)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("profile %s: at least one step is required", p.Name)
	}
	if len(p.AcceptedExtensions) == 0 {
		return fmt.Errorf("profile %s: accepted_extensions is required", p.Name)
	}
	for _, ext := range p.AcceptedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("profile %s: extension %q must start with a dot", p.Name, ext)
		}
	}

	switch p.ConnectionType {
	case SSH, Telnet, HTTP:
	default:
		return fmt.Errorf("profile %s: unsupported connection type %q", p.Name, p.ConnectionType)
	}

	last := len(p.Steps) - 1
	for i, step := range p.Steps {
		if step.ProducesArtifact() != (i == last) {
			return fmt.Errorf("profile %s: exactly the last step must produce the artifact (step %d)", p.Name, i+1)
		}
		if err := p.validateStep(step); err != nil {
			return fmt.Errorf("profile %s: step %d: %w", p.Name, i+1, err)
		}
	}
	for i, step := range p.Cleanup {
		if step.ProducesArtifact() {
			return fmt.Errorf("profile %s: cleanup step %d must not produce an artifact", p.Name, i+1)
		}
		if err := p.validateStep(step); err != nil {
			return fmt.Errorf("profile %s: cleanup step %d: %w", p.Name, i+1, err)
		}
	}

	if p.ConnectionType == HTTP && p.Login == nil {
		return fmt.Errorf("profile %s: http profiles need a login section", p.Name)
	}
	return nil
}

func (p Profile) validateStep(step Step) error {
	switch p.ConnectionType {
	case SSH, Telnet:
		switch step.Kind {
		case KindCommand, KindCapture:
			if strings.TrimSpace(step.Command) == "" {
				return fmt.Errorf("%s step needs a command", step.Kind)
			}
		case KindDownload:
			if p.ConnectionType == Telnet {
				return fmt.Errorf("telnet sessions cannot download files")
			}
			if strings.TrimSpace(step.RemoteFile) == "" {
				return fmt.Errorf("download step needs remote_file")
			}
		default:
			return fmt.Errorf("%s step is not valid over %s", step.Kind, p.ConnectionType)
		}
	case HTTP:
		switch step.Kind {
		case KindRequest, KindDownload:
			if !strings.HasPrefix(step.Path, "/") {
				return fmt.Errorf("%s step needs an absolute path", step.Kind)
			}
		default:
			return fmt.Errorf("%s step is not valid over http", step.Kind)
		}
	}
	return nil
}

// Render substitutes placeholders in text.
func Render(text string, vars map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// RenderStep returns a copy of step with placeholders substituted.
func RenderStep(step Step, vars map[string]string) Step {
	out := step
	out.Command = Render(step.Command, vars)
	out.Path = Render(step.Path, vars)
	out.Body = Render(step.Body, vars)
	out.RemoteFile = Render(step.RemoteFile, vars)
	return out
}
