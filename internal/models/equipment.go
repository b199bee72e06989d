package models

import (
	"strings"
	"time"
)

// Equipment is a managed network device whose configuration is backed up.
type Equipment struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	Host               string     `json:"host"`
	SSH                SSHConfig  `json:"ssh"`
	HTTP               HTTPConfig `json:"http"`
	TelnetPort         int        `json:"telnet_port,omitempty"`
	AutoBackupEnabled  bool       `json:"auto_backup_enabled"`
	AutoBackupSchedule string     `json:"auto_backup_schedule"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SSHConfig holds CLI access settings. Telnet sessions reuse these
// credentials.
type SSHConfig struct {
	Enabled    bool   `json:"enabled"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// HTTPConfig holds web management access settings.
type HTTPConfig struct {
	Enabled   bool   `json:"enabled"`
	Port      int    `json:"port"`
	Protocol  string `json:"protocol"` // "http" or "https"
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	IgnoreSSL bool   `json:"ignore_ssl"`
}

// HasCredentials reports whether a login can be attempted.
func (c SSHConfig) HasCredentials() bool {
	return strings.TrimSpace(c.Username) != "" && (c.Password != "" || strings.TrimSpace(c.PrivateKey) != "")
}

// HasCredentials reports whether a login can be attempted.
func (c HTTPConfig) HasCredentials() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}

// SSHPort returns the configured SSH port or 22.
func (e *Equipment) SSHPort() int {
	if e.SSH.Port > 0 {
		return e.SSH.Port
	}
	return 22
}

// TelnetPortOrDefault returns the configured Telnet port or 23.
func (e *Equipment) TelnetPortOrDefault() int {
	if e.TelnetPort > 0 {
		return e.TelnetPort
	}
	return 23
}

// HTTPScheme returns "https" or "http".
func (e *Equipment) HTTPScheme() string {
	if strings.EqualFold(e.HTTP.Protocol, "https") {
		return "https"
	}
	return "http"
}

// HTTPPort returns the configured HTTP port or the scheme default.
func (e *Equipment) HTTPPort() int {
	if e.HTTP.Port > 0 {
		return e.HTTP.Port
	}
	if e.HTTPScheme() == "https" {
		return 443
	}
	return 80
}
