package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/network-backup-manager/internal/models"
)

func providerWith(t *testing.T, typ models.ProviderType, cfg any) *models.Provider {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &models.Provider{ID: "p1", Name: "test", Type: typ, Config: raw, IsActive: true}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		typ   models.ProviderType
		cfg   any
		valid bool
	}{
		{"local ok", models.ProviderLocal, LocalConfig{Path: "/var/backups"}, true},
		{"local missing path", models.ProviderLocal, LocalConfig{}, false},
		{"s3 ok", models.ProviderS3, S3Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "s"}, true},
		{"s3 missing keys", models.ProviderS3, S3Config{Bucket: "b", Region: "us-east-1"}, false},
		{"gcs ok", models.ProviderGCS, GCSConfig{Bucket: "b", CredentialsJSON: "{}"}, true},
		{"gcs no credentials", models.ProviderGCS, GCSConfig{Bucket: "b"}, false},
		{"dropbox ok", models.ProviderDropbox, DropboxConfig{AccessToken: "t", Root: "/noc"}, true},
		{"dropbox relative root", models.ProviderDropbox, DropboxConfig{AccessToken: "t", Root: "noc"}, false},
		{"drive oauth", models.ProviderGoogleDrive, DriveConfig{FolderID: "f", ClientID: "c", ClientSecret: "s", RefreshToken: "r"}, true},
		{"drive partial oauth", models.ProviderGoogleDrive, DriveConfig{FolderID: "f", ClientID: "c"}, false},
		{"sftp ok", models.ProviderSFTP, SFTPConfig{Host: "h", Username: "u", Password: "p"}, true},
		{"sftp no auth", models.ProviderSFTP, SFTPConfig{Host: "h", Username: "u"}, false},
		{"unknown", models.ProviderType("tape"), map[string]string{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(providerWith(t, tc.typ, tc.cfg))
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	p := &models.Provider{Type: models.ProviderLocal, Config: json.RawMessage(`{"path":`)}
	assert.Error(t, Validate(p))
}

func TestNewBuildsBackends(t *testing.T) {
	ctx := context.Background()

	local, err := New(ctx, providerWith(t, models.ProviderLocal, LocalConfig{Path: "local"}), Options{BaseDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderLocal, local.Type())

	s3p, err := New(ctx, providerWith(t, models.ProviderS3, S3Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "s"}), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderS3, s3p.Type())

	dbx, err := New(ctx, providerWith(t, models.ProviderDropbox, DropboxConfig{AccessToken: "t"}), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderDropbox, dbx.Type())

	sftpp, err := New(ctx, providerWith(t, models.ProviderSFTP, SFTPConfig{Host: "h", Username: "u", Password: "p"}), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderSFTP, sftpp.Type())

	_, err = New(ctx, providerWith(t, models.ProviderS3, S3Config{}), Options{})
	assert.Error(t, err)
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "eq-1/core_20240102_020000.rsc", ObjectPath("eq-1", "core_20240102_020000.rsc"))
}

func TestCleanPath(t *testing.T) {
	p, err := cleanPath("/a/../b/./c.cfg")
	require.NoError(t, err)
	assert.Equal(t, "b/c.cfg", p)

	_, err = cleanPath("  ")
	assert.Error(t, err)
}

func TestJoinPrefix(t *testing.T) {
	assert.Equal(t, "x", joinPrefix("", "x"))
	assert.Equal(t, "backups/x", joinPrefix("/backups/", "x"))
}

func TestDriveChildQueryEscapes(t *testing.T) {
	q := driveChildQuery("root", "o'neil.cfg", false)
	assert.Equal(t, `name = 'o\'neil.cfg' and 'root' in parents and trashed = false and mimeType != 'application/vnd.google-apps.folder'`, q)
}
