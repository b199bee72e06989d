package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/yourusername/network-backup-manager/internal/models"
)

const equipmentColumns = `
	id, name, type, host, ssh_enabled, ssh_port, ssh_username, ssh_password, ssh_private_key,
	telnet_port, http_enabled, http_port, http_protocol, http_username, http_password,
	http_ignore_ssl, auto_backup_enabled, auto_backup_schedule, created_at, updated_at`

type sealedCredentials struct {
	sshPassword  string
	sshKey       string
	httpPassword string
}

func (s *Store) sealEquipment(e *models.Equipment) (sealedCredentials, error) {
	var out sealedCredentials
	var err error
	if out.sshPassword, err = s.seal(e.SSH.Password); err != nil {
		return out, err
	}
	if out.sshKey, err = s.seal(e.SSH.PrivateKey); err != nil {
		return out, err
	}
	if out.httpPassword, err = s.seal(e.HTTP.Password); err != nil {
		return out, err
	}
	return out, nil
}

// CreateEquipment inserts e, assigning an ID when empty.
func (s *Store) CreateEquipment(ctx context.Context, e *models.Equipment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := s.timestamp()
	e.CreatedAt, e.UpdatedAt = now, now

	creds, err := s.sealEquipment(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO equipment (`+equipmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Name, e.Type, e.Host,
		e.SSH.Enabled, e.SSHPort(), nullString(e.SSH.Username), nullString(creds.sshPassword), nullString(creds.sshKey),
		e.TelnetPortOrDefault(), e.HTTP.Enabled, e.HTTPPort(), e.HTTPScheme(), nullString(e.HTTP.Username), nullString(creds.httpPassword),
		e.HTTP.IgnoreSSL, e.AutoBackupEnabled, nullString(e.AutoBackupSchedule), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create equipment: %w", err)
	}
	return nil
}

// UpdateEquipment replaces every mutable column of e.
func (s *Store) UpdateEquipment(ctx context.Context, e *models.Equipment) error {
	e.UpdatedAt = s.timestamp()

	creds, err := s.sealEquipment(e)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE equipment SET
			name = ?, type = ?, host = ?,
			ssh_enabled = ?, ssh_port = ?, ssh_username = ?, ssh_password = ?, ssh_private_key = ?,
			telnet_port = ?, http_enabled = ?, http_port = ?, http_protocol = ?, http_username = ?, http_password = ?,
			http_ignore_ssl = ?, auto_backup_enabled = ?, auto_backup_schedule = ?, updated_at = ?
		WHERE id = ?
	`,
		e.Name, e.Type, e.Host,
		e.SSH.Enabled, e.SSHPort(), nullString(e.SSH.Username), nullString(creds.sshPassword), nullString(creds.sshKey),
		e.TelnetPortOrDefault(), e.HTTP.Enabled, e.HTTPPort(), e.HTTPScheme(), nullString(e.HTTP.Username), nullString(creds.httpPassword),
		e.HTTP.IgnoreSSL, e.AutoBackupEnabled, nullString(e.AutoBackupSchedule), e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update equipment: %w", err)
	}
	return requireAffected(res, "equipment", e.ID)
}

// GetEquipment loads one equipment with decrypted credentials.
func (s *Store) GetEquipment(ctx context.Context, id string) (*models.Equipment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+equipmentColumns+` FROM equipment WHERE id = ?`, id)
	e, err := s.scanEquipment(row)
	if err != nil {
		return nil, notFound(err, "equipment", id)
	}
	return e, nil
}

// ListEquipment returns all equipment ordered by name.
func (s *Store) ListEquipment(ctx context.Context) ([]*models.Equipment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+equipmentColumns+` FROM equipment ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}
	defer rows.Close()

	var list []*models.Equipment
	for rows.Next() {
		e, err := s.scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// DeleteEquipment removes the equipment and, through the foreign key, its job.
func (s *Store) DeleteEquipment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM equipment WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete equipment: %w", err)
	}
	return requireAffected(res, "equipment", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEquipment(row rowScanner) (*models.Equipment, error) {
	var (
		e                                         models.Equipment
		sshUser, sshPass, sshKey                  sql.NullString
		httpProtocol, httpUser, httpPass, pattern sql.NullString
	)
	if err := row.Scan(
		&e.ID, &e.Name, &e.Type, &e.Host,
		&e.SSH.Enabled, &e.SSH.Port, &sshUser, &sshPass, &sshKey,
		&e.TelnetPort, &e.HTTP.Enabled, &e.HTTP.Port, &httpProtocol, &httpUser, &httpPass,
		&e.HTTP.IgnoreSSL, &e.AutoBackupEnabled, &pattern, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	e.SSH.Username = sshUser.String
	if e.SSH.Password, err = s.open(sshPass.String); err != nil {
		return nil, err
	}
	if e.SSH.PrivateKey, err = s.open(sshKey.String); err != nil {
		return nil, err
	}
	e.HTTP.Protocol = httpProtocol.String
	e.HTTP.Username = httpUser.String
	if e.HTTP.Password, err = s.open(httpPass.String); err != nil {
		return nil, err
	}
	e.AutoBackupSchedule = pattern.String
	return &e, nil
}
