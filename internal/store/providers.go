package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yourusername/network-backup-manager/internal/models"
)

// CreateProvider inserts p. The config blob is sealed as a whole since every
// back end keeps secrets in it.
func (s *Store) CreateProvider(ctx context.Context, p *models.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	config, err := s.sealConfig(p.Config)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, type, config, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, string(p.Type), config, p.IsActive, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

// UpdateProvider replaces name, config and active flag.
func (s *Store) UpdateProvider(ctx context.Context, p *models.Provider) error {
	config, err := s.sealConfig(p.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE providers SET name = ?, type = ?, config = ?, is_active = ? WHERE id = ?
	`, p.Name, string(p.Type), config, p.IsActive, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	return requireAffected(res, "provider", p.ID)
}

// GetProvider loads one provider with its decrypted config.
func (s *Store) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, type, config, is_active FROM providers WHERE id = ?`, id)
	p, err := s.scanProvider(row)
	if err != nil {
		return nil, notFound(err, "provider", id)
	}
	return p, nil
}

// ListProviders returns all providers.
func (s *Store) ListProviders(ctx context.Context) ([]*models.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type, config, is_active FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var list []*models.Provider
	for rows.Next() {
		p, err := s.scanProvider(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// DeleteProvider removes a provider.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	return requireAffected(res, "provider", id)
}

func (s *Store) sealConfig(config json.RawMessage) (string, error) {
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	if !json.Valid(config) {
		return "", fmt.Errorf("provider config is not valid JSON")
	}
	return s.seal(string(config))
}

func (s *Store) scanProvider(row rowScanner) (*models.Provider, error) {
	var (
		p      models.Provider
		typ    string
		config string
	)
	if err := row.Scan(&p.ID, &p.Name, &typ, &config, &p.IsActive); err != nil {
		return nil, err
	}
	plain, err := s.open(config)
	if err != nil {
		return nil, err
	}
	p.Type = models.ProviderType(typ)
	p.Config = json.RawMessage(plain)
	return &p, nil
}
