package service

import (
	"context"
	"strings"

	"github.com/yourusername/network-backup-manager/internal/backup"
	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/provider"
)

// ListProviders returns the configured storage back ends.
func (o *Orchestrator) ListProviders(ctx context.Context) ([]*models.Provider, error) {
	return o.store.ListProviders(ctx)
}

// SaveProvider validates and stores a provider, creating it when ID is
// empty. The cached client of an updated provider is dropped.
func (o *Orchestrator) SaveProvider(ctx context.Context, p *models.Provider) error {
	if strings.TrimSpace(p.Name) == "" {
		return backuperr.Configuration("service.save_provider", "name is required")
	}
	if p.ID == backup.LocalProviderID {
		return backuperr.Configuration("service.save_provider", "provider id %q is reserved", p.ID)
	}
	if err := provider.Validate(p); err != nil {
		return backuperr.Configuration("service.save_provider", "%v", err)
	}

	if p.ID == "" {
		if err := o.store.CreateProvider(ctx, p); err != nil {
			return err
		}
		o.log.Info("provider_created", "provider_id", p.ID, "type", p.Type)
		return nil
	}

	if err := o.store.UpdateProvider(ctx, p); err != nil {
		return o.translate(err)
	}
	o.forgetProvider(p.ID)
	o.log.Info("provider_updated", "provider_id", p.ID, "type", p.Type, "active", p.IsActive)
	return nil
}

// DeleteProvider removes a provider. Artifacts already stored on it keep
// their records.
func (o *Orchestrator) DeleteProvider(ctx context.Context, id string) error {
	if err := o.store.DeleteProvider(ctx, id); err != nil {
		return o.translate(err)
	}
	o.forgetProvider(id)
	o.log.Info("provider_deleted", "provider_id", id)
	return nil
}

func (o *Orchestrator) forgetProvider(id string) {
	if o.providers != nil {
		o.providers.Forget(id)
	}
}
