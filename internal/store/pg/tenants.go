package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"seatgrid.io/internal/tenant"
)

type TenantStore struct {
	db *sql.DB
}

var _ tenant.Store = (*TenantStore)(nil)

func (s *TenantStore) Find(ctx context.Context, id string) (tenant.Tenant, error) {
	return s.tenantRow(ctx, `
		select id, name, subdomain, status, created_at
		from tenants
		where id = $1
	`, id)
}

func (s *TenantStore) FindBySubdomain(ctx context.Context, subdomain string) (tenant.Tenant, error) {
	return s.tenantRow(ctx, `
		select id, name, subdomain, status, created_at
		from tenants
		where subdomain = $1
	`, strings.ToLower(strings.TrimSpace(subdomain)))
}

func (s *TenantStore) tenantRow(ctx context.Context, query string, arg any) (tenant.Tenant, error) {
	if s.db == nil {
		return tenant.Tenant{}, errors.New("database connection unavailable")
	}
	var t tenant.Tenant
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&t.ID, &t.Name, &t.Subdomain, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, err
	}
	return t, nil
}
