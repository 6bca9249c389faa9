package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Directory answers the attribution lookups the resolver depends on.
// found=false with a nil error means "no mapping".
type Directory interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
	TenantByProviderNumberID(ctx context.Context, providerNumberID string) (tenantID string, found bool, err error)
	TenantByPhoneNumber(ctx context.Context, e164 string) (tenantID string, found bool, err error)
	// TenantTimezone returns the tenant's IANA zone, or "" when unset.
	TenantTimezone(ctx context.Context, tenantID string) (string, error)
}

// PostgresDirectory reads tenants, provider_numbers and tenant_phone_numbers.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`
	var ok bool
	if err := d.db.QueryRowContext(ctx, q, tenantID).Scan(&ok); err != nil {
		return false, fmt.Errorf("tenant exists: %w", err)
	}
	return ok, nil
}

func (d *PostgresDirectory) TenantByProviderNumberID(ctx context.Context, providerNumberID string) (string, bool, error) {
	const q = `SELECT tenant_id FROM provider_numbers WHERE provider_number_id = $1`
	return d.lookupOne(ctx, q, providerNumberID)
}

func (d *PostgresDirectory) TenantByPhoneNumber(ctx context.Context, e164 string) (string, bool, error) {
	const q = `SELECT tenant_id FROM tenant_phone_numbers WHERE phone_e164 = $1 AND active`
	return d.lookupOne(ctx, q, e164)
}

func (d *PostgresDirectory) TenantTimezone(ctx context.Context, tenantID string) (string, error) {
	const q = `SELECT timezone FROM tenants WHERE id = $1`
	var tz sql.NullString
	if err := d.db.QueryRowContext(ctx, q, tenantID).Scan(&tz); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return tz.String, nil
}

func (d *PostgresDirectory) lookupOne(ctx context.Context, q, arg string) (string, bool, error) {
	var tenantID string
	if err := d.db.QueryRowContext(ctx, q, arg).Scan(&tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return tenantID, true, nil
}

// MemoryDirectory is an in-memory Directory for tests and local fixtures.
type MemoryDirectory struct {
	mu              sync.RWMutex
	tenants         map[string]string // id -> timezone
	providerNumbers map[string]string
	phoneNumbers    map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		tenants:         map[string]string{},
		providerNumbers: map[string]string{},
		phoneNumbers:    map[string]string{},
	}
}

func (d *MemoryDirectory) AddTenant(id, timezone string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[id] = timezone
}

func (d *MemoryDirectory) MapProviderNumber(providerNumberID, tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providerNumbers[providerNumberID] = tenantID
}

func (d *MemoryDirectory) MapPhoneNumber(e164, tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.phoneNumbers[e164] = tenantID
}

func (d *MemoryDirectory) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.tenants[tenantID]
	return ok, nil
}

func (d *MemoryDirectory) TenantByProviderNumberID(ctx context.Context, id string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.providerNumbers[id]
	return t, ok, nil
}

func (d *MemoryDirectory) TenantByPhoneNumber(ctx context.Context, e164 string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.phoneNumbers[e164]
	return t, ok, nil
}

func (d *MemoryDirectory) TenantTimezone(ctx context.Context, tenantID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tenants[tenantID], nil
}
