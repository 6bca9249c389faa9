package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo stores leads in the leads table.
// UNIQUE (tenant_id, phone) is the find-or-create arbiter; phone is NULL when unknown.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const leadColumns = `id, tenant_id, phone, name, email, address, status, score, score_factors, tags,
	source, notes, last_call_id, last_contact_at, created_at, updated_at`

func (r *PostgresRepo) FindByPhone(ctx context.Context, tenantID, phone string) (Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND phone = $2`
	return r.queryOne(ctx, q, tenantID, phone)
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND id = $2`
	return r.queryOne(ctx, q, tenantID, id)
}

func (r *PostgresRepo) Insert(ctx context.Context, l Lead) (Lead, error) {
	if l.TenantID == "" || !l.Status.Valid() {
		return Lead{}, ErrInvalidArgument
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	factors, err := marshalJSON(l.ScoreFactors, "{}")
	if err != nil {
		return Lead{}, err
	}
	tags, err := marshalJSON(l.Tags, "[]")
	if err != nil {
		return Lead{}, err
	}
	now := r.clock().UTC()

	q := `INSERT INTO leads (
		id, tenant_id, phone, name, email, address, status, score, score_factors, tags,
		source, notes, last_call_id, last_contact_at, created_at, updated_at
	) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14, $15, $15)
	RETURNING ` + leadColumns

	var lastContact sql.NullTime
	if l.LastContactAt != nil {
		lastContact = sql.NullTime{Time: l.LastContactAt.UTC(), Valid: true}
	}
	row := r.db.QueryRowContext(ctx, q,
		l.ID, l.TenantID, l.Phone, l.Name, l.Email, l.Address, string(l.Status), l.Score,
		factors, tags, string(l.Source), l.Notes, l.LastCallID, lastContact, now,
	)
	out, err := scanLead(row)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Lead{}, ErrLeadExists
		}
		return Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) RecordContact(ctx context.Context, tenantID, id string, c Contact) (Lead, error) {
	q := `UPDATE leads SET
		notes = COALESCE(NULLIF($3, ''), notes),
		last_call_id = COALESCE(NULLIF($4, ''), last_call_id),
		last_contact_at = $5,
		updated_at = $6
	WHERE tenant_id = $1 AND id = $2
	RETURNING ` + leadColumns
	return r.queryOne(ctx, q, tenantID, id, c.Notes, c.CallID, c.At.UTC(), r.clock().UTC())
}

func (r *PostgresRepo) SetStatus(ctx context.Context, tenantID, id string, status Status) (bool, error) {
	if !status.Valid() {
		return false, ErrInvalidArgument
	}
	const q = `UPDATE leads SET status = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2 AND status <> $3`
	res, err := r.db.ExecContext(ctx, q, tenantID, id, string(status), r.clock().UTC())
	if err != nil {
		return false, fmt.Errorf("set lead status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, r.mustExist(ctx, tenantID, id)
	}
	return true, nil
}

func (r *PostgresRepo) SetScore(ctx context.Context, tenantID, id string, score int, factors map[string]int) error {
	if score < MinScore || score > MaxScore {
		return ErrInvalidArgument
	}
	raw, err := marshalJSON(factors, "{}")
	if err != nil {
		return err
	}
	const q = `UPDATE leads SET score = $3, score_factors = $4, updated_at = $5 WHERE tenant_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, q, tenantID, id, score, raw, r.clock().UTC())
	if err != nil {
		return fmt.Errorf("set lead score: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepo) AddTag(ctx context.Context, tenantID, id, tag string) error {
	if tag == "" {
		return ErrInvalidArgument
	}
	const q = `UPDATE leads SET tags = tags || jsonb_build_array($3::text), updated_at = $4
	WHERE tenant_id = $1 AND id = $2 AND NOT tags @> jsonb_build_array($3::text)`
	res, err := r.db.ExecContext(ctx, q, tenantID, id, tag, r.clock().UTC())
	if err != nil {
		return fmt.Errorf("add lead tag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.mustExist(ctx, tenantID, id)
	}
	return nil
}

// mustExist distinguishes "no-op update" from "no such lead".
func (r *PostgresRepo) mustExist(ctx context.Context, tenantID, id string) error {
	const q = `SELECT EXISTS (SELECT 1 FROM leads WHERE tenant_id = $1 AND id = $2)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, tenantID, id).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) queryOne(ctx context.Context, q string, args ...any) (Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	return l, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLead(row *sql.Row) (Lead, error) {
	var (
		l           Lead
		phone       sql.NullString
		status      string
		source      string
		factors     []byte
		tags        []byte
		lastCallID  sql.NullString
		lastContact sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.TenantID, &phone, &l.Name, &l.Email, &l.Address, &status, &l.Score,
		&factors, &tags, &source, &l.Notes, &lastCallID, &lastContact, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return Lead{}, err
	}
	l.Phone = phone.String
	l.Status = Status(status)
	l.Source = Source(source)
	l.LastCallID = lastCallID.String
	if lastContact.Valid {
		t := lastContact.Time
		l.LastContactAt = &t
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &l.ScoreFactors); err != nil {
			return Lead{}, fmt.Errorf("decode score factors: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &l.Tags); err != nil {
			return Lead{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return l, nil
}

func marshalJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}
