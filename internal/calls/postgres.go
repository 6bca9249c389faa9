package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists calls in the calls table.
// provider_call_id carries a UNIQUE constraint; upserts rely on it instead of read-then-write.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// Mutable fields keep their stored value when the event does not report them,
// so a late partial event never erases a known duration, recording or transcript.
// Inbound is only ever set from an explicit provider marker, so it replaces
// a stored outbound default but is never downgraded.
// The WHERE clause refuses to move a provider call id across tenants.
const upsertCallSQL = `
INSERT INTO calls (
	id, tenant_id, provider_call_id, direction, from_number, to_number, status,
	duration_seconds, recording_url, transcript, summary, ended_reason, outcome,
	raw_payload, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
ON CONFLICT (provider_call_id) DO UPDATE SET
	status           = EXCLUDED.status,
	direction        = CASE WHEN EXCLUDED.direction = 'inbound' THEN 'inbound' ELSE calls.direction END,
	from_number      = COALESCE(NULLIF(EXCLUDED.from_number, ''), calls.from_number),
	to_number        = COALESCE(NULLIF(EXCLUDED.to_number, ''), calls.to_number),
	duration_seconds = COALESCE(EXCLUDED.duration_seconds, calls.duration_seconds),
	recording_url    = COALESCE(NULLIF(EXCLUDED.recording_url, ''), calls.recording_url),
	transcript       = COALESCE(NULLIF(EXCLUDED.transcript, ''), calls.transcript),
	summary          = COALESCE(NULLIF(EXCLUDED.summary, ''), calls.summary),
	ended_reason     = COALESCE(NULLIF(EXCLUDED.ended_reason, ''), calls.ended_reason),
	outcome          = COALESCE(NULLIF(EXCLUDED.outcome, ''), calls.outcome),
	raw_payload      = EXCLUDED.raw_payload,
	updated_at       = EXCLUDED.updated_at
WHERE calls.tenant_id = EXCLUDED.tenant_id
RETURNING id, tenant_id, provider_call_id, direction, from_number, to_number, status,
	duration_seconds, recording_url, transcript, summary, ended_reason, outcome,
	lead_id, created_at, updated_at, (xmax = 0) AS inserted
`

const selectCallSQL = `
SELECT id, tenant_id, provider_call_id, direction, from_number, to_number, status,
	duration_seconds, recording_url, transcript, summary, ended_reason, outcome,
	lead_id, created_at, updated_at
FROM calls
WHERE tenant_id = $1 AND id = $2
`

func (s *PostgresStore) Upsert(ctx context.Context, in UpsertInput) (Call, bool, error) {
	if err := in.validate(); err != nil {
		return Call{}, false, err
	}

	var duration sql.NullInt64
	if in.DurationSeconds != nil {
		duration = sql.NullInt64{Int64: int64(*in.DurationSeconds), Valid: true}
	}
	raw := string(in.RawPayload)
	if raw == "" {
		raw = "{}"
	}

	row := s.db.QueryRowContext(ctx, upsertCallSQL,
		uuid.NewString(),
		in.TenantID,
		in.ProviderCallID,
		string(in.Direction),
		in.FromNumber,
		in.ToNumber,
		string(in.Status),
		duration,
		in.RecordingURL,
		in.Transcript,
		in.Summary,
		in.EndedReason,
		in.Outcome,
		raw,
		s.clock().UTC(),
	)

	var inserted bool
	c, err := scanCall(row, &inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict matched but the tenant guard rejected the update.
			return Call{}, false, ErrTenantMismatch
		}
		return Call{}, false, fmt.Errorf("upsert call: %w", err)
	}
	c.RawPayload = in.RawPayload
	return c, inserted, nil
}

func (s *PostgresStore) LinkLead(ctx context.Context, tenantID, callID, leadID string) error {
	if tenantID == "" || callID == "" || leadID == "" {
		return ErrInvalidArgument
	}
	const q = `UPDATE calls SET lead_id = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`
	res, err := s.db.ExecContext(ctx, q, tenantID, callID, leadID, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("link lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, callID string) (Call, error) {
	c, err := scanCall(s.db.QueryRowContext(ctx, selectCallSQL, tenantID, callID), nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func scanCall(row *sql.Row, inserted *bool) (Call, error) {
	var (
		c         Call
		direction string
		status    string
		duration  sql.NullInt64
		leadID    sql.NullString
	)
	dest := []any{
		&c.ID,
		&c.TenantID,
		&c.ProviderCallID,
		&direction,
		&c.FromNumber,
		&c.ToNumber,
		&status,
		&duration,
		&c.RecordingURL,
		&c.Transcript,
		&c.Summary,
		&c.EndedReason,
		&c.Outcome,
		&leadID,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return Call{}, err
	}
	c.Direction = Direction(direction)
	c.Status = Status(status)
	c.DurationSeconds = int(duration.Int64)
	c.LeadID = leadID.String
	return c, nil
}
