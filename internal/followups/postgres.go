package followups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo reads follow_up_rules and writes scheduled_follow_ups.
// Uniqueness: (rule_id, source_call_id) and (rule_id, lead_id, attempt_number).
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const followUpColumns = `id, tenant_id, rule_id, lead_id, source_call_id, scheduled_for, attempt_number,
	status, action_type, result, created_at, updated_at`

func (r *PostgresRepo) EnabledRules(ctx context.Context, tenantID string, trigger TriggerStatus) ([]Rule, error) {
	const q = `
SELECT id, tenant_id, name, trigger_status, action_type, delay_hours, max_attempts,
       business_hours_only, message_template, enabled
FROM follow_up_rules
WHERE tenant_id = $1 AND trigger_status = $2 AND enabled
ORDER BY id
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(row scanner) (Rule, error) {
	var (
		rule    Rule
		trig    string
		action  string
		message sql.NullString
	)
	if err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &trig, &action, &rule.DelayHours,
		&rule.MaxAttempts, &rule.BusinessHoursOnly, &message, &rule.Enabled); err != nil {
		return Rule{}, err
	}
	rule.Trigger = TriggerStatus(trig)
	rule.Action = ActionType(action)
	rule.MessageTemplate = message.String
	return rule, nil
}

func (r *PostgresRepo) GetRule(ctx context.Context, tenantID, id string) (Rule, error) {
	const q = `
SELECT id, tenant_id, name, trigger_status, action_type, delay_hours, max_attempts,
       business_hours_only, message_template, enabled
FROM follow_up_rules
WHERE tenant_id = $1 AND id = $2
`
	rule, err := scanRule(r.db.QueryRowContext(ctx, q, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Rule{}, ErrNotFound
		}
		return Rule{}, err
	}
	return rule, nil
}

func (r *PostgresRepo) CountAttempts(ctx context.Context, tenantID, ruleID, leadID string) (int, error) {
	const q = `SELECT COUNT(*) FROM scheduled_follow_ups WHERE tenant_id = $1 AND rule_id = $2 AND lead_id = $3`
	var n int
	if err := r.db.QueryRowContext(ctx, q, tenantID, ruleID, leadID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, f FollowUp) (FollowUp, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	q := `
INSERT INTO scheduled_follow_ups (` + followUpColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
RETURNING ` + followUpColumns
	row := r.db.QueryRowContext(ctx, q,
		f.ID, f.TenantID, f.RuleID, f.LeadID, f.SourceCallID, f.ScheduledFor.UTC(), f.Attempt,
		string(f.Status), string(f.Action), f.Result, r.clock().UTC(),
	)
	out, err := scanFollowUp(row)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return FollowUp{}, ErrAlreadyScheduled
		}
		return FollowUp{}, fmt.Errorf("insert follow-up: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (FollowUp, error) {
	q := `SELECT ` + followUpColumns + ` FROM scheduled_follow_ups WHERE tenant_id = $1 AND id = $2`
	f, err := scanFollowUp(r.db.QueryRowContext(ctx, q, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FollowUp{}, ErrNotFound
		}
		return FollowUp{}, err
	}
	return f, nil
}

func (r *PostgresRepo) Cancel(ctx context.Context, tenantID, id string) (FollowUp, error) {
	q := `
UPDATE scheduled_follow_ups SET status = 'cancelled', updated_at = $3
WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
RETURNING ` + followUpColumns
	f, err := scanFollowUp(r.db.QueryRowContext(ctx, q, tenantID, id, r.clock().UTC()))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return FollowUp{}, fmt.Errorf("cancel follow-up: %w", err)
	}
	existing, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return FollowUp{}, err
	}
	return existing, ErrNotCancellable
}

func (r *PostgresRepo) CancelPendingForLead(ctx context.Context, tenantID, leadID string) (int, error) {
	const q = `
UPDATE scheduled_follow_ups SET status = 'cancelled', updated_at = $3
WHERE tenant_id = $1 AND lead_id = $2 AND status = 'pending'
`
	res, err := r.db.ExecContext(ctx, q, tenantID, leadID, r.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("cancel pending follow-ups: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepo) Complete(ctx context.Context, tenantID, id, result string) (bool, error) {
	const q = `
UPDATE scheduled_follow_ups SET status = 'completed', result = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
`
	res, err := r.db.ExecContext(ctx, q, tenantID, id, result, r.clock().UTC())
	if err != nil {
		return false, fmt.Errorf("complete follow-up: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) DuePending(ctx context.Context, before time.Time, limit int) ([]FollowUp, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + followUpColumns + `
FROM scheduled_follow_ups
WHERE status = 'pending' AND scheduled_for < $1
ORDER BY scheduled_for
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due follow-ups: %w", err)
	}
	defer rows.Close()

	var out []FollowUp
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFollowUp(row scanner) (FollowUp, error) {
	var (
		f      FollowUp
		status string
		action string
		result sql.NullString
	)
	err := row.Scan(&f.ID, &f.TenantID, &f.RuleID, &f.LeadID, &f.SourceCallID, &f.ScheduledFor, &f.Attempt,
		&status, &action, &result, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return FollowUp{}, err
	}
	f.Status = Status(status)
	f.Action = ActionType(action)
	f.Result = result.String
	return f, nil
}
