package workflows

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"voiceagent-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo reads workflows and writes workflow_executions.
// UNIQUE (workflow_id, firing_key) makes each firing execute at most once.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnabledWorkflows(ctx context.Context, tenantID string, trigger Trigger) ([]Workflow, error) {
	const q = `
SELECT id, tenant_id, name, trigger_type, trigger_config, actions, enabled, execution_count, last_executed_at
FROM workflows
WHERE tenant_id = $1 AND trigger_type = $2 AND enabled
ORDER BY id
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		var (
			w        Workflow
			trig     string
			config   []byte
			actions  []byte
			lastExec sql.NullTime
		)
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name, &trig, &config, &actions, &w.Enabled,
			&w.ExecutionCount, &lastExec); err != nil {
			return nil, err
		}
		w.Trigger = Trigger(trig)
		if len(config) > 0 {
			if err := json.Unmarshal(config, &w.Config); err != nil {
				return nil, fmt.Errorf("decode trigger config of workflow %s: %w", w.ID, err)
			}
		}
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &w.Actions); err != nil {
				return nil, fmt.Errorf("decode actions of workflow %s: %w", w.ID, err)
			}
		}
		if lastExec.Valid {
			t := lastExec.Time
			w.LastExecutedAt = &t
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) StartExecution(ctx context.Context, e Execution) (Execution, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	data, err := json.Marshal(e.TriggerData)
	if err != nil {
		return Execution{}, err
	}
	const q = `
INSERT INTO workflow_executions (
	id, workflow_id, tenant_id, trigger_event, firing_key, trigger_data, status, lead_id, call_id, started_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10)
ON CONFLICT (workflow_id, firing_key) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		e.ID, e.WorkflowID, e.TenantID, string(e.Trigger), e.FiringKey, string(data),
		string(e.Status), e.LeadID, e.CallID, e.StartedAt.UTC(),
	)
	if err != nil {
		return Execution{}, fmt.Errorf("insert execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Execution{}, err
	}
	if n == 0 {
		return Execution{}, ErrAlreadyFired
	}
	return e, nil
}

func (r *PostgresRepo) FailExecution(ctx context.Context, id string, steps, failedStep int, msg string, at time.Time) error {
	const q = `
UPDATE workflow_executions
SET status = 'failed', steps_completed = $2, failed_step = $3, error = $4, finished_at = $5
WHERE id = $1 AND status = 'running'
`
	res, err := r.db.ExecContext(ctx, q, id, steps, failedStep, msg, at.UTC())
	if err != nil {
		return fmt.Errorf("fail execution: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepo) CompleteExecution(ctx context.Context, workflowID, id string, steps int, at time.Time) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE workflow_executions
SET status = 'completed', steps_completed = $2, finished_at = $3
WHERE id = $1 AND status = 'running'
`, id, steps, at.UTC())
		if err != nil {
			return fmt.Errorf("complete execution: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
UPDATE workflows
SET execution_count = execution_count + 1, last_executed_at = $2, updated_at = $2
WHERE id = $1
`, workflowID, at.UTC())
		if err != nil {
			return fmt.Errorf("bump execution count: %w", err)
		}
		return requireRow(res)
	})
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
