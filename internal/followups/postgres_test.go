package followups

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var followUpRowColumns = []string{
	"id", "tenant_id", "rule_id", "lead_id", "source_call_id", "scheduled_for", "attempt_number",
	"status", "action_type", "result", "created_at", "updated_at",
}

func TestPostgresRepo_InsertConflictIsAlreadyScheduled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO scheduled_follow_ups")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "scheduled_follow_ups_rule_id_source_call_id_key"})

	_, err = NewPostgresRepo(db).Insert(context.Background(), FollowUp{
		TenantID: "t1", RuleID: "r1", LeadID: "l1", SourceCallID: "c1", Attempt: 1,
		Status: StatusPending, Action: ActionCall, ScheduledFor: time.Now(),
	})
	assert.ErrorIs(t, err, ErrAlreadyScheduled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CancelNotPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE scheduled_follow_ups SET status = 'cancelled'")).
		WithArgs("t1", "f1", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tenant_id, rule_id")).
		WithArgs("t1", "f1").
		WillReturnRows(sqlmock.NewRows(followUpRowColumns).AddRow(
			"f1", "t1", "r1", "l1", "c1", now, 1, "completed", "call", "dispatched: j1", now, now))

	f, err := NewPostgresRepo(db).Cancel(context.Background(), "t1", "f1")
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.Equal(t, StatusCompleted, f.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CountAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM scheduled_follow_ups")).
		WithArgs("t1", "r1", "l1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := NewPostgresRepo(db).CountAttempts(context.Background(), "t1", "r1", "l1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CompleteOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduled_follow_ups SET status = 'completed'")).
		WithArgs("t1", "f1", "email sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewPostgresRepo(db).Complete(context.Background(), "t1", "f1", "email sent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_EnabledRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM follow_up_rules")).
		WithArgs("t1", "no_answer").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "name", "trigger_status", "action_type", "delay_hours", "max_attempts",
			"business_hours_only", "message_template", "enabled",
		}).AddRow("r1", "t1", "Retry", "no_answer", "call", 2, 3, true, nil, true))

	rules, err := NewPostgresRepo(db).EnabledRules(context.Background(), "t1", TriggerNoAnswer)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, ActionCall, rules[0].Action)
	assert.True(t, rules[0].BusinessHoursOnly)
	assert.Equal(t, 3, rules[0].MaxAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
