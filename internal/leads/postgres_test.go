package leads

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

var leadRowColumns = []string{
	"id", "tenant_id", "phone", "name", "email", "address", "status", "score", "score_factors", "tags",
	"source", "notes", "last_call_id", "last_contact_at", "created_at", "updated_at",
}

func TestPostgresRepo_InsertUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO leads")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "leads_tenant_id_phone_key"})

	_, err = repo.Insert(context.Background(), Lead{TenantID: "t1", Phone: "+15551234567", Status: StatusNew, Source: SourceInbound})
	assert.ErrorIs(t, err, ErrLeadExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_InsertReturnsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	repo := NewPostgresRepo(db)
	repo.clock = func() time.Time { return now }

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO leads")).
		WithArgs(sqlmock.AnyArg(), "t1", "+15551234567", "", "", "", "new", 50,
			"{}", "[]", "inbound", "", "", sql.NullTime{}, now).
		WillReturnRows(sqlmock.NewRows(leadRowColumns).AddRow(
			"lead-1", "t1", "+15551234567", "", "", "", "new", 50, []byte(`{}`), []byte(`[]`),
			"inbound", "", nil, nil, now, now))

	l, err := repo.Insert(context.Background(), Lead{TenantID: "t1", Phone: "+15551234567", Status: StatusNew, Score: BaseScore, Source: SourceInbound})
	require.NoError(t, err)
	assert.Equal(t, "lead-1", l.ID)
	assert.Nil(t, l.LastContactAt)
	assert.Empty(t, l.Tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindByPhoneNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM leads WHERE tenant_id = $1 AND phone = $2")).
		WithArgs("t1", "+15551234567").
		WillReturnRows(sqlmock.NewRows(leadRowColumns))

	_, err = repo.FindByPhone(context.Background(), "t1", "+15551234567")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepo_SetStatusUnchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE leads SET status = $3")).
		WithArgs("t1", "lead-1", "booked", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("t1", "lead-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	changed, err := repo.SetStatus(context.Background(), "t1", "lead-1", StatusBooked)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_AddTagMissingLead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE leads SET tags")).
		WithArgs("t1", "missing", "vip", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = repo.AddTag(context.Background(), "t1", "missing", "vip")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepo_SetScoreStoresFactors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE leads SET score")).
		WithArgs("t1", "lead-1", 60, `{"base":50,"connected":10}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.SetScore(context.Background(), "t1", "lead-1", 60, map[string]int{"base": 50, "connected": 10})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.SetScore(context.Background(), "t1", "lead-1", 101, nil), ErrInvalidArgument)
}
