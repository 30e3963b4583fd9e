package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/prodforms/formcap-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEntryRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEntryRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO form_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.FormEntry{
		FormTemplateID: "tpl-1",
		Data:           models.EntryData{"operator": "C. Vega"},
		CreatedBy:      "user-1",
		LastUpdatedBy:  "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), entry))
	require.NotEmpty(t, entry.ID)
	require.Equal(t, models.StatusDraft, entry.Status)

	rows := sqlmock.NewRows([]string{"id", "form_template_id", "data", "status", "lot_number", "created_by", "last_updated_by", "signature", "created_at", "updated_at"}).
		AddRow(entry.ID, "tpl-1", `{"operator":"C. Vega"}`, "DRAFT", "", "user-1", "user-1", nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, form_template_id, data")).
		WithArgs(entry.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, entry.ID, found.ID)
	require.Equal(t, "C. Vega", found.Data["operator"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEntryRepository(db)
	rows := sqlmock.NewRows([]string{"id", "form_template_id", "data", "status", "lot_number", "created_by", "last_updated_by", "signature", "created_at", "updated_at"}).
		AddRow("entry-1", "tpl-1", `{}`, "IN_PROGRESS", "L-204", "user-1", "user-2", nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, form_template_id, data")).
		WithArgs("tpl-1", "IN_PROGRESS").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM form_entries")).
		WithArgs("tpl-1", "IN_PROGRESS").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.EntryFilter{
		TemplateID: "tpl-1",
		Status:     []models.EntryStatus{models.StatusInProgress},
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.Equal(t, "entry-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepositoryUpdateStatusGuardsCurrentStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEntryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_entries SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:        "entry-1",
		From:      models.StatusDraft,
		To:        models.StatusInProgress,
		LotNumber: "L-204",
		UpdatedBy: "user-1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	// A concurrent transition already moved the entry; zero rows means the
	// expected current status no longer matched.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_entries SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:        "entry-1",
		From:      models.StatusDraft,
		To:        models.StatusInProgress,
		UpdatedBy: "user-1",
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEntryRepositoryUpdateStatusStoresSignature(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEntryRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_entries SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:        "entry-1",
		From:      models.StatusCompleted,
		To:        models.StatusSigned,
		UpdatedBy: "user-2",
		Signature: &models.Signature{
			Image:    "data:image/png;base64,abc",
			SignerID: "user-2",
			SignedAt: time.Now().UTC(),
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepositoryUpdateData(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEntryRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_entries SET data =")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateData(context.Background(), "entry-1", models.EntryData{"operator": "L. Ruiz"}, "user-3"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_entries SET data =")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateData(context.Background(), "missing", models.EntryData{}, "user-3")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
