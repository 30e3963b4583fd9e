package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/prodforms/formcap-api/internal/models"
)

func TestTemplateRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTemplateRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO form_templates")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	template := &models.FormTemplate{
		Name:            "Batch record",
		Department:      "Production",
		WorkflowEnabled: true,
		Structure: models.FieldList{
			{ID: "operator", Type: models.FieldTypeText, Label: "Operator"},
		},
		CreatedBy: "admin-1",
	}
	require.NoError(t, repo.Create(context.Background(), template))
	require.NotEmpty(t, template.ID)

	rows := sqlmock.NewRows([]string{"id", "name", "department", "workflow_enabled", "structure", "section_permissions", "created_by", "created_at", "updated_at"}).
		AddRow(template.ID, "Batch record", "Production", true, `[{"id":"operator","type":"text","label":"Operator","display_order":0}]`, `[]`, "admin-1", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, department")).
		WithArgs(template.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), template.ID)
	require.NoError(t, err)
	require.Equal(t, "Batch record", found.Name)
	require.Len(t, found.Structure, 1)
	require.Equal(t, "operator", found.Structure[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTemplateRepository(db)
	rows := sqlmock.NewRows([]string{"id", "name", "department", "workflow_enabled", "structure", "section_permissions", "created_by", "created_at", "updated_at"}).
		AddRow("tpl-1", "Batch record", "Production", true, `[]`, `[]`, "admin-1", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, department")).
		WithArgs("Production", "%batch%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM form_templates")).
		WithArgs("Production", "%batch%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.TemplateFilter{
		Department: "Production",
		Search:     "Batch",
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTemplateRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM form_templates")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepositoryCountEntries(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTemplateRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM form_entries WHERE form_template_id")).
		WithArgs("tpl-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := repo.CountEntries(context.Background(), "tpl-1")
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
