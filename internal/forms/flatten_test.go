package forms

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prodforms/formcap-api/internal/models"
)

func TestDisplayValueCheckbox(t *testing.T) {
	field := models.Field{ID: "ack", Type: models.FieldTypeCheckbox, Label: "Acknowledged"}

	require.Equal(t, "Sí", DisplayValue(field, true, nil))
	require.Equal(t, "No", DisplayValue(field, false, nil))
	require.Equal(t, "", DisplayValue(field, nil, nil))
	// Non-boolean garbage renders empty rather than failing the export.
	require.Equal(t, "", DisplayValue(field, "yes", nil))
}

func TestDisplayValueSelectResolvesOptionLabel(t *testing.T) {
	field := models.Field{
		ID:   "line",
		Type: models.FieldTypeSelect,
		Options: []models.FieldOption{
			{Value: "l1", Label: "Línea 1"},
			{Value: "l2", Label: "Línea 2"},
		},
	}

	require.Equal(t, "Línea 2", DisplayValue(field, "l2", nil))
	// Unknown values fall back to the raw string.
	require.Equal(t, "l9", DisplayValue(field, "l9", nil))
	require.Equal(t, "Línea 1, Línea 2", DisplayValue(field, []interface{}{"l1", "l2"}, nil))
}

func TestDisplayValueDateFormats(t *testing.T) {
	field := models.Field{ID: "made", Type: models.FieldTypeDate}

	require.Equal(t, "15/03/2024", DisplayValue(field, "2024-03-15", nil))
	require.Equal(t, "15/03/2024", DisplayValue(field, "2024-03-15T10:30:00Z", nil))
	require.Equal(t, "15/03/2024", DisplayValue(field, "15/03/2024", nil))
	require.Equal(t, "", DisplayValue(field, "not-a-date", nil))
	require.Equal(t, "", DisplayValue(field, "", nil))
}

func TestDisplayValueNumber(t *testing.T) {
	field := models.Field{ID: "qty", Type: models.FieldTypeNumber}

	require.Equal(t, "42", DisplayValue(field, float64(42), nil))
	require.Equal(t, "3.5", DisplayValue(field, 3.5, nil))
	require.Equal(t, "", DisplayValue(field, map[string]interface{}{}, nil))
}

func TestFlattenGroupsBySectionInDisplayOrder(t *testing.T) {
	tpl := &models.FormTemplate{
		Name: "Batch record",
		Structure: models.FieldList{
			{ID: "qc", Type: models.FieldTypeCheckbox, Label: "QC pass", DisplayOrder: 3, Section: "Quality"},
			{ID: "operator", Type: models.FieldTypeText, Label: "Operator", DisplayOrder: 1, Section: "Production"},
			{ID: "date", Type: models.FieldTypeDate, Label: "Date", DisplayOrder: 2, Section: "Production"},
		},
	}
	entry := &models.FormEntry{
		Status:    models.StatusCompleted,
		LotNumber: "L-204",
		Data: models.EntryData{
			"operator": "C. Vega",
			"date":     "2024-03-15",
			"qc":       true,
		},
	}

	doc := Flatten(tpl, entry, zap.NewNop())

	require.Equal(t, "Batch record", doc.Title)
	require.Equal(t, "Lote L-204 - COMPLETED", doc.Subtitle)

	require.Len(t, doc.Sections, 2)
	require.Equal(t, "Production", doc.Sections[0].Title)
	require.Equal(t, "Quality", doc.Sections[1].Title)

	prod := doc.Sections[0].Items
	require.Len(t, prod, 2)
	require.Equal(t, "Operator", prod[0].Label)
	require.Equal(t, "C. Vega", prod[0].Value)
	require.Equal(t, "15/03/2024", prod[1].Value)

	require.Equal(t, "Sí", doc.Sections[1].Items[0].Value)
}

func TestFlattenTableRows(t *testing.T) {
	tpl := &models.FormTemplate{
		Name: "Weights",
		Structure: models.FieldList{
			{
				ID:      "samples",
				Type:    models.FieldTypeTable,
				Label:   "Samples",
				Section: "Measurements",
				Columns: []models.TableColumn{
					{ID: "sample", Label: "Sample", Type: models.FieldTypeText},
					{ID: "weight", Label: "Weight", Type: models.FieldTypeNumber},
					{ID: "pass", Label: "Pass", Type: models.FieldTypeCheckbox},
				},
			},
		},
	}
	entry := &models.FormEntry{
		Status: models.StatusSigned,
		Data: models.EntryData{
			"samples": []interface{}{
				map[string]interface{}{"sample": "A", "weight": float64(10.2), "pass": true},
				map[string]interface{}{"sample": "B", "weight": float64(9.8), "pass": false},
			},
		},
	}

	doc := Flatten(tpl, entry, zap.NewNop())

	require.Len(t, doc.Sections, 1)
	require.Empty(t, doc.Sections[0].Items)
	require.Len(t, doc.Sections[0].Tables, 1)

	table := doc.Sections[0].Tables[0]
	require.Equal(t, "Samples", table.Label)
	require.Equal(t, []string{"Sample", "Weight", "Pass"}, table.Headers)
	require.Equal(t, [][]string{
		{"A", "10.2", "Sí"},
		{"B", "9.8", "No"},
	}, table.Rows)
}

func TestFlattenMalformedValuesRenderEmpty(t *testing.T) {
	tpl := &models.FormTemplate{
		Name: "Checklist",
		Structure: models.FieldList{
			{ID: "notes", Type: models.FieldTypeText, Label: "Notes", Section: "General"},
		},
	}
	entry := &models.FormEntry{
		Status: models.StatusDraft,
		Data:   models.EntryData{"notes": map[string]interface{}{"nested": true}},
	}

	doc := Flatten(tpl, entry, zap.NewNop())
	require.Equal(t, "", doc.Sections[0].Items[0].Value)
	// No lot number yet, so the subtitle is just the status.
	require.Equal(t, "DRAFT", doc.Subtitle)
}
