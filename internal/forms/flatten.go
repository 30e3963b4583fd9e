package forms

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prodforms/formcap-api/internal/models"
	"github.com/prodforms/formcap-api/pkg/export"
)

const displayDateLayout = "02/01/2006"

// acceptedDateLayouts covers the formats clients have historically stored.
var acceptedDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	displayDateLayout,
}

// Flatten turns a template+entry pair into a section-grouped document with
// every value resolved to a display string. Malformed values never fail the
// export; they render empty and are logged.
func Flatten(template *models.FormTemplate, entry *models.FormEntry, logger *zap.Logger) export.Document {
	if logger == nil {
		logger = zap.NewNop()
	}

	fields := make([]models.Field, len(template.Structure))
	copy(fields, template.Structure)
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].DisplayOrder < fields[j].DisplayOrder
	})

	doc := export.Document{
		Title:    template.Name,
		Subtitle: subtitle(entry),
	}

	sectionIndex := map[string]int{}
	sectionFor := func(name string) *export.DocumentSection {
		if idx, ok := sectionIndex[name]; ok {
			return &doc.Sections[idx]
		}
		doc.Sections = append(doc.Sections, export.DocumentSection{Title: name})
		sectionIndex[name] = len(doc.Sections) - 1
		return &doc.Sections[len(doc.Sections)-1]
	}

	for _, field := range fields {
		section := sectionFor(field.Section)
		value := entry.Data[field.ID]

		switch field.Type {
		case models.FieldTypeTable, models.FieldTypeAdvancedTable:
			section.Tables = append(section.Tables, flattenTable(field, value, logger))
		default:
			section.Items = append(section.Items, export.DocumentItem{
				Label: field.Label,
				Value: DisplayValue(field, value, logger),
			})
		}
	}

	return doc
}

// DisplayValue resolves a raw stored value to its display string according to
// the field type. Missing and malformed values resolve to "".
func DisplayValue(field models.Field, value interface{}, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	if value == nil {
		return ""
	}

	switch field.Type {
	case models.FieldTypeCheckbox:
		b, ok := value.(bool)
		if !ok {
			warnMalformed(logger, field, value)
			return ""
		}
		if b {
			return "Sí"
		}
		return "No"

	case models.FieldTypeSelect, models.FieldTypeRadio:
		return optionLabel(field, value, logger)

	case models.FieldTypeDate:
		raw, ok := value.(string)
		if !ok {
			warnMalformed(logger, field, value)
			return ""
		}
		return displayDate(raw, field, logger)

	case models.FieldTypeNumber:
		return numberString(value, field, logger)
	}

	return genericString(field, value, logger)
}

func genericString(field models.Field, value interface{}, logger *zap.Logger) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "Sí"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, genericString(field, item, logger))
		}
		return strings.Join(parts, ", ")
	}
	warnMalformed(logger, field, value)
	return ""
}

func optionLabel(field models.Field, value interface{}, logger *zap.Logger) string {
	// Multi-select values arrive as arrays; resolve each element.
	if items, ok := value.([]interface{}); ok {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, optionLabel(field, item, logger))
		}
		return strings.Join(parts, ", ")
	}
	raw, ok := value.(string)
	if !ok {
		warnMalformed(logger, field, value)
		return ""
	}
	for _, opt := range field.Options {
		if opt.Value == raw {
			return opt.Label
		}
	}
	return raw
}

func displayDate(raw string, field models.Field, logger *zap.Logger) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(displayDateLayout)
		}
	}
	warnMalformed(logger, field, raw)
	return ""
}

func numberString(value interface{}, field models.Field, logger *zap.Logger) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	}
	warnMalformed(logger, field, value)
	return ""
}

func flattenTable(field models.Field, value interface{}, logger *zap.Logger) export.DocumentTable {
	table := export.DocumentTable{Label: field.Label}
	for _, col := range field.Columns {
		table.Headers = append(table.Headers, col.Label)
	}

	if value == nil {
		return table
	}
	rows, ok := value.([]interface{})
	if !ok {
		warnMalformed(logger, field, value)
		return table
	}
	for _, rawRow := range rows {
		rowMap, ok := rawRow.(map[string]interface{})
		if !ok {
			warnMalformed(logger, field, rawRow)
			continue
		}
		cells := make([]string, 0, len(field.Columns))
		for _, col := range field.Columns {
			cellField := models.Field{ID: col.ID, Type: col.Type, Label: col.Label}
			if cellField.Type == "" {
				cellField.Type = models.FieldTypeText
			}
			cells = append(cells, DisplayValue(cellField, rowMap[col.ID], logger))
		}
		table.Rows = append(table.Rows, cells)
	}
	return table
}

func subtitle(entry *models.FormEntry) string {
	parts := make([]string, 0, 2)
	if entry.LotNumber != "" {
		parts = append(parts, fmt.Sprintf("Lote %s", entry.LotNumber))
	}
	parts = append(parts, string(entry.Status))
	return strings.Join(parts, " - ")
}

func warnMalformed(logger *zap.Logger, field models.Field, value interface{}) {
	logger.Warn("malformed field value, rendering empty",
		zap.String("field_id", field.ID),
		zap.String("field_type", string(field.Type)),
		zap.Any("value", value),
	)
}
