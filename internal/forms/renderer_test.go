package forms

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prodforms/formcap-api/internal/models"
)

func workflowTemplate() *models.FormTemplate {
	return &models.FormTemplate{
		ID:              "tpl-1",
		Name:            "Batch record",
		WorkflowEnabled: true,
		Structure: models.FieldList{
			{
				ID:            "operator",
				Type:          models.FieldTypeText,
				Label:         "Operator",
				Required:      true,
				DisplayOrder:  1,
				Section:       "Production",
				WorkflowStage: models.StageOperation,
				AllowedRoles:  []models.UserRole{models.RoleProduction, models.RoleProductionManager},
			},
			{
				ID:            "qc_result",
				Type:          models.FieldTypeSelect,
				Label:         "QC result",
				Required:      true,
				DisplayOrder:  2,
				Section:       "Quality",
				WorkflowStage: models.StageQuality,
				AllowedRoles:  []models.UserRole{models.RoleQualityManager},
				Options: []models.FieldOption{
					{Value: "ok", Label: "Conforme"},
					{Value: "nok", Label: "No conforme"},
				},
			},
		},
	}
}

func legacyTemplate() *models.FormTemplate {
	return &models.FormTemplate{
		ID:   "tpl-legacy",
		Name: "Simple checklist",
		Structure: models.FieldList{
			{ID: "free", Type: models.FieldTypeText, Label: "Notes", DisplayOrder: 1, Section: "General"},
			{ID: "locked", Type: models.FieldTypeText, Label: "Reviewed by", DisplayOrder: 2, Section: "Review"},
		},
		SectionPermissions: models.SectionPermissionList{
			{Section: "Review", Roles: []models.UserRole{models.RoleQualityManager}},
		},
	}
}

func TestWorkflowFieldEditableOnlyInStageForAllowedRole(t *testing.T) {
	tpl := workflowTemplate()
	qcField := tpl.Structure[1]

	// Quality-stage field is read-only for every role that is not
	// quality_manager or the superadmin override, regardless of data.
	for _, role := range []models.UserRole{
		models.RoleProduction, models.RoleProductionManager,
		models.RoleQuality, models.RoleAdmin, models.RoleViewer,
	} {
		require.False(t, Editable(tpl, qcField, role, models.StatusPendingQuality), "role %s", role)
	}
	require.True(t, Editable(tpl, qcField, models.RoleQualityManager, models.StatusPendingQuality))
	require.True(t, Editable(tpl, qcField, models.RoleSuperAdmin, models.StatusPendingQuality))

	// Outside its stage the field closes even for the owning role.
	require.False(t, Editable(tpl, qcField, models.RoleQualityManager, models.StatusInProgress))
	require.False(t, Editable(tpl, qcField, models.RoleQualityManager, models.StatusCompleted))
}

func TestLegacyTemplateSectionPermissions(t *testing.T) {
	tpl := legacyTemplate()

	require.True(t, Editable(tpl, tpl.Structure[0], models.RoleProduction, models.StatusDraft))
	require.False(t, Editable(tpl, tpl.Structure[1], models.RoleProduction, models.StatusDraft))
	require.True(t, Editable(tpl, tpl.Structure[1], models.RoleQualityManager, models.StatusDraft))
	require.False(t, Editable(tpl, tpl.Structure[0], models.RoleViewer, models.StatusDraft))
}

func TestViewOrdersByDisplayOrderAndFlagsEditability(t *testing.T) {
	tpl := workflowTemplate()
	entry := &models.FormEntry{
		Status: models.StatusInProgress,
		Data:   models.EntryData{"operator": "C. Vega", "qc_result": "ok"},
	}

	views := View(tpl, entry, models.RoleProduction)
	require.Len(t, views, 2)
	require.Equal(t, "operator", views[0].Field.ID)
	require.True(t, views[0].Editable)
	require.Equal(t, "C. Vega", views[0].Value)
	require.Equal(t, "qc_result", views[1].Field.ID)
	require.False(t, views[1].Editable)
}

func TestMergeDropsEditsToNonEditableFields(t *testing.T) {
	tpl := workflowTemplate()
	entry := &models.FormEntry{
		Status: models.StatusInProgress,
		Data:   models.EntryData{"operator": "C. Vega", "qc_result": "ok"},
	}

	merged := Merge(tpl, entry, models.RoleProduction, models.EntryData{
		"operator":  "L. Ruiz",
		"qc_result": "nok",    // quality stage, not editable now
		"ghost":     "ignore", // unknown field id
	})

	require.Equal(t, "L. Ruiz", merged["operator"])
	require.Equal(t, "ok", merged["qc_result"])
	require.NotContains(t, merged, "ghost")

	// The stored map is left untouched.
	require.Equal(t, "C. Vega", entry.Data["operator"])
}

func TestMergeSuperAdminOverridesStageGate(t *testing.T) {
	tpl := workflowTemplate()
	entry := &models.FormEntry{
		Status: models.StatusInProgress,
		Data:   models.EntryData{},
	}

	merged := Merge(tpl, entry, models.RoleSuperAdmin, models.EntryData{"qc_result": "nok"})
	require.Equal(t, "nok", merged["qc_result"])
}

func TestValidateRequiredRejectsEmptyEditableFields(t *testing.T) {
	tpl := workflowTemplate()

	err := ValidateRequired(tpl, models.EntryData{"operator": "  "}, models.RoleProduction, models.StatusInProgress)
	require.Error(t, err)

	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	require.Len(t, missing.Fields, 1)
	require.Equal(t, "operator", missing.Fields[0].ID)
	require.Equal(t, "Operator", missing.Fields[0].Label)

	// Same submission with the field filled succeeds.
	err = ValidateRequired(tpl, models.EntryData{"operator": "C. Vega"}, models.RoleProduction, models.StatusInProgress)
	require.NoError(t, err)
}

func TestValidateRequiredIgnoresFieldsOutsideActorPermission(t *testing.T) {
	tpl := workflowTemplate()

	// qc_result is required but not editable by production during operation,
	// so its emptiness does not block production's submission.
	err := ValidateRequired(tpl, models.EntryData{"operator": "C. Vega"}, models.RoleProduction, models.StatusInProgress)
	require.NoError(t, err)

	err = ValidateRequired(tpl, models.EntryData{}, models.RoleQualityManager, models.StatusPendingQuality)
	require.Error(t, err)
}

func TestValidateRequiredFalseCheckboxCounts(t *testing.T) {
	tpl := &models.FormTemplate{
		WorkflowEnabled: false,
		Structure: models.FieldList{
			{ID: "ack", Type: models.FieldTypeCheckbox, Label: "Acknowledged", Required: true},
		},
	}
	err := ValidateRequired(tpl, models.EntryData{"ack": false}, models.RoleProduction, models.StatusDraft)
	require.NoError(t, err)
}
