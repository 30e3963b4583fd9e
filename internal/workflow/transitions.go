// Package workflow implements the status machine for form entries. Transitions
// live in a single edge table keyed by (from, to) with the roles allowed to
// take them; queries and commits both resolve against it so there is exactly
// one source of truth for what each role may do.
package workflow

import (
	"strings"

	"github.com/prodforms/formcap-api/internal/models"
	appErrors "github.com/prodforms/formcap-api/pkg/errors"
)

// Transition is one permitted edge of the status machine.
type Transition struct {
	From  models.EntryStatus
	To    models.EntryStatus
	Roles []models.UserRole
	Label string
	// RequiresLot marks edges that may not commit until the entry carries a
	// lot number.
	RequiresLot bool
}

// Option is one transition currently available to an actor.
type Option struct {
	Status models.EntryStatus `json:"status"`
	Label  string             `json:"label"`
}

// Metadata carries per-transition data collected from the caller.
type Metadata struct {
	LotNumber string
}

var managers = []models.UserRole{models.RoleAdmin, models.RoleSuperAdmin}

func withAdmins(roles ...models.UserRole) []models.UserRole {
	return append(roles, managers...)
}

// transitions is the complete edge table. Pairs absent from it have an empty
// allowed set for every role.
var transitions = []Transition{
	{
		From:        models.StatusDraft,
		To:          models.StatusInProgress,
		Roles:       withAdmins(models.RoleProductionManager),
		Label:       "Start production",
		RequiresLot: true,
	},
	{
		From:  models.StatusInProgress,
		To:    models.StatusPendingQuality,
		Roles: withAdmins(models.RoleProduction, models.RoleProductionManager),
		Label: "Send to quality review",
	},
	{
		From:  models.StatusPendingQuality,
		To:    models.StatusCompleted,
		Roles: withAdmins(models.RoleQualityManager),
		Label: "Complete quality review",
	},
	{
		From:  models.StatusPendingQuality,
		To:    models.StatusInProgress,
		Roles: withAdmins(models.RoleQuality, models.RoleQualityManager),
		Label: "Return for rework",
	},
	{
		From:  models.StatusCompleted,
		To:    models.StatusSigned,
		Roles: withAdmins(models.RoleQualityManager),
		Label: "Sign",
	},
	{
		From:  models.StatusCompleted,
		To:    models.StatusPendingQuality,
		Roles: managers,
		Label: "Reopen quality review",
	},
	{
		From:  models.StatusSigned,
		To:    models.StatusApproved,
		Roles: managers,
		Label: "Approve",
	},
}

// Allowed returns the transitions available to the role from the given status.
func Allowed(role models.UserRole, from models.EntryStatus) []Option {
	options := make([]Option, 0, 2)
	for _, t := range transitions {
		if t.From == from && roleAllowed(t.Roles, role) {
			options = append(options, Option{Status: t.To, Label: t.Label})
		}
	}
	return options
}

// Resolve returns the edge matching the requested transition for the role, or
// a typed rejection. The entry is never mutated here; callers commit only
// after Resolve succeeds.
func Resolve(role models.UserRole, from, to models.EntryStatus, meta Metadata) (*Transition, error) {
	for i := range transitions {
		t := &transitions[i]
		if t.From != from || t.To != to {
			continue
		}
		if !roleAllowed(t.Roles, role) {
			return nil, appErrors.Clone(appErrors.ErrTransition, "transition not permitted")
		}
		if t.RequiresLot && strings.TrimSpace(meta.LotNumber) == "" {
			return nil, appErrors.Clone(appErrors.ErrMissingData, "missing required data: lot number")
		}
		return t, nil
	}
	return nil, appErrors.Clone(appErrors.ErrTransition, "transition not permitted")
}

// Edges exposes a copy of the table, used by tests and documentation handlers.
func Edges() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

func roleAllowed(roles []models.UserRole, role models.UserRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
