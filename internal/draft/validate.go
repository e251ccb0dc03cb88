package draft

import (
	"fmt"
	"strings"

	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
)

// Validation rule names.
const (
	RuleSubjectRequired  = "draft.subject_required"
	RuleModulesRequired  = "draft.modules_required"
	RuleScheduleRequired = "draft.schedule_required"
)

// moduleRule names a per-variant rule, e.g. hero_look.items_required.
func moduleRule(t models.ModuleType, rule string) string {
	return fmt.Sprintf("%s.%s", t, rule)
}

// ValidateDraft returns every content rule d violates, in draft then module order.
func ValidateDraft(d *models.EmailDraft) []sqerr.Violation {
	var out []sqerr.Violation
	if strings.TrimSpace(d.SubjectLine) == "" {
		out = append(out, sqerr.Violation{Rule: RuleSubjectRequired, Message: "subject line is required"})
	}
	if len(d.Modules) == 0 {
		out = append(out, sqerr.Violation{Rule: RuleModulesRequired, Message: "at least one module is required"})
	}
	if d.IsScheduled && d.ScheduledSendAt == nil {
		out = append(out, sqerr.Violation{Rule: RuleScheduleRequired, Message: "scheduled drafts need a send time"})
	}
	for i := range d.Modules {
		out = append(out, validateModule(&d.Modules[i])...)
	}
	return out
}

func validateModule(m *models.EmailModule) []sqerr.Violation {
	var out []sqerr.Violation
	add := func(rule, msg string) {
		out = append(out, sqerr.Violation{Rule: moduleRule(m.Type, rule), ModuleID: m.ModuleID, Message: msg})
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch m.Type {
	case models.ModuleHeroLook, models.ModuleOccasionCapsule:
		if len(m.Items) == 0 {
			add("items_required", "at least one item is required")
		}
	case models.ModuleWardrobeGap, models.ModuleIntentTile:
		if blank(m.Rationale) {
			add("rationale_required", "rationale is required")
		}
	case models.ModuleStyleStory:
		if blank(m.Title) {
			add("title_required", "title is required")
		}
		if blank(m.Rationale) {
			add("rationale_required", "rationale is required")
		}
	case models.ModulePerk:
		if len(m.Actions) == 0 {
			add("actions_required", "at least one action is required")
		}
	}
	return out
}

// checkModule rejects structurally malformed modules before they are stored.
func checkModule(m *models.EmailModule) error {
	if !m.Type.Valid() {
		return sqerr.NewInvalidRequest(fmt.Sprintf("unknown module type %q", m.Type))
	}
	for i, a := range m.Actions {
		if !a.Kind.Valid() {
			return sqerr.NewInvalidRequest(fmt.Sprintf("action %d: unknown kind %q", i, a.Kind))
		}
		if strings.TrimSpace(a.Label) == "" {
			return sqerr.NewInvalidRequest(fmt.Sprintf("action %d: label is required", i))
		}
	}
	for i, it := range m.Items {
		if it.PriceQuoted < 0 {
			return sqerr.NewInvalidRequest(fmt.Sprintf("item %d: price_quoted must not be negative", i))
		}
	}
	return nil
}
