package normalize

import (
	"strings"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

var underscoreRuns = strings.NewReplacer("-", "_", " ", "_", "/", "_", ".", "_")

// token canonicalizes an enum-ish portal value: lowercase with underscores.
func token(value string) string {
	t := strings.ToLower(strings.TrimSpace(value))
	t = underscoreRuns.Replace(t)
	for strings.Contains(t, "__") {
		t = strings.ReplaceAll(t, "__", "_")
	}
	return strings.Trim(t, "_")
}

var statusByToken = map[string]model.ApplicationStatus{
	"lodged":                   model.StatusLodged,
	"registered":               model.StatusRegistered,
	"under_assessment":         model.StatusUnderAssessment,
	"on_exhibition":            model.StatusOnExhibition,
	"additional_info_required": model.StatusInfoRequired,
	"referred":                 model.StatusReferred,
	"determined":               model.StatusDetermined,
	"approved":                 model.StatusApproved,
	"approved_with_conditions": model.StatusApprovedCond,
	"refused":                  model.StatusRefused,
	"withdrawn":                model.StatusWithdrawn,
	"lapsed":                   model.StatusLapsed,
	"appealed":                 model.StatusAppealed,
}

// Status maps a portal status string to the canonical lifecycle status.
// Exact canonical values match first, then common portal phrasings. Anything
// unrecognized is unknown, never an error.
func Status(value string) model.ApplicationStatus {
	t := token(value)
	if t == "" {
		return model.StatusUnknown
	}
	if st, ok := statusByToken[t]; ok {
		return st
	}

	switch {
	case strings.Contains(t, "condition"):
		return model.StatusApprovedCond
	case strings.Contains(t, "approv") || strings.Contains(t, "grant") || strings.Contains(t, "consent"):
		return model.StatusApproved
	case strings.Contains(t, "refus") || strings.Contains(t, "reject"):
		return model.StatusRefused
	case strings.Contains(t, "withdraw"):
		return model.StatusWithdrawn
	case strings.Contains(t, "appeal"):
		return model.StatusAppealed
	case strings.Contains(t, "laps") || strings.Contains(t, "expir"):
		return model.StatusLapsed
	case strings.Contains(t, "exhibit") || strings.Contains(t, "notif") || strings.Contains(t, "advertis"):
		return model.StatusOnExhibition
	case strings.Contains(t, "info") || strings.Contains(t, "request"):
		return model.StatusInfoRequired
	case strings.Contains(t, "refer"):
		return model.StatusReferred
	case strings.Contains(t, "not_determined") || strings.Contains(t, "pending"):
		return model.StatusUnderAssessment
	case strings.Contains(t, "assess") || strings.Contains(t, "review") || strings.Contains(t, "consider") || strings.Contains(t, "progress"):
		return model.StatusUnderAssessment
	case strings.Contains(t, "determin") || strings.Contains(t, "decid") || strings.Contains(t, "final"):
		return model.StatusDetermined
	case strings.Contains(t, "lodg") || strings.Contains(t, "receiv") || strings.Contains(t, "submit"):
		return model.StatusLodged
	case strings.Contains(t, "regist"):
		return model.StatusRegistered
	}
	return model.StatusUnknown
}

// DecisionOf maps a portal determination string to the canonical decision.
// Empty or unrecognized values yield the empty decision.
func DecisionOf(value string) model.Decision {
	t := token(value)
	if t == "" {
		return ""
	}

	switch t {
	case "approved", "granted":
		return model.DecisionApproved
	case "approved_with_conditions", "conditional_approval":
		return model.DecisionApprovedCond
	case "refused", "rejected":
		return model.DecisionRefused
	case "deferred":
		return model.DecisionDeferred
	case "withdrawn":
		return model.DecisionWithdrawn
	case "not_determined", "pending", "undetermined":
		return model.DecisionPending
	}

	switch {
	case strings.Contains(t, "condition"):
		return model.DecisionApprovedCond
	case strings.Contains(t, "approv") || strings.Contains(t, "grant") || strings.Contains(t, "consent"):
		return model.DecisionApproved
	case strings.Contains(t, "refus") || strings.Contains(t, "reject"):
		return model.DecisionRefused
	case strings.Contains(t, "defer"):
		return model.DecisionDeferred
	case strings.Contains(t, "withdraw"):
		return model.DecisionWithdrawn
	}
	return ""
}

// TypeOf maps a portal application-type string to the canonical type. An
// empty input yields the empty type so a caller can fall back to inference
// from the description.
func TypeOf(value string) model.ApplicationType {
	t := token(value)
	if t == "" {
		return ""
	}

	switch t {
	case "da", "development_application":
		return model.TypeDevelopmentApplication
	case "cdc", "complying_development", "complying_development_certificate":
		return model.TypeComplyingDevelopment
	case "cc", "construction_certificate":
		return model.TypeConstructionCert
	case "subdivision":
		return model.TypeSubdivision
	case "mod", "modification", "s96", "s4_55":
		return model.TypeModification
	case "review":
		return model.TypeReview
	}

	switch {
	case strings.Contains(t, "modif"):
		return model.TypeModification
	case strings.Contains(t, "subdiv"):
		return model.TypeSubdivision
	case strings.Contains(t, "comply"):
		return model.TypeComplyingDevelopment
	case strings.Contains(t, "construction"):
		return model.TypeConstructionCert
	case strings.Contains(t, "review"):
		return model.TypeReview
	case strings.Contains(t, "development"):
		return model.TypeDevelopmentApplication
	}
	return model.TypeOther
}
