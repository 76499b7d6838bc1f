package screening

import (
	"errors"
	"time"

	"github.com/synaptica-ai/recruit/pkg/common/models"
)

var ErrUnknownCriterion = errors.New("criterion not evaluated for patient")

// Outcome is the classification derived from a set of criterion matches.
type Outcome struct {
	Tag             models.Tag              `json:"tag"`
	Status          models.Status           `json:"status"`
	Passed          int                     `json:"passed"`
	Total           int                     `json:"total"`
	CriticalFailure bool                    `json:"critical_failure"`
	Failed          []models.CriterionMatch `json:"failed,omitempty"`
}

// Classify maps matches to a tag and status. Any critical failure is
// Ineligible regardless of how many other criteria passed.
func Classify(matches []models.CriterionMatch, rs RuleSet) Outcome {
	out := Outcome{Total: len(matches)}
	for _, m := range matches {
		if m.Matched {
			out.Passed++
			continue
		}
		out.Failed = append(out.Failed, m)
		if rs.IsCritical(m.CriterionID) {
			out.CriticalFailure = true
		}
	}

	switch {
	case len(out.Failed) == 0:
		out.Tag, out.Status = models.TagMatch, models.StatusPendingReview
	case out.CriticalFailure:
		out.Tag, out.Status = models.TagIneligible, models.StatusFailedScreening
	case float64(out.Passed) >= rs.ratio()*float64(out.Total):
		out.Tag, out.Status = models.TagPotentialMatch, models.StatusPendingReview
	default:
		out.Tag, out.Status = models.TagIneligible, models.StatusFailedScreening
	}
	return out
}

// Apply commits a screening result onto the patient record.
func Apply(p *models.Patient, matches []models.CriterionMatch, out Outcome, at time.Time) {
	p.CriteriaMatches = matches
	p.Tag = out.Tag
	p.Status = out.Status
	screenedAt := at.UTC()
	p.ScreenedAt = &screenedAt
	p.UpdatedAt = screenedAt
}

// Screen evaluates, classifies and applies in one step.
func Screen(p *models.Patient, rs RuleSet) Outcome {
	matches := Evaluate(*p, rs)
	out := Classify(matches, rs)
	Apply(p, matches, out, time.Now())
	return out
}

// Reclassify recomputes tag and status from the matches already on the
// patient, keeping the tag a function of its matches after manual edits.
func Reclassify(p *models.Patient, rs RuleSet) Outcome {
	out := Classify(p.CriteriaMatches, rs)
	p.Tag = out.Tag
	p.Status = out.Status
	p.UpdatedAt = time.Now().UTC()
	return out
}

// OverrideCriterion replaces the outcome of one criterion with evidence from
// a coordinator or a call and reclassifies the patient.
func OverrideCriterion(p *models.Patient, rs RuleSet, criterionID int, matched bool, source models.MatchSource, note string) (Outcome, error) {
	idx := -1
	for i := range p.CriteriaMatches {
		if p.CriteriaMatches[i].CriterionID == criterionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Outcome{}, ErrUnknownCriterion
	}
	m := &p.CriteriaMatches[idx]
	m.Matched = matched
	m.Source = source
	m.Note = note
	if note != "" {
		m.PatientValue = note
	}
	return Reclassify(p, rs), nil
}
