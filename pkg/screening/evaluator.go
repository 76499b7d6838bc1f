package screening

import (
	"fmt"
	"strings"

	"github.com/synaptica-ai/recruit/pkg/common/models"
)

const notRecorded = "Not recorded"

// Evaluate checks every rule against the patient and returns one match per
// rule, in rule order. It never fails: missing data fails inclusion rules and
// an exclusion with no matching condition passes.
func Evaluate(p models.Patient, rs RuleSet) []models.CriterionMatch {
	matches := make([]models.CriterionMatch, 0, len(rs.Rules))
	for _, rule := range rs.Rules {
		matches = append(matches, evaluateRule(p, rule))
	}
	return matches
}

func evaluateRule(p models.Patient, rule Rule) models.CriterionMatch {
	m := models.CriterionMatch{
		CriterionID:   rule.CriterionID,
		CriterionText: rule.Text,
		Type:          rule.Type,
		Source:        models.SourceEHR,
	}

	switch rule.Field {
	case FieldAge:
		if p.Age <= 0 {
			m.PatientValue = notRecorded
			m.Matched = rule.Type == models.CriterionExclusion
			return m
		}
		m.PatientValue = fmt.Sprintf("%d years", p.Age)
		m.Matched = numericOutcome(rule, p.Age)
	case FieldMMSE:
		if p.MMSEScore == nil {
			m.PatientValue = notRecorded
			m.Matched = rule.Type == models.CriterionExclusion
			return m
		}
		m.PatientValue = fmt.Sprintf("MMSE %d", *p.MMSEScore)
		m.Matched = numericOutcome(rule, *p.MMSEScore)
	case FieldConditions:
		hit, found := findCondition(p.Conditions, rule)
		if rule.Type == models.CriterionInclusion {
			m.Matched = found
			if found {
				m.PatientValue = hit
			} else {
				m.PatientValue = "No qualifying diagnosis"
			}
		} else {
			m.Matched = !found
			if found {
				m.PatientValue = hit
			} else {
				m.PatientValue = "None reported"
			}
		}
	default:
		m.PatientValue = "Unsupported field " + rule.Field
		m.Matched = rule.Type == models.CriterionExclusion
	}
	return m
}

// numericOutcome treats an inclusion bound as the acceptable range and an
// exclusion bound as the range that disqualifies.
func numericOutcome(rule Rule, value int) bool {
	inRange := (rule.Min == nil || value >= *rule.Min) && (rule.Max == nil || value <= *rule.Max)
	if rule.Type == models.CriterionExclusion {
		return !inRange
	}
	return inRange
}

func findCondition(conditions []string, rule Rule) (string, bool) {
	for _, c := range conditions {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if containsAny(c, rule.Keywords, rule.Words) {
			return c, true
		}
	}
	return "", false
}
