package screening

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/synaptica-ai/recruit/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// Fields a rule can inspect on a patient.
const (
	FieldAge        = "age"
	FieldMMSE       = "mmse_score"
	FieldConditions = "conditions"
)

const DefaultPotentialMatchRatio = 0.75

// Rule is the machine-evaluable form of one criterion. Numeric fields use the
// inclusive Min/Max bounds; the conditions field matches Keywords as
// case-insensitive substrings and Words as whole tokens.
type Rule struct {
	CriterionID int                  `yaml:"id" json:"id"`
	Text        string               `yaml:"text" json:"text"`
	Type        models.CriterionType `yaml:"type" json:"type"`
	Field       string               `yaml:"field" json:"field"`
	Min         *int                 `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *int                 `yaml:"max,omitempty" json:"max,omitempty"`
	Keywords    []string             `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Words       []string             `yaml:"words,omitempty" json:"words,omitempty"`
	Critical    bool                 `yaml:"critical" json:"critical"`
}

func (r Rule) Criterion() models.Criterion {
	return models.Criterion{ID: r.CriterionID, Text: r.Text, Type: r.Type, Field: r.Field}
}

type RuleSet struct {
	Rules               []Rule  `yaml:"rules" json:"rules"`
	PotentialMatchRatio float64 `yaml:"potential_match_ratio" json:"potential_match_ratio"`
}

func (rs RuleSet) Criteria() []models.Criterion {
	out := make([]models.Criterion, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		out = append(out, r.Criterion())
	}
	return out
}

func (rs RuleSet) IsCritical(criterionID int) bool {
	for _, r := range rs.Rules {
		if r.CriterionID == criterionID {
			return r.Critical
		}
	}
	return false
}

func (rs RuleSet) ratio() float64 {
	if rs.PotentialMatchRatio <= 0 || rs.PotentialMatchRatio > 1 {
		return DefaultPotentialMatchRatio
	}
	return rs.PotentialMatchRatio
}

// WithRatio returns a copy using the given potential-match ratio.
func (rs RuleSet) WithRatio(ratio float64) RuleSet {
	rs.PotentialMatchRatio = ratio
	return rs
}

func (rs RuleSet) Validate() error {
	if len(rs.Rules) == 0 {
		return errors.New("rule set has no rules")
	}
	seen := make(map[int]struct{}, len(rs.Rules))
	for _, r := range rs.Rules {
		if r.CriterionID <= 0 {
			return fmt.Errorf("rule %q: id must be positive", r.Text)
		}
		if _, dup := seen[r.CriterionID]; dup {
			return fmt.Errorf("rule %d: duplicate id", r.CriterionID)
		}
		seen[r.CriterionID] = struct{}{}
		if r.Type != models.CriterionInclusion && r.Type != models.CriterionExclusion {
			return fmt.Errorf("rule %d: unknown type %q", r.CriterionID, r.Type)
		}
		switch r.Field {
		case FieldAge, FieldMMSE:
			if r.Min == nil && r.Max == nil {
				return fmt.Errorf("rule %d: numeric field %s needs min or max", r.CriterionID, r.Field)
			}
		case FieldConditions:
			if len(r.Keywords) == 0 && len(r.Words) == 0 {
				return fmt.Errorf("rule %d: conditions rule needs keywords", r.CriterionID)
			}
		default:
			return fmt.Errorf("rule %d: unsupported field %q", r.CriterionID, r.Field)
		}
	}
	return nil
}

// LoadRules reads a YAML rule set. An empty path yields the default rules.
func LoadRules(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return RuleSet{}, err
	}

	var rs RuleSet
	if err := yaml.Unmarshal(content, &rs); err != nil {
		return RuleSet{}, err
	}
	for i := range rs.Rules {
		rs.Rules[i].Type = models.CriterionType(strings.ToLower(string(rs.Rules[i].Type)))
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// DefaultCriteria is the criteria list of the default memory-clinic study.
func DefaultCriteria() []models.Criterion {
	return DefaultRules().Criteria()
}

func DefaultRules() RuleSet {
	return RuleSet{
		PotentialMatchRatio: DefaultPotentialMatchRatio,
		Rules: []Rule{
			{CriterionID: 1, Text: "Age between 50 and 85 years", Type: models.CriterionInclusion, Field: FieldAge, Min: intPtr(50), Max: intPtr(85), Critical: true},
			{CriterionID: 2, Text: "MMSE score between 18 and 26", Type: models.CriterionInclusion, Field: FieldMMSE, Min: intPtr(18), Max: intPtr(26), Critical: true},
			groupRule(3, "Diagnosis of mild cognitive impairment, Alzheimer's disease or dementia", models.CriterionInclusion, groupCognitive),
			groupRule(4, "History of seizure disorder or epilepsy", models.CriterionExclusion, groupSeizure),
			groupRule(5, "Severe psychiatric disorder such as schizophrenia, bipolar disorder or psychosis", models.CriterionExclusion, groupPsychiatric),
			groupRule(6, "Active cancer or malignancy within the past 5 years", models.CriterionExclusion, groupCancer),
			groupRule(7, "History of stroke or transient ischemic attack (TIA)", models.CriterionExclusion, groupStroke),
			groupRule(8, "Renal failure or end-stage kidney disease", models.CriterionExclusion, groupRenal),
			groupRule(9, "Hepatic failure or severe liver disease", models.CriterionExclusion, groupHepatic),
		},
	}
}

func groupRule(id int, text string, kind models.CriterionType, g conditionGroup) Rule {
	return Rule{
		CriterionID: id,
		Text:        text,
		Type:        kind,
		Field:       FieldConditions,
		Keywords:    append([]string(nil), g.keywords...),
		Words:       append([]string(nil), g.words...),
		Critical:    g.critical,
	}
}

func intPtr(v int) *int {
	return &v
}
