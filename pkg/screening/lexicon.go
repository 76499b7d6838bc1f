package screening

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/synaptica-ai/recruit/pkg/common/models"
)

// conditionGroup is a family of diagnoses recognised in free-text conditions.
// triggers are extra phrases that identify the group in protocol text only.
type conditionGroup struct {
	name     string
	keywords []string
	words    []string
	triggers []string
	critical bool
}

var (
	groupCognitive = conditionGroup{
		name:     "cognitive",
		keywords: []string{"cognitive impairment", "alzheimer", "dementia"},
	}
	groupSeizure = conditionGroup{
		name:     "seizure",
		keywords: []string{"seizure", "epilepsy", "epileptic"},
		triggers: []string{"epilep"},
	}
	groupPsychiatric = conditionGroup{
		name:     "psychiatric",
		keywords: []string{"schizophrenia", "schizoaffective", "bipolar", "psychosis", "psychotic", "severe psychiatric"},
		triggers: []string{"psychiatric"},
	}
	groupCancer = conditionGroup{
		name:     "cancer",
		keywords: []string{"cancer", "carcinoma", "malignant", "malignancy", "lymphoma", "leukemia", "melanoma", "metastatic"},
		triggers: []string{"oncolog", "tumor", "tumour"},
		critical: true,
	}
	groupStroke = conditionGroup{
		name:     "stroke",
		keywords: []string{"stroke", "transient ischemic", "cerebrovascular accident"},
		words:    []string{"tia", "cva"},
	}
	groupRenal = conditionGroup{
		name:     "renal",
		keywords: []string{"renal failure", "kidney failure", "renal insufficiency", "end-stage renal", "end-stage kidney"},
		words:    []string{"esrd"},
		triggers: []string{"renal", "kidney"},
	}
	groupHepatic = conditionGroup{
		name:     "hepatic",
		keywords: []string{"hepatic failure", "liver failure", "hepatic insufficiency"},
		triggers: []string{"hepatic", "liver"},
	}
)

// Order matters: the first group whose terms appear in a criterion text wins.
var conditionGroups = []conditionGroup{
	groupCognitive,
	groupSeizure,
	groupPsychiatric,
	groupCancer,
	groupStroke,
	groupRenal,
	groupHepatic,
}

func (g conditionGroup) describes(text string) bool {
	if containsAny(text, g.keywords, g.words) {
		return true
	}
	lower := strings.ToLower(text)
	for _, t := range g.triggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

var (
	ageWordRe = regexp.MustCompile(`\bage[ds]?\b`)
	rangeRe   = regexp.MustCompile(`(\d{1,3})\s*(?:-|–|to|and|through)\s*(\d{1,3})`)
	minRe     = regexp.MustCompile(`(?:≥|>=|at least|minimum of|over|older than)\s*(\d{1,3})`)
	maxRe     = regexp.MustCompile(`(?:≤|<=|at most|maximum of|under|younger than)\s*(\d{1,3})`)
	// "50 years of age or older", "65+"
	minAfterRe = regexp.MustCompile(`(\d{1,3})\s*(?:\+|(?:years?\s*(?:old\s*|of\s+age\s*)?)?(?:or|and)\s+(?:older|above|over|more))`)
	maxAfterRe = regexp.MustCompile(`(\d{1,3})\s*(?:years?\s*(?:old\s*|of\s+age\s*)?)?(?:or|and)\s+(?:younger|below|under|less)`)

	negationRe = regexp.MustCompile(`^(?:(?:patients?|subjects?|participants?)\s+)?(?:with\s+)?(?:no|not|never|without|absence of|absent|free of)\b`)
)

// RulesFromCriteria infers evaluable rules from protocol criteria. Criteria
// that cannot be mapped to a patient field are returned separately so a
// coordinator can review them by hand.
func RulesFromCriteria(criteria []models.Criterion) (RuleSet, []models.Criterion) {
	rs := RuleSet{PotentialMatchRatio: DefaultPotentialMatchRatio}
	var unmapped []models.Criterion
	for _, c := range criteria {
		rule, ok := inferRule(c)
		if !ok {
			unmapped = append(unmapped, c)
			continue
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, unmapped
}

func inferRule(c models.Criterion) (Rule, bool) {
	lower := strings.ToLower(c.Text)
	field := strings.ToLower(strings.TrimSpace(c.Field))

	if field == FieldMMSE || strings.Contains(lower, "mmse") || strings.Contains(lower, "mini-mental") {
		min, max, ok := parseBounds(lower)
		if !ok {
			return Rule{}, false
		}
		return Rule{CriterionID: c.ID, Text: c.Text, Type: c.Type, Field: FieldMMSE, Min: min, Max: max, Critical: true}, true
	}

	if field == FieldAge || ageWordRe.MatchString(lower) {
		min, max, ok := parseBounds(lower)
		if !ok {
			return Rule{}, false
		}
		return Rule{CriterionID: c.ID, Text: c.Text, Type: c.Type, Field: FieldAge, Min: min, Max: max, Critical: true}, true
	}

	for _, g := range conditionGroups {
		if g.describes(c.Text) {
			return groupRule(c.ID, c.Text, conditionType(c.Type, lower), g), true
		}
	}
	return Rule{}, false
}

// conditionType reads a negated inclusion such as "No history of stroke" as
// a stroke exclusion. Exclusions keep their type whatever their wording.
func conditionType(kind models.CriterionType, lower string) models.CriterionType {
	if kind == models.CriterionInclusion && negationRe.MatchString(strings.TrimSpace(lower)) {
		return models.CriterionExclusion
	}
	return kind
}

func parseBounds(text string) (*int, *int, bool) {
	if m := rangeRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if lo > hi {
			lo, hi = hi, lo
		}
		return intPtr(lo), intPtr(hi), true
	}
	min := firstBound(text, minRe, minAfterRe)
	max := firstBound(text, maxRe, maxAfterRe)
	return min, max, min != nil || max != nil
}

func firstBound(text string, patterns ...*regexp.Regexp) *int {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			v, _ := strconv.Atoi(m[1])
			return intPtr(v)
		}
	}
	return nil
}

// containsAny reports whether text contains any keyword as a case-insensitive
// substring or any word as a whole token.
func containsAny(text string, keywords, words []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	if len(words) == 0 {
		return false
	}
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, tok := range tokens {
		for _, w := range words {
			if tok == strings.ToLower(w) {
				return true
			}
		}
	}
	return false
}
