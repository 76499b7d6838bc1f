package studies

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/screening"
)

var (
	bulletRe  = regexp.MustCompile(`^\s*(?:[-*•·]|\d{1,2}[.)]|[a-zA-Z][.)]|\(\w{1,3}\))\s+`)
	headingRe = regexp.MustCompile(`^[#\s]*(?:\d+(?:\.\d+)*\.?\s+)?(inclusion|exclusion)\s+criteria\b[\s:]*$`)
)

// ExtractCriteria reads the "Inclusion Criteria" and "Exclusion Criteria"
// sections of a plain-text or markdown protocol. Each bullet or numbered line
// starts a criterion; an indented or unmarked line directly below continues it.
// A section ends at a blank line followed by unmarked text. Ids are assigned
// in document order and fields are inferred where the text maps to a rule.
func ExtractCriteria(text string) []models.Criterion {
	var (
		criteria []models.Criterion
		section  models.CriterionType
		current  *models.Criterion
		blank    bool
	)
	flush := func() {
		if current != nil && strings.TrimSpace(current.Text) != "" {
			current.ID = len(criteria) + 1
			criteria = append(criteria, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)

		if m := headingRe.FindStringSubmatch(strings.ToLower(trimmed)); m != nil {
			flush()
			section = models.CriterionType(m[1])
			blank = false
			continue
		}
		if section == "" {
			continue
		}
		if trimmed == "" {
			blank = true
			continue
		}
		if loc := bulletRe.FindStringIndex(line); loc != nil {
			flush()
			current = &models.Criterion{Text: strings.TrimSpace(line[loc[1]:]), Type: section}
			blank = false
			continue
		}
		if current != nil && !blank {
			current.Text += " " + trimmed
			continue
		}
		flush()
		section = ""
	}
	flush()

	inferred, _ := screening.RulesFromCriteria(criteria)
	fields := make(map[int]string, len(inferred.Rules))
	for _, rule := range inferred.Rules {
		fields[rule.CriterionID] = rule.Field
	}
	for i := range criteria {
		criteria[i].Field = fields[criteria[i].ID]
	}
	return criteria
}
