package redact

import (
	"regexp"
	"sort"

	"github.com/synaptica-ai/recruit/pkg/common/models"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Redactor masks personal identifiers in free text before it is stored.
type Redactor struct {
	rules []compiledRule
}

// Report summarises what a redaction pass removed.
type Report struct {
	Redacted bool     `json:"redacted"`
	Count    int      `json:"count"`
	Types    []string `json:"types,omitempty"`
}

func NewRedactor(cfg RulesConfig) (*Redactor, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Redactor{rules: compiled}, nil
}

// Text returns s with every match replaced by its rule's mask.
func (r *Redactor) Text(s string) (string, Report) {
	types := make(map[string]struct{})
	out, count := r.text(s, types)
	return out, newReport(count, types)
}

func (r *Redactor) text(s string, types map[string]struct{}) (string, int) {
	if r == nil {
		return s, 0
	}
	count := 0
	for _, rule := range r.rules {
		matches := rule.re.FindAllStringIndex(s, -1)
		if len(matches) == 0 {
			continue
		}
		count += len(matches)
		types[rule.rule.Type] = struct{}{}
		s = rule.re.ReplaceAllString(s, rule.rule.Mask)
	}
	return s, count
}

// Transcript redacts every line and returns a new slice.
func (r *Redactor) Transcript(lines []models.TranscriptLine) ([]models.TranscriptLine, Report) {
	types := make(map[string]struct{})
	total := 0
	out := make([]models.TranscriptLine, len(lines))
	for i, line := range lines {
		text, n := r.text(line.Text, types)
		total += n
		out[i] = models.TranscriptLine{Speaker: line.Speaker, Text: text}
	}
	return out, newReport(total, types)
}

// Map redacts string values in a nested payload, such as raw provider
// metadata kept in the audit log.
func (r *Redactor) Map(data map[string]interface{}) map[string]interface{} {
	if r == nil || data == nil {
		return data
	}
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		out[key] = r.value(value)
	}
	return out
}

func (r *Redactor) value(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		masked, _ := r.text(v, map[string]struct{}{})
		return masked
	case map[string]interface{}:
		return r.Map(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, nested := range v {
			out[i] = r.value(nested)
		}
		return out
	default:
		return value
	}
}

func newReport(count int, types map[string]struct{}) Report {
	rep := Report{Redacted: count > 0, Count: count}
	for t := range types {
		rep.Types = append(rep.Types, t)
	}
	sort.Strings(rep.Types)
	return rep
}
