package analytics

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

const topFailedLimit = 5

// Summarize aggregates the recruitment funnel of one study from its patients.
//
// MatchRate is the share of screened patients tagged Match or Eligible.
// CallToVisitRate is the share of patients who reached the call stage and
// went on to an on-site visit or enrollment.
func Summarize(studyID uuid.UUID, patients []models.Patient) models.FunnelSummary {
	summary := models.FunnelSummary{
		StudyID:     studyID,
		Total:       len(patients),
		ByTag:       make(map[models.Tag]int, len(models.AllTags())),
		ByStatus:    make(map[models.Status]int, len(models.AllStatuses())),
		GeneratedAt: time.Now().UTC(),
	}
	for _, tag := range models.AllTags() {
		summary.ByTag[tag] = 0
	}
	for _, status := range models.AllStatuses() {
		summary.ByStatus[status] = 0
	}

	failed := make(map[int]*models.CriterionCount)
	matched, called, visited := 0, 0, 0
	for _, p := range patients {
		summary.ByTag[p.Tag]++
		summary.ByStatus[p.Status]++
		if p.ScreenedAt != nil {
			summary.Screened++
			if p.Tag == models.TagMatch || p.Tag == models.TagEligible {
				matched++
			}
		}
		switch p.Status {
		case models.StatusVisitScheduled, models.StatusEnrolled:
			visited++
			called++
		case models.StatusAICallInitiated, models.StatusDeclined:
			called++
		}
		if p.Status == models.StatusEnrolled {
			summary.Enrolled++
		}
		for _, m := range p.CriteriaMatches {
			if m.Matched {
				continue
			}
			c, ok := failed[m.CriterionID]
			if !ok {
				c = &models.CriterionCount{CriterionID: m.CriterionID, Text: m.CriterionText}
				failed[m.CriterionID] = c
			}
			c.Count++
		}
	}

	summary.MatchRate = ratio(matched, summary.Screened)
	summary.CallToVisitRate = ratio(visited, called)
	summary.TopFailedCriteria = topFailed(failed)
	return summary
}

func topFailed(counts map[int]*models.CriterionCount) []models.CriterionCount {
	out := make([]models.CriterionCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].CriterionID < out[j].CriterionID
	})
	if len(out) > topFailedLimit {
		out = out[:topFailedLimit]
	}
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
