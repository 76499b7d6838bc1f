package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/synaptica-ai/recruit/pkg/common/kafka"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

var (
	patientsImported atomic.Int64
	patientsScreened atomic.Int64
	callsCompleted   atomic.Int64
	visitsScheduled  atomic.Int64
	eventsFailed     atomic.Int64

	funnelMu sync.RWMutex
	funnels  = map[string]models.FunnelSummary{}
)

// ObserveFunnel records the latest funnel of a study for the tag and status
// gauges.
func ObserveFunnel(summary models.FunnelSummary) {
	funnelMu.Lock()
	defer funnelMu.Unlock()
	funnels[summary.StudyID.String()] = summary
}

// ObserveEvent counts a domain event by type.
func ObserveEvent(eventType string, data map[string]interface{}) {
	switch eventType {
	case models.EventPatientImported:
		if n, ok := data["count"].(int); ok {
			patientsImported.Add(int64(n))
		} else {
			patientsImported.Add(1)
		}
	case models.EventPatientScreened:
		patientsScreened.Add(1)
	case models.EventCallCompleted:
		callsCompleted.Add(1)
	case models.EventVisitScheduled:
		visitsScheduled.Add(1)
	}
}

// CountingPublisher counts every event it forwards.
type CountingPublisher struct {
	Next kafka.Publisher
}

func (p CountingPublisher) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	ObserveEvent(eventType, data)
	if p.Next == nil {
		return nil
	}
	if err := p.Next.PublishEvent(ctx, eventType, source, data); err != nil {
		eventsFailed.Add(1)
		return err
	}
	return nil
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeExposition(w)
}

func writeExposition(w io.Writer) {
	counter(w, "recruit_patients_imported_total", "Patients imported from EHR exports and spreadsheets.", patientsImported.Load())
	counter(w, "recruit_patients_screened_total", "Patient screenings performed.", patientsScreened.Load())
	counter(w, "recruit_calls_completed_total", "AI screening calls reported complete by the voice provider.", callsCompleted.Load())
	counter(w, "recruit_visits_scheduled_total", "On-site screening visits booked.", visitsScheduled.Load())
	counter(w, "recruit_events_failed_total", "Domain events that could not be published.", eventsFailed.Load())

	funnelMu.RLock()
	defer funnelMu.RUnlock()
	studies := make([]string, 0, len(funnels))
	for id := range funnels {
		studies = append(studies, id)
	}
	sort.Strings(studies)

	fmt.Fprintf(w, "# HELP recruit_study_patients Patients per study by eligibility tag, as of the last funnel computation.\n")
	fmt.Fprintf(w, "# TYPE recruit_study_patients gauge\n")
	for _, id := range studies {
		for _, tag := range models.AllTags() {
			fmt.Fprintf(w, "recruit_study_patients{study=%q,tag=%q} %d\n", id, tag, funnels[id].ByTag[tag])
		}
	}

	fmt.Fprintf(w, "# HELP recruit_study_pipeline Patients per study by workflow status, as of the last funnel computation.\n")
	fmt.Fprintf(w, "# TYPE recruit_study_pipeline gauge\n")
	for _, id := range studies {
		for _, status := range models.AllStatuses() {
			fmt.Fprintf(w, "recruit_study_pipeline{study=%q,status=%q} %d\n", id, status, funnels[id].ByStatus[status])
		}
	}

	fmt.Fprintf(w, "# HELP recruit_study_match_rate Share of screened patients tagged Match or Eligible.\n")
	fmt.Fprintf(w, "# TYPE recruit_study_match_rate gauge\n")
	for _, id := range studies {
		fmt.Fprintf(w, "recruit_study_match_rate{study=%q} %g\n", id, funnels[id].MatchRate)
	}
}

func counter(w io.Writer, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
