// Package timeline implements the investigation timeline synthesis
// algorithm: a pure function of its inputs and the current wall clock
// (only end_time varies run to run for identical inputs).
package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/threatanalysis/coordinator/internal/domain"
)

// Builder synthesizes an ordered event sequence across six phases relative
// to the signal's detected_at.
type Builder struct {
	// now is overridable in tests so the only clock read is controlled.
	now func() time.Time
}

func New() *Builder {
	return &Builder{now: time.Now}
}

// NewWithClock builds a Builder with an injected clock, used by tests that
// need a fixed end_time.
func NewWithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

func (b *Builder) Build(signal domain.ThreatSignal, findings map[string]domain.AgentFinding, fp domain.FPScore, plan domain.ResponsePlan, severity string) domain.InvestigationTimeline {
	base := signal.DetectedAt
	var events []domain.TimelineEvent

	events = append(events, domain.TimelineEvent{
		Timestamp:   base,
		EventType:   domain.EventDetection,
		Title:       "Signal detected",
		Description: fmt.Sprintf("%s signal detected for customer %s", signal.ThreatType, signal.CustomerName),
		Source:      "ingestion",
	})

	enrichmentSources := []struct {
		offset time.Duration
		title  string
		source string
	}{
		{50 * time.Millisecond, "Historical incidents queried", "knowledge.similar_incidents"},
		{70 * time.Millisecond, "Customer configuration loaded", "knowledge.customer_config"},
		{85 * time.Millisecond, "Infrastructure events queried", "knowledge.infra_events"},
		{100 * time.Millisecond, "Threat intelligence queried", "knowledge.intel"},
	}
	for _, e := range enrichmentSources {
		events = append(events, domain.TimelineEvent{
			Timestamp:   base.Add(e.offset),
			EventType:   domain.EventEnrichment,
			Title:       e.title,
			Description: "Context assembled for analyst fan-out",
			Source:      e.source,
		})
	}

	// Analysis events: deterministically spaced across [100ms, 150ms] in
	// fixed analyst-name order, not discovery/completion order, since the
	// five tasks run concurrently and are aggregated by name.
	analysisWindow := 50 * time.Millisecond
	n := len(domain.AnalystNames)
	for i, name := range domain.AnalystNames {
		finding, ok := findings[name]
		if !ok {
			continue
		}
		var jitter time.Duration
		if n > 1 {
			jitter = time.Duration(int64(analysisWindow) * int64(i) / int64(n-1))
		}
		events = append(events, domain.TimelineEvent{
			Timestamp:   base.Add(100*time.Millisecond + jitter),
			EventType:   domain.EventAnalysis,
			Title:       fmt.Sprintf("%s analyst completed", name),
			Description: finding.Analysis,
			Source:      name,
			Data: map[string]interface{}{
				"confidence":         finding.Confidence,
				"key_findings":       topN(finding.KeyFindings, 3),
				"processing_time_ms": finding.ProcessingTimeMS,
			},
		})
	}

	events = append(events, domain.TimelineEvent{
		Timestamp:   base.Add(800 * time.Millisecond),
		EventType:   domain.EventAnalysis,
		Title:       "False-positive analysis complete",
		Description: fp.Explanation,
		Source:      "fpanalyzer",
		Data: map[string]interface{}{
			"score":          fp.Score,
			"recommendation": fp.Recommendation,
		},
		Severity: severity,
	})

	events = append(events, domain.TimelineEvent{
		Timestamp:   base.Add(850 * time.Millisecond),
		EventType:   domain.EventCorrelation,
		Title:       "Cross-agent correlation",
		Description: "Findings from all analysts correlated",
		Source:      "coordinator",
	})
	if historical, ok := findings[domain.AnalystHistorical]; ok && len(historical.KeyFindings) > 0 {
		events = append(events, domain.TimelineEvent{
			Timestamp:   base.Add(870 * time.Millisecond),
			EventType:   domain.EventCorrelation,
			Title:       "Historical correlation",
			Description: "Historical analyst findings correlated against current signal",
			Source:      domain.AnalystHistorical,
			Data:        map[string]interface{}{"key_findings": historical.KeyFindings},
		})
	}

	events = append(events, domain.TimelineEvent{
		Timestamp:   base.Add(900 * time.Millisecond),
		EventType:   domain.EventDecision,
		Title:       "Severity decided",
		Description: fmt.Sprintf("Final severity: %s", severity),
		Source:      "coordinator",
		Severity:    severity,
	})

	events = append(events, domain.TimelineEvent{
		Timestamp:   base.Add(950 * time.Millisecond),
		EventType:   domain.EventAction,
		Title:       fmt.Sprintf("Primary action: %s", plan.PrimaryAction.ActionType),
		Description: plan.PrimaryAction.Reason,
		Source:      "responseengine",
		Data:        map[string]interface{}{"target": plan.PrimaryAction.Target, "urgency": plan.PrimaryAction.Urgency},
	})
	for i, action := range plan.SecondaryActions {
		events = append(events, domain.TimelineEvent{
			Timestamp:   base.Add(time.Duration(960+i*10) * time.Millisecond),
			EventType:   domain.EventAction,
			Title:       fmt.Sprintf("Secondary action: %s", action.ActionType),
			Description: action.Reason,
			Source:      "responseengine",
			Data:        map[string]interface{}{"target": action.Target, "urgency": action.Urgency},
		})
	}
	if len(plan.EscalationPath) > 0 {
		events = append(events, domain.TimelineEvent{
			Timestamp:   base.Add(1000 * time.Millisecond),
			EventType:   domain.EventEscalation,
			Title:       "Escalation path notified",
			Description: fmt.Sprintf("Escalated to: %v", plan.EscalationPath),
			Source:      "responseengine",
		})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	end := b.now()
	return domain.InvestigationTimeline{
		Events:     events,
		StartTime:  base,
		EndTime:    end,
		DurationMS: end.Sub(base).Milliseconds(),
	}
}

func topN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
