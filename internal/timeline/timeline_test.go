package timeline

import (
	"sort"
	"testing"
	"time"

	"github.com/threatanalysis/coordinator/internal/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func allFindings() map[string]domain.AgentFinding {
	findings := make(map[string]domain.AgentFinding, len(domain.AnalystNames))
	for _, name := range domain.AnalystNames {
		findings[name] = domain.AgentFinding{AgentName: name, Confidence: 0.7, Analysis: "analysis for " + name}
	}
	return findings
}

func TestBuild_EventsAreSortedByTimestamp(t *testing.T) {
	detected := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewWithClock(fixedClock(detected.Add(2 * time.Second)))

	signal := domain.ThreatSignal{ThreatType: domain.ThreatBruteForce, CustomerName: "acme", DetectedAt: detected}
	plan := domain.ResponsePlan{
		PrimaryAction:  domain.ResponseAction{ActionType: domain.ActionBlockIP},
		EscalationPath: []string{"SOC Tier 2"},
	}
	tl := b.Build(signal, allFindings(), domain.FPScore{}, plan, domain.SeverityHigh)

	if !sort.SliceIsSorted(tl.Events, func(i, j int) bool { return tl.Events[i].Timestamp.Before(tl.Events[j].Timestamp) }) {
		t.Fatalf("timeline events are not sorted by timestamp: %+v", tl.Events)
	}
}

func TestBuild_FirstEventIsDetection(t *testing.T) {
	detected := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewWithClock(fixedClock(detected))

	signal := domain.ThreatSignal{ThreatType: domain.ThreatBotTraffic, DetectedAt: detected}
	tl := b.Build(signal, nil, domain.FPScore{}, domain.ResponsePlan{}, domain.SeverityLow)

	if len(tl.Events) == 0 {
		t.Fatal("expected at least one event")
	}
	if tl.Events[0].EventType != domain.EventDetection {
		t.Fatalf("expected first event to be detection, got %s", tl.Events[0].EventType)
	}
	if !tl.Events[0].Timestamp.Equal(detected) {
		t.Fatalf("expected detection event at detected_at, got %v", tl.Events[0].Timestamp)
	}
}

func TestBuild_OnlyEndTimeVariesForIdenticalInputs(t *testing.T) {
	detected := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	signal := domain.ThreatSignal{ThreatType: domain.ThreatGeoAnomaly, DetectedAt: detected}
	findings := allFindings()
	fp := domain.FPScore{Score: 0.5, Recommendation: domain.RecommendationNeedsReview}
	plan := domain.ResponsePlan{PrimaryAction: domain.ResponseAction{ActionType: domain.ActionMonitor}}

	b1 := NewWithClock(fixedClock(detected.Add(1 * time.Second)))
	b2 := NewWithClock(fixedClock(detected.Add(5 * time.Second)))

	tl1 := b1.Build(signal, findings, fp, plan, domain.SeverityMedium)
	tl2 := b2.Build(signal, findings, fp, plan, domain.SeverityMedium)

	if len(tl1.Events) != len(tl2.Events) {
		t.Fatalf("expected identical event counts, got %d vs %d", len(tl1.Events), len(tl2.Events))
	}
	for i := range tl1.Events {
		if !tl1.Events[i].Timestamp.Equal(tl2.Events[i].Timestamp) {
			t.Fatalf("event %d timestamp differs between runs with identical inputs: %v vs %v",
				i, tl1.Events[i].Timestamp, tl2.Events[i].Timestamp)
		}
	}
	if tl1.EndTime.Equal(tl2.EndTime) {
		t.Fatalf("expected end_time to vary with the injected clock")
	}
}

func TestBuild_MissingFindingsAreOmittedNotPanicked(t *testing.T) {
	detected := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewWithClock(fixedClock(detected))
	signal := domain.ThreatSignal{ThreatType: domain.ThreatDataScraping, DetectedAt: detected}

	partial := map[string]domain.AgentFinding{
		domain.AnalystHistorical: {AgentName: domain.AnalystHistorical, Confidence: 0.5},
	}

	tl := b.Build(signal, partial, domain.FPScore{}, domain.ResponsePlan{}, domain.SeverityLow)

	analysisCount := 0
	for _, e := range tl.Events {
		if e.EventType == domain.EventAnalysis && e.Source == domain.AnalystConfig {
			analysisCount++
		}
	}
	if analysisCount != 0 {
		t.Fatalf("expected no analysis event for an analyst with no finding")
	}
}

func TestBuild_SecondaryActionsEachGetAnEvent(t *testing.T) {
	detected := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewWithClock(fixedClock(detected))
	signal := domain.ThreatSignal{ThreatType: domain.ThreatCredentialStuffing, DetectedAt: detected}
	plan := domain.ResponsePlan{
		PrimaryAction: domain.ResponseAction{ActionType: domain.ActionBlockIP},
		SecondaryActions: []domain.ResponseAction{
			{ActionType: domain.ActionChallenge},
			{ActionType: domain.ActionEscalate},
		},
	}

	tl := b.Build(signal, nil, domain.FPScore{}, plan, domain.SeverityCritical)

	actionEvents := 0
	for _, e := range tl.Events {
		if e.EventType == domain.EventAction {
			actionEvents++
		}
	}
	if actionEvents != 3 {
		t.Fatalf("expected 1 primary + 2 secondary action events, got %d", actionEvents)
	}
}

func TestBuild_NoEscalationEventWhenPathEmpty(t *testing.T) {
	detected := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewWithClock(fixedClock(detected))
	signal := domain.ThreatSignal{ThreatType: domain.ThreatBotTraffic, DetectedAt: detected}
	plan := domain.ResponsePlan{PrimaryAction: domain.ResponseAction{ActionType: domain.ActionMonitor}}

	tl := b.Build(signal, nil, domain.FPScore{}, plan, domain.SeverityLow)

	for _, e := range tl.Events {
		if e.EventType == domain.EventEscalation {
			t.Fatalf("did not expect an escalation event with an empty escalation path")
		}
	}
}
