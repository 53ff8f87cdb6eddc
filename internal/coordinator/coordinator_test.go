package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/threatanalysis/coordinator/internal/analyst"
	"github.com/threatanalysis/coordinator/internal/apierrors"
	"github.com/threatanalysis/coordinator/internal/domain"
	"github.com/threatanalysis/coordinator/internal/fpanalysis"
	"github.com/threatanalysis/coordinator/internal/knowledge"
	"github.com/threatanalysis/coordinator/internal/reasoning"
	"github.com/threatanalysis/coordinator/internal/response"
	"github.com/threatanalysis/coordinator/internal/store"
	"github.com/threatanalysis/coordinator/internal/timeline"
)

func newTestCoordinator() *Coordinator {
	analysts := []analyst.Analyst{
		analyst.NewHistorical(&reasoning.MockClient{AgentName: domain.AnalystHistorical}, nil),
		analyst.NewConfig(&reasoning.MockClient{AgentName: domain.AnalystConfig}, nil),
		analyst.NewDevOps(&reasoning.MockClient{AgentName: domain.AnalystDevOps}, nil),
		analyst.NewContext(&reasoning.MockClient{AgentName: domain.AnalystContext}, nil),
		analyst.NewPriority(&reasoning.MockClient{AgentName: domain.AnalystPriority}, nil),
	}
	return New(analysts, knowledge.NewInMemoryStore(), fpanalysis.New(), response.New(), timeline.New(),
		store.NewInProcessStore(16, nil), Timeouts{AnalystTimeout: time.Second, TotalTimeout: 5 * time.Second}, nil, nil)
}

func validSignal() domain.ThreatSignal {
	return domain.ThreatSignal{
		ThreatType:        domain.ThreatBotTraffic,
		CustomerName:      "acme",
		CustomerID:        "cust-1",
		SourceIP:          "203.0.113.5",
		RequestCount:      100,
		TimeWindowMinutes: 10,
		DetectedAt:        time.Now(),
	}
}

func TestAnalyze_ProducesRecordWithAllFiveFindings(t *testing.T) {
	c := newTestCoordinator()
	record, err := c.Analyze(context.Background(), validSignal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(record.Findings) != len(domain.AnalystNames) {
		t.Fatalf("expected %d findings, got %d", len(domain.AnalystNames), len(record.Findings))
	}
	for _, name := range domain.AnalystNames {
		if _, ok := record.Findings[name]; !ok {
			t.Errorf("missing finding for analyst %s", name)
		}
	}
	if record.SchemaVersion != domain.SchemaVersion {
		t.Errorf("expected schema version %s, got %s", domain.SchemaVersion, record.SchemaVersion)
	}
	if record.ID == "" {
		t.Error("expected a non-empty id to be assigned")
	}
}

func TestAnalyze_InvalidThreatTypeRejected(t *testing.T) {
	c := newTestCoordinator()
	signal := validSignal()
	signal.ThreatType = "not_a_real_type"

	_, err := c.Analyze(context.Background(), signal)
	if err == nil {
		t.Fatal("expected an error for an invalid threat_type")
	}
	if !errors.Is(err, apierrors.ErrInvalidSignal) {
		t.Fatalf("expected ErrInvalidSignal, got %v", err)
	}
}

func TestAnalyze_NegativeRequestCountRejected(t *testing.T) {
	c := newTestCoordinator()
	signal := validSignal()
	signal.RequestCount = -1

	_, err := c.Analyze(context.Background(), signal)
	if err == nil {
		t.Fatal("expected an error for a negative request_count")
	}
}

func TestAnalyze_ZeroTimeWindowRejected(t *testing.T) {
	c := newTestCoordinator()
	signal := validSignal()
	signal.TimeWindowMinutes = 0

	_, err := c.Analyze(context.Background(), signal)
	if err == nil {
		t.Fatal("expected an error for time_window_minutes < 1")
	}
}

func TestAnalyze_RecordIsPersistedAndPublished(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	ch, cleanup, err := c.store.Subscribe(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()

	record, err := c.Analyze(ctx, validSignal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case published := <-ch:
		if published.ID != record.ID {
			t.Fatalf("expected published record id %s, got %s", record.ID, published.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published record")
	}

	stored, ok, err := c.store.ByID(ctx, record.ID)
	if err != nil || !ok {
		t.Fatalf("expected persisted record, ok=%v err=%v", ok, err)
	}
	if stored.ID != record.ID {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
}

func TestDecideSeverity_SentinelDefaultsToMedium(t *testing.T) {
	sentinel := domain.AgentFinding{AgentName: domain.AnalystPriority, Confidence: 0, KeyFindings: []string{"Error"}}
	if got := decideSeverity(sentinel); got != domain.SeverityMedium {
		t.Fatalf("expected sentinel priority finding to default to medium, got %s", got)
	}
}

func TestDecideSeverity_SubstringPriorityOrder(t *testing.T) {
	cases := []struct {
		analysis string
		want     string
	}{
		{"this is a critical and high severity signal", domain.SeverityCritical},
		{"this is a high severity signal", domain.SeverityHigh},
		{"this is a low severity signal", domain.SeverityLow},
		{"ambiguous signal with no severity keyword", domain.SeverityMedium},
	}
	for _, c := range cases {
		finding := domain.AgentFinding{AgentName: domain.AnalystPriority, Confidence: 0.7, Analysis: c.analysis}
		if got := decideSeverity(finding); got != c.want {
			t.Errorf("decideSeverity(%q) = %s, want %s", c.analysis, got, c.want)
		}
	}
}

// failingKnowledgeStore simulates a networked KnowledgeStore backend where
// every lookup genuinely fails (as opposed to InMemoryStore, which never
// fails and reports empty-but-ok for an unseeded key).
type failingKnowledgeStore struct{}

func (failingKnowledgeStore) SimilarIncidents(string, string) ([]domain.SimilarIncident, bool) {
	return nil, false
}
func (failingKnowledgeStore) CustomerConfig(string) (domain.CustomerConfig, bool) {
	return domain.CustomerConfig{}, false
}
func (failingKnowledgeStore) RecentInfraEvents(int) ([]knowledge.InfraEvent, bool) {
	return nil, false
}
func (failingKnowledgeStore) RelevantIntel([]string) ([]knowledge.IntelRecord, bool) {
	return nil, false
}

func TestAssembleContext_AllLookupsFailedIsContextUnavailable(t *testing.T) {
	c := New(nil, failingKnowledgeStore{}, fpanalysis.New(), response.New(), timeline.New(), store.NewInProcessStore(16, nil),
		Timeouts{AnalystTimeout: time.Second, TotalTimeout: 5 * time.Second}, nil, nil)

	_, _, _, _, err := c.assembleContext(context.Background(), validSignal())
	if err == nil {
		t.Fatal("expected ContextUnavailable when every knowledge store lookup fails")
	}
}

func TestAssembleContext_UnseededInMemoryStoreSucceeds(t *testing.T) {
	c := newTestCoordinator()
	_, _, _, hasCfg, err := c.assembleContext(context.Background(), validSignal())
	if err != nil {
		t.Fatalf("expected a brand-new customer with no seeded history to succeed, got %v", err)
	}
	if hasCfg {
		t.Fatal("expected no customer config for an unseeded customer")
	}
}

// partialKnowledgeStore fails every lookup except CustomerConfig.
type partialKnowledgeStore struct {
	failingKnowledgeStore
	cfg domain.CustomerConfig
}

func (p partialKnowledgeStore) CustomerConfig(string) (domain.CustomerConfig, bool) {
	return p.cfg, true
}

func TestAssembleContext_PartialAvailabilitySucceeds(t *testing.T) {
	ks := partialKnowledgeStore{cfg: domain.CustomerConfig{CustomerName: "acme", AutoBlockEnabled: true}}

	c := New(nil, ks, fpanalysis.New(), response.New(), timeline.New(), store.NewInProcessStore(16, nil),
		Timeouts{AnalystTimeout: time.Second, TotalTimeout: 5 * time.Second}, nil, nil)

	_, _, cfg, hasCfg, err := c.assembleContext(context.Background(), validSignal())
	if err != nil {
		t.Fatalf("expected success with at least one lookup available, got %v", err)
	}
	if !hasCfg || !cfg.AutoBlockEnabled {
		t.Fatalf("expected the seeded customer config to be returned, got %+v", cfg)
	}
}
