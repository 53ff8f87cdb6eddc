package knowledge

import (
	"testing"
	"time"

	"github.com/threatanalysis/coordinator/internal/domain"
)

func TestInMemoryStore_SimilarIncidents_UnseededIsEmptyNotFailed(t *testing.T) {
	s := NewInMemoryStore()
	got, ok := s.SimilarIncidents(domain.ThreatBotTraffic, "acme")
	if !ok {
		t.Fatal("expected ok=true for a brand-new customer with no history yet")
	}
	if len(got) != 0 {
		t.Fatalf("expected no incidents for an unseeded key, got %+v", got)
	}
}

func TestInMemoryStore_SimilarIncidents_SeededFound(t *testing.T) {
	s := NewInMemoryStore()
	want := []domain.SimilarIncident{{ThreatType: domain.ThreatBotTraffic, CustomerName: "acme", ResolvedAsFP: true}}
	s.SeedSimilarIncidents(domain.ThreatBotTraffic, "acme", want)

	got, ok := s.SimilarIncidents(domain.ThreatBotTraffic, "acme")
	if !ok || len(got) != 1 {
		t.Fatalf("expected seeded incident to be found, got ok=%v got=%+v", ok, got)
	}
}

func TestInMemoryStore_CustomerConfig(t *testing.T) {
	s := NewInMemoryStore()
	if zero, ok := s.CustomerConfig("acme"); !ok || zero.AutoBlockEnabled {
		t.Fatalf("expected ok=true with zero-value config before seeding, got ok=%v cfg=%+v", ok, zero)
	}
	s.SeedCustomerConfig(domain.CustomerConfig{CustomerName: "acme", AutoBlockEnabled: true})
	cfg, ok := s.CustomerConfig("acme")
	if !ok || !cfg.AutoBlockEnabled {
		t.Fatalf("expected seeded config, got ok=%v cfg=%+v", ok, cfg)
	}
}

func TestInMemoryStore_RecentInfraEvents_FiltersOldEvents(t *testing.T) {
	s := NewInMemoryStore()
	s.SeedInfraEvent(InfraEvent{Timestamp: time.Now().Add(-2 * time.Hour), Description: "stale deploy"})
	s.SeedInfraEvent(InfraEvent{Timestamp: time.Now().Add(-1 * time.Minute), Description: "recent deploy"})

	events, ok := s.RecentInfraEvents(60)
	if !ok || len(events) != 1 {
		t.Fatalf("expected exactly the recent event within the window, got ok=%v events=%+v", ok, events)
	}
	if events[0].Description != "recent deploy" {
		t.Fatalf("expected the recent event to survive filtering, got %+v", events[0])
	}
}

func TestInMemoryStore_RecentInfraEvents_NoneInWindowIsEmptyNotFailed(t *testing.T) {
	s := NewInMemoryStore()
	events, ok := s.RecentInfraEvents(60)
	if !ok || len(events) != 0 {
		t.Fatalf("expected ok=true with no events, got ok=%v events=%+v", ok, events)
	}
}

func TestInMemoryStore_RelevantIntel_NoMatchesIsEmptyNotFailed(t *testing.T) {
	s := NewInMemoryStore()
	records, ok := s.RelevantIntel([]string{"unused"})
	if !ok || len(records) != 0 {
		t.Fatalf("expected ok=true with no matches, got ok=%v records=%+v", ok, records)
	}
}

func TestInMemoryStore_RelevantIntel_MergesKeywords(t *testing.T) {
	s := NewInMemoryStore()
	s.SeedIntel("acme", []IntelRecord{{Indicator: "1.2.3.4", Description: "known bad IP"}})
	s.SeedIntel("bot_traffic", []IntelRecord{{Indicator: "ua:evilbot", Description: "scraper signature"}})

	records, ok := s.RelevantIntel([]string{"acme", "bot_traffic", "unused"})
	if !ok || len(records) != 2 {
		t.Fatalf("expected records from both matching keywords, got ok=%v records=%+v", ok, records)
	}
}
