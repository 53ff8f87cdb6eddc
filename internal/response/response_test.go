package response

import (
	"testing"

	"github.com/threatanalysis/coordinator/internal/domain"
)

func TestGeneratePlan_FPOverrideWinsRegardlessOfSeverity(t *testing.T) {
	e := New()
	signal := domain.ThreatSignal{ThreatType: domain.ThreatCredentialStuffing, SourceIP: "203.0.113.5"}
	fp := domain.FPScore{Score: 0.75, Explanation: "matches known crawler pattern"}

	plan := e.GeneratePlan(signal, domain.SeverityCritical, fp, domain.CustomerConfig{}, false)

	if plan.PrimaryAction.ActionType != domain.ActionMonitor {
		t.Fatalf("expected FP override to force monitor, got %s", plan.PrimaryAction.ActionType)
	}
	if !plan.PrimaryAction.AutoExecutable {
		t.Fatalf("expected FP override action to be auto-executable")
	}
	if len(plan.SecondaryActions) != 0 {
		t.Fatalf("expected no secondary actions in FP override plan")
	}
}

func TestGeneratePlan_CredentialStuffingCritical(t *testing.T) {
	e := New()
	signal := domain.ThreatSignal{ThreatType: domain.ThreatCredentialStuffing, SourceIP: "203.0.113.5", CustomerName: "acme"}
	fp := domain.FPScore{Score: 0.1}

	plan := e.GeneratePlan(signal, domain.SeverityCritical, fp, domain.CustomerConfig{}, false)

	if plan.PrimaryAction.ActionType != domain.ActionBlockIP {
		t.Fatalf("expected block_ip as primary action, got %s", plan.PrimaryAction.ActionType)
	}
	if plan.PrimaryAction.Urgency != domain.UrgencyImmediate {
		t.Fatalf("expected immediate urgency, got %s", plan.PrimaryAction.Urgency)
	}
	if plan.SLAMinutes != 15 {
		t.Fatalf("expected 15 minute SLA for critical, got %d", plan.SLAMinutes)
	}
	if plan.AutoEscalateAfterMinutes != 7 {
		t.Fatalf("expected auto-escalate at half the SLA (7), got %d", plan.AutoEscalateAfterMinutes)
	}
}

func TestGeneratePlan_RateLimitBreachMedium(t *testing.T) {
	e := New()
	signal := domain.ThreatSignal{ThreatType: domain.ThreatRateLimitBreach, SourceIP: "203.0.113.5"}
	fp := domain.FPScore{Score: 0.2}

	plan := e.GeneratePlan(signal, domain.SeverityMedium, fp, domain.CustomerConfig{}, false)

	if plan.PrimaryAction.ActionType != domain.ActionRateLimit {
		t.Fatalf("expected rate_limit as primary action, got %s", plan.PrimaryAction.ActionType)
	}
	if plan.PrimaryAction.Urgency != domain.UrgencyNormal {
		t.Fatalf("expected normal urgency, got %s", plan.PrimaryAction.Urgency)
	}
	if plan.SLAMinutes != 60 {
		t.Fatalf("expected 60 minute SLA for medium, got %d", plan.SLAMinutes)
	}
}

func TestGeneratePlan_CustomerAutoBlockOverridesApproval(t *testing.T) {
	e := New()
	signal := domain.ThreatSignal{ThreatType: domain.ThreatBruteForce, SourceIP: "203.0.113.5"}
	fp := domain.FPScore{Score: 0.1}
	cfg := domain.CustomerConfig{CustomerName: "acme", AutoBlockEnabled: true}

	plan := e.GeneratePlan(signal, domain.SeverityHigh, fp, cfg, true)

	if plan.PrimaryAction.ActionType != domain.ActionBlockIP {
		t.Fatalf("expected block_ip primary action, got %s", plan.PrimaryAction.ActionType)
	}
	if !plan.PrimaryAction.AutoExecutable || plan.PrimaryAction.RequiresApproval {
		t.Fatalf("expected customer auto-block policy to mark block_ip auto-executable without approval, got %+v", plan.PrimaryAction)
	}
}

func TestGeneratePlan_WithoutCustomerAutoBlockRequiresApproval(t *testing.T) {
	e := New()
	signal := domain.ThreatSignal{ThreatType: domain.ThreatBruteForce, SourceIP: "203.0.113.5"}
	fp := domain.FPScore{Score: 0.1}

	plan := e.GeneratePlan(signal, domain.SeverityHigh, fp, domain.CustomerConfig{}, false)

	if plan.PrimaryAction.AutoExecutable || !plan.PrimaryAction.RequiresApproval {
		t.Fatalf("expected block_ip to require approval absent an auto-block policy, got %+v", plan.PrimaryAction)
	}
}

func TestGeneratePlan_EscalationContactsAppendedAndCapped(t *testing.T) {
	e := New()
	signal := domain.ThreatSignal{ThreatType: domain.ThreatAccountTakeover, SourceIP: "203.0.113.5"}
	fp := domain.FPScore{Score: 0.1}
	cfg := domain.CustomerConfig{
		CustomerName:       "acme",
		EscalationContacts: []string{"security@acme.com", "ciso@acme.com", "extra@acme.com"},
	}

	plan := e.GeneratePlan(signal, domain.SeverityCritical, fp, cfg, true)

	basePath := escalationPaths[domain.SeverityCritical]
	wantLen := len(basePath) + 2
	if len(plan.EscalationPath) != wantLen {
		t.Fatalf("expected escalation path capped at 2 customer contacts appended (%d total), got %d: %v",
			wantLen, len(plan.EscalationPath), plan.EscalationPath)
	}
	if plan.EscalationPath[len(plan.EscalationPath)-1] != "ciso@acme.com" {
		t.Fatalf("expected only the first 2 customer contacts appended, got %v", plan.EscalationPath)
	}
}

func TestGeneratePlan_UnknownSeverityFallsBackToMonitor(t *testing.T) {
	e := New()
	signal := domain.ThreatSignal{ThreatType: domain.ThreatBotTraffic, SourceIP: "203.0.113.5"}
	fp := domain.FPScore{Score: 0.1}

	plan := e.GeneratePlan(signal, domain.SeverityInfo, fp, domain.CustomerConfig{}, false)

	if plan.PrimaryAction.ActionType != domain.ActionMonitor {
		t.Fatalf("expected fallback to monitor for a severity absent from the table, got %s", plan.PrimaryAction.ActionType)
	}
}

func TestGeneratePlan_QuarantineTargetsUserWhenPresent(t *testing.T) {
	e := New()
	signal := domain.ThreatSignal{
		ThreatType:   domain.ThreatAccountTakeover,
		SourceIP:     "203.0.113.5",
		CustomerName: "acme",
		RawData:      map[string]interface{}{"user_id": "user-42"},
	}
	fp := domain.FPScore{Score: 0.1}

	plan := e.GeneratePlan(signal, domain.SeverityCritical, fp, domain.CustomerConfig{}, false)

	var quarantine *domain.ResponseAction
	if plan.PrimaryAction.ActionType == domain.ActionQuarantine {
		quarantine = &plan.PrimaryAction
	}
	for i := range plan.SecondaryActions {
		if plan.SecondaryActions[i].ActionType == domain.ActionQuarantine {
			quarantine = &plan.SecondaryActions[i]
		}
	}
	if quarantine == nil {
		t.Fatalf("expected a quarantine action in account_takeover/critical plan, got %+v", plan)
	}
	if quarantine.Target != "user-42" {
		t.Fatalf("expected quarantine to target the user id, got %s", quarantine.Target)
	}
}
