// Package response implements the response-planning algorithm: a pure,
// deterministic mapping from (threat_type, severity) plus the FP override
// and customer policy to a ResponsePlan.
package response

import (
	"fmt"

	"github.com/threatanalysis/coordinator/internal/domain"
)

// actionTemplate is one (action_type, urgency) pair in the severity table.
type actionTemplate struct {
	actionType string
	urgency    string
}

// templates is the static table keyed by (threat_type, severity), covering
// every threat_type for severities {critical, high, medium, low}. Entries
// absent here (and "info") fall back to a single (monitor, normal).
var templates = map[string]map[string][]actionTemplate{
	domain.ThreatBotTraffic: {
		domain.SeverityCritical: {{domain.ActionChallenge, domain.UrgencyUrgent}, {domain.ActionMonitor, domain.UrgencyNormal}},
		domain.SeverityHigh:     {{domain.ActionChallenge, domain.UrgencyNormal}, {domain.ActionMonitor, domain.UrgencyNormal}},
		domain.SeverityMedium:   {{domain.ActionMonitor, domain.UrgencyNormal}},
		domain.SeverityLow:      {{domain.ActionMonitor, domain.UrgencyLow}},
	},
	domain.ThreatCredentialStuffing: {
		domain.SeverityCritical: {{domain.ActionBlockIP, domain.UrgencyImmediate}, {domain.ActionChallenge, domain.UrgencyUrgent}, {domain.ActionEscalate, domain.UrgencyUrgent}},
		domain.SeverityHigh:     {{domain.ActionBlockIP, domain.UrgencyUrgent}, {domain.ActionRateLimit, domain.UrgencyNormal}},
		domain.SeverityMedium:   {{domain.ActionRateLimit, domain.UrgencyNormal}, {domain.ActionMonitor, domain.UrgencyNormal}},
		domain.SeverityLow:      {{domain.ActionMonitor, domain.UrgencyLow}},
	},
	domain.ThreatAccountTakeover: {
		domain.SeverityCritical: {{domain.ActionBlockIP, domain.UrgencyImmediate}, {domain.ActionQuarantine, domain.UrgencyUrgent}, {domain.ActionEscalate, domain.UrgencyUrgent}},
		domain.SeverityHigh:     {{domain.ActionBlockIP, domain.UrgencyUrgent}, {domain.ActionChallenge, domain.UrgencyNormal}},
		domain.SeverityMedium:   {{domain.ActionChallenge, domain.UrgencyNormal}, {domain.ActionMonitor, domain.UrgencyNormal}},
		domain.SeverityLow:      {{domain.ActionMonitor, domain.UrgencyLow}},
	},
	domain.ThreatDataScraping: {
		domain.SeverityCritical: {{domain.ActionBlockIP, domain.UrgencyUrgent}, {domain.ActionRateLimit, domain.UrgencyNormal}},
		domain.SeverityHigh:     {{domain.ActionRateLimit, domain.UrgencyNormal}, {domain.ActionChallenge, domain.UrgencyNormal}},
		domain.SeverityMedium:   {{domain.ActionRateLimit, domain.UrgencyNormal}},
		domain.SeverityLow:      {{domain.ActionMonitor, domain.UrgencyLow}},
	},
	domain.ThreatGeoAnomaly: {
		domain.SeverityCritical: {{domain.ActionChallenge, domain.UrgencyUrgent}, {domain.ActionMonitor, domain.UrgencyNormal}},
		domain.SeverityHigh:     {{domain.ActionChallenge, domain.UrgencyNormal}},
		domain.SeverityMedium:   {{domain.ActionMonitor, domain.UrgencyNormal}},
		domain.SeverityLow:      {{domain.ActionMonitor, domain.UrgencyLow}},
	},
	domain.ThreatRateLimitBreach: {
		domain.SeverityCritical: {{domain.ActionBlockIP, domain.UrgencyUrgent}, {domain.ActionRateLimit, domain.UrgencyNormal}},
		domain.SeverityHigh:     {{domain.ActionRateLimit, domain.UrgencyUrgent}},
		domain.SeverityMedium:   {{domain.ActionRateLimit, domain.UrgencyNormal}},
		domain.SeverityLow:      {{domain.ActionMonitor, domain.UrgencyLow}},
	},
	domain.ThreatBruteForce: {
		domain.SeverityCritical: {{domain.ActionBlockIP, domain.UrgencyImmediate}, {domain.ActionChallenge, domain.UrgencyUrgent}},
		domain.SeverityHigh:     {{domain.ActionBlockIP, domain.UrgencyUrgent}},
		domain.SeverityMedium:   {{domain.ActionChallenge, domain.UrgencyNormal}, {domain.ActionMonitor, domain.UrgencyNormal}},
		domain.SeverityLow:      {{domain.ActionMonitor, domain.UrgencyLow}},
	},
}

// slaMinutes is the static per-severity SLA table.
var slaMinutes = map[string]int{
	domain.SeverityCritical: 15,
	domain.SeverityHigh:     30,
	domain.SeverityMedium:   60,
	domain.SeverityLow:      240,
	domain.SeverityInfo:     480,
}

// escalationPaths is the static per-severity escalation tier list.
var escalationPaths = map[string][]string{
	domain.SeverityCritical: {"SOC Tier 2", "SOC Manager", "CISO", "Customer Success"},
	domain.SeverityHigh:     {"SOC Tier 2", "SOC Manager", "Customer Success"},
	domain.SeverityMedium:   {"SOC Tier 1", "SOC Tier 2"},
	domain.SeverityLow:      {"SOC Tier 1"},
	domain.SeverityInfo:     {"SOC Tier 1"},
}

// Engine maps (threat_type, severity, fp_score, customer_config) to a
// ResponsePlan; analyst findings are not an input. Pure and deterministic.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) GeneratePlan(signal domain.ThreatSignal, severity string, fp domain.FPScore, customerConfig domain.CustomerConfig, hasCustomerConfig bool) domain.ResponsePlan {
	if fp.Score >= 0.7 {
		return e.fpOverridePlan(signal, fp)
	}

	actionTemplates, ok := templates[signal.ThreatType][severity]
	if !ok || len(actionTemplates) == 0 {
		actionTemplates = []actionTemplate{{domain.ActionMonitor, domain.UrgencyNormal}}
	}

	actions := make([]domain.ResponseAction, 0, len(actionTemplates))
	for _, t := range actionTemplates {
		action := buildAction(signal, severity, t.actionType, t.urgency)
		if t.actionType == domain.ActionBlockIP && hasCustomerConfig && customerConfig.AutoBlockEnabled {
			action.AutoExecutable = true
			action.RequiresApproval = false
		}
		actions = append(actions, action)
	}

	sla := slaMinutes[severity]
	if sla == 0 {
		sla = slaMinutes[domain.SeverityMedium]
	}

	path := append([]string{}, escalationPaths[severity]...)
	if hasCustomerConfig {
		extra := customerConfig.EscalationContacts
		if len(extra) > 2 {
			extra = extra[:2]
		}
		path = append(path, extra...)
	}

	return domain.ResponsePlan{
		PrimaryAction:            actions[0],
		SecondaryActions:         actions[1:],
		EscalationPath:           path,
		SLAMinutes:               sla,
		AutoEscalateAfterMinutes: sla / 2,
	}
}

func (e *Engine) fpOverridePlan(signal domain.ThreatSignal, fp domain.FPScore) domain.ResponsePlan {
	action := domain.ResponseAction{
		ActionType:       domain.ActionMonitor,
		Urgency:          domain.UrgencyLow,
		Target:           signal.SourceIP,
		Reason:           "signal strongly resembles a benign false positive",
		Confidence:       0.6,
		AutoExecutable:   true,
		RequiresApproval: false,
		EstimatedImpact:  "low",
		RollbackPossible: true,
		Parameters:       map[string]interface{}{"duration_minutes": 30},
	}
	return domain.ResponsePlan{
		PrimaryAction:            action,
		SLAMinutes:               240,
		AutoEscalateAfterMinutes: 120,
		EscalationPath:           []string{"SOC Tier 1"},
		Notes:                    fmt.Sprintf("FP override applied: %s", fp.Explanation),
	}
}

func buildAction(signal domain.ThreatSignal, severity, actionType, urgency string) domain.ResponseAction {
	target := targetFor(signal, actionType)
	autoExecutable := autoExecutableDefault(actionType)
	confidence := 0.6
	if severity == domain.SeverityCritical || severity == domain.SeverityHigh {
		confidence = 0.8
	}

	return domain.ResponseAction{
		ActionType:       actionType,
		Urgency:          urgency,
		Target:           target,
		Reason:           fmt.Sprintf("%s severity %s signal matched response template", severity, signal.ThreatType),
		Confidence:       confidence,
		AutoExecutable:   autoExecutable,
		RequiresApproval: !autoExecutable,
		EstimatedImpact:  impactFor(actionType),
		RollbackPossible: actionType != domain.ActionNone,
		Parameters:       parametersFor(actionType),
	}
}

func targetFor(signal domain.ThreatSignal, actionType string) string {
	switch actionType {
	case domain.ActionBlockIP, domain.ActionRateLimit, domain.ActionChallenge, domain.ActionMonitor:
		return signal.SourceIP
	case domain.ActionQuarantine:
		if uid, ok := signal.RawData["user_id"].(string); ok && uid != "" {
			return uid
		}
		return signal.CustomerName
	default:
		return signal.CustomerName
	}
}

func autoExecutableDefault(actionType string) bool {
	switch actionType {
	case domain.ActionRateLimit, domain.ActionChallenge, domain.ActionMonitor, domain.ActionEscalate:
		return true
	case domain.ActionBlockIP, domain.ActionWhitelist, domain.ActionQuarantine:
		return false
	default:
		return false
	}
}

func impactFor(actionType string) string {
	switch actionType {
	case domain.ActionBlockIP, domain.ActionQuarantine:
		return "high"
	case domain.ActionRateLimit, domain.ActionChallenge:
		return "medium"
	default:
		return "low"
	}
}

func parametersFor(actionType string) map[string]interface{} {
	switch actionType {
	case domain.ActionBlockIP:
		return map[string]interface{}{"duration_minutes": 60, "scope": "customer"}
	case domain.ActionRateLimit:
		return map[string]interface{}{"requests_per_minute": 10, "duration_minutes": 30}
	case domain.ActionChallenge:
		return map[string]interface{}{"challenge_type": "captcha", "duration_minutes": 60}
	case domain.ActionMonitor:
		return map[string]interface{}{"duration_minutes": 60, "alert_threshold": 100}
	case domain.ActionWhitelist:
		return map[string]interface{}{"duration_minutes": 1440}
	case domain.ActionEscalate:
		return map[string]interface{}{"escalation_level": "Tier 2"}
	case domain.ActionQuarantine:
		return map[string]interface{}{"notify_user": true}
	default:
		return nil
	}
}
