// Package domain holds the plain data model shared by every component of the
// threat analysis pipeline. Types here are value-safe: no embedded mutexes,
// no pointers into shared state, so a record can cross goroutine and
// process boundaries by copy or JSON encoding alone.
package domain

import "time"

// SchemaVersion is stamped onto every EnhancedAnalysisRecord so subscribers
// reading off the wire can detect a format they don't understand yet.
const SchemaVersion = "v1"

// Threat type enumeration. ThreatSignal.ThreatType must be one of these;
// anything else is an InvalidSignal at ingest.
const (
	ThreatBotTraffic         = "bot_traffic"
	ThreatCredentialStuffing = "credential_stuffing"
	ThreatAccountTakeover    = "account_takeover"
	ThreatDataScraping       = "data_scraping"
	ThreatGeoAnomaly         = "geo_anomaly"
	ThreatRateLimitBreach    = "rate_limit_breach"
	ThreatBruteForce         = "brute_force"
)

// ValidThreatTypes is the enumerated set ThreatSignal.ThreatType is
// validated against at ingest.
var ValidThreatTypes = map[string]bool{
	ThreatBotTraffic:         true,
	ThreatCredentialStuffing: true,
	ThreatAccountTakeover:    true,
	ThreatDataScraping:       true,
	ThreatGeoAnomaly:         true,
	ThreatRateLimitBreach:    true,
	ThreatBruteForce:         true,
}

// Severity levels for an EnhancedAnalysisRecord and a TimelineEvent.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// FPScore.Recommendation buckets.
const (
	RecommendationLikelyFalsePositive = "likely_false_positive"
	RecommendationNeedsReview         = "needs_review"
	RecommendationLikelyRealThreat    = "likely_real_threat"
)

// ResponseAction.ActionType enumeration.
const (
	ActionBlockIP    = "block_ip"
	ActionRateLimit  = "rate_limit"
	ActionChallenge  = "challenge"
	ActionWhitelist  = "whitelist"
	ActionMonitor    = "monitor"
	ActionEscalate   = "escalate"
	ActionQuarantine = "quarantine"
	ActionNone       = "none"
)

// ResponseAction.Urgency enumeration.
const (
	UrgencyImmediate = "immediate"
	UrgencyUrgent    = "urgent"
	UrgencyNormal    = "normal"
	UrgencyLow       = "low"
)

// TimelineEvent.EventType enumeration.
const (
	EventDetection  = "detection"
	EventEnrichment = "enrichment"
	EventAnalysis   = "analysis"
	EventCorrelation = "correlation"
	EventDecision   = "decision"
	EventAction     = "action"
	EventEscalation = "escalation"
)

// Analyst names, fixed: these are the five keys every record's Findings map
// must carry, regardless of which analyst variant produced each entry.
const (
	AnalystHistorical = "historical"
	AnalystConfig     = "config"
	AnalystDevOps     = "devops"
	AnalystContext    = "context"
	AnalystPriority   = "priority"
)

// AnalystNames is the fixed, ordered set of analyst names every record's
// Findings map must contain exactly.
var AnalystNames = []string{AnalystHistorical, AnalystConfig, AnalystDevOps, AnalystContext, AnalystPriority}

// ThreatSignal is the inbound, immutable unit of work: a single security
// event submitted for analysis by a tenant.
type ThreatSignal struct {
	ID                string                 `json:"id"`
	ThreatType        string                 `json:"threat_type"`
	CustomerName      string                 `json:"customer_name"`
	CustomerID        string                 `json:"customer_id"`
	SourceIP          string                 `json:"source_ip"`
	UserAgent         string                 `json:"user_agent,omitempty"`
	RequestCount      int                    `json:"request_count"`
	TimeWindowMinutes int                    `json:"time_window_minutes"`
	DetectedAt        time.Time              `json:"detected_at"`
	RawData           map[string]interface{} `json:"raw_data,omitempty"`
}

// AgentFinding is one analyst's independent assessment of a signal.
type AgentFinding struct {
	AgentName        string   `json:"agent_name"`
	Analysis         string   `json:"analysis"`
	Confidence       float64  `json:"confidence"`
	KeyFindings      []string `json:"key_findings"`
	Recommendations  []string `json:"recommendations"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

// FPIndicator is one signed contribution to an FPScore.
type FPIndicator struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
	Source      string  `json:"source"`
}

// FPScore is the deterministic false-positive likelihood assessment.
type FPScore struct {
	Score                 float64       `json:"score"`
	Confidence            float64       `json:"confidence"`
	Indicators            []FPIndicator `json:"indicators"`
	HistoricalFPRate      *float64      `json:"historical_fp_rate,omitempty"`
	SimilarResolvedAsFP   int           `json:"similar_resolved_as_fp"`
	SimilarResolvedAsReal int           `json:"similar_resolved_as_real"`
	Recommendation        string        `json:"recommendation"`
	Explanation           string        `json:"explanation"`
}

// ResponseAction is a single recommended remediation step.
type ResponseAction struct {
	ActionType       string                 `json:"action_type"`
	Urgency          string                 `json:"urgency"`
	Target           string                 `json:"target"`
	Reason           string                 `json:"reason"`
	Confidence       float64                `json:"confidence"`
	AutoExecutable   bool                   `json:"auto_executable"`
	RequiresApproval bool                   `json:"requires_approval"`
	EstimatedImpact  string                 `json:"estimated_impact"`
	RollbackPossible bool                   `json:"rollback_possible"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
}

// ResponsePlan bundles the recommended actions and their rationale.
type ResponsePlan struct {
	PrimaryAction            ResponseAction   `json:"primary_action"`
	SecondaryActions         []ResponseAction `json:"secondary_actions,omitempty"`
	EscalationPath           []string         `json:"escalation_path,omitempty"`
	SLAMinutes               int              `json:"sla_minutes"`
	AutoEscalateAfterMinutes int              `json:"auto_escalate_after_minutes"`
	Notes                    string           `json:"notes,omitempty"`
}

// TimelineEvent is one point on the reconstructed incident timeline.
type TimelineEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   string                 `json:"event_type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Severity    string                 `json:"severity,omitempty"`
}

// InvestigationTimeline is the ordered reconstruction of events leading to
// and following the signal.
type InvestigationTimeline struct {
	Events     []TimelineEvent `json:"events"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	DurationMS int64           `json:"duration_ms"`
}

// EnhancedAnalysisRecord is the final, persisted, published output of one
// coordinator run: a signal plus everything every component learned about it.
type EnhancedAnalysisRecord struct {
	SchemaVersion         string                  `json:"schema_version"`
	ID                    string                  `json:"id"`
	Signal                ThreatSignal            `json:"signal"`
	Findings              map[string]AgentFinding `json:"findings"`
	FPScore               FPScore                 `json:"fp_score"`
	ResponsePlan          ResponsePlan            `json:"response_plan"`
	Timeline              InvestigationTimeline   `json:"timeline"`
	Severity              string                  `json:"severity"`
	ExecutiveSummary      string                  `json:"executive_summary"`
	CustomerNarrative     string                  `json:"customer_narrative"`
	MitreTactics          []string                `json:"mitre_tactics"`
	MitreTechniques       []string                `json:"mitre_techniques"`
	RequiresHumanReview   bool                    `json:"requires_human_review"`
	ReviewReason          string                  `json:"review_reason,omitempty"`
	TotalProcessingTimeMS int64                   `json:"total_processing_time_ms"`
	AnalyzedAt            time.Time               `json:"analyzed_at"`
}

// IsSentinelFinding reports whether f is the fixed-shape finding emitted
// when an analyst fails or times out: confidence 0 with the "Error" marker
// key finding, per the analyst error-handling contract.
func IsSentinelFinding(f AgentFinding) bool {
	if f.Confidence != 0 {
		return false
	}
	for _, k := range f.KeyFindings {
		if k == "Error" {
			return true
		}
	}
	return false
}

// CustomerConfig is tenant-specific response policy used by ResponseEngine.
type CustomerConfig struct {
	CustomerName        string   `json:"customer_name"`
	AutoBlockEnabled    bool     `json:"auto_block_enabled"`
	EscalationContacts  []string `json:"escalation_contacts,omitempty"`
}

// SimilarIncident is one historical record used by the historical analyst
// and FPAnalyzer to assess whether a signal resembles known resolutions.
type SimilarIncident struct {
	ThreatType   string `json:"threat_type"`
	CustomerName string `json:"customer_name"`
	ResolvedAsFP bool   `json:"resolved_as_fp"`
	Summary      string `json:"summary"`
}
