// Package analyst implements the five analyst roles that independently
// assess a threat signal. All five share one generic Base that builds a
// prompt and parses a ReasoningProvider response; they vary only in their
// system role text and which slice of assembled context they consume.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/threatanalysis/coordinator/internal/domain"
	"github.com/threatanalysis/coordinator/internal/knowledge"
	"github.com/threatanalysis/coordinator/internal/logging"
	"github.com/threatanalysis/coordinator/internal/reasoning"
)

// Context bundles every analyst's input context bag for one coordinator
// run, assembled by the coordinator from KnowledgeStore during context
// assembly (phase 1). Only the field each analyst variant reads is
// populated with meaning; the rest are simply unused by that variant.
type Context struct {
	SimilarIncidents []domain.SimilarIncident
	CustomerConfig   domain.CustomerConfig
	HasCustomerConfig bool
	InfraEvents      []knowledge.InfraEvent
	Intel            []knowledge.IntelRecord
}

// Analyst produces one independent finding for a signal. Name must be one
// of the five fixed analyst names in domain.AnalystNames.
type Analyst interface {
	Name() string
	Analyze(ctx context.Context, signal domain.ThreatSignal, analystCtx Context) domain.AgentFinding
}

type promptBuilder func(signal domain.ThreatSignal, analystCtx Context) string

// Base is the shared implementation every analyst variant configures.
type Base struct {
	name         string
	systemPrompt string
	buildPrompt  promptBuilder
	client       reasoning.Client
	logger       logging.Logger
}

func newBase(name, systemPrompt string, builder promptBuilder, client reasoning.Client, logger logging.Logger) *Base {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Base{name: name, systemPrompt: systemPrompt, buildPrompt: builder, client: client, logger: logger.With(name)}
}

func (b *Base) Name() string { return b.name }

// Analyze never returns an error: a ReasoningProvider failure or parse
// failure produces a sentinel finding instead (confidence 0, a single
// "Error" key finding, "Manual review required" as the sole
// recommendation), so one analyst's trouble never fails the coordinator's
// overall fan-out or propagates as an exception.
func (b *Base) Analyze(ctx context.Context, signal domain.ThreatSignal, analystCtx Context) domain.AgentFinding {
	start := time.Now()
	prompt := b.buildPrompt(signal, analystCtx)

	resp, err := b.client.GenerateResponse(ctx, prompt, reasoning.Options{
		SystemPrompt: b.systemPrompt,
		Temperature:  0.2,
		MaxTokens:    512,
	})
	elapsed := time.Since(start)
	if err != nil {
		b.logger.WarnContext(ctx, "analyst failed, returning sentinel finding", logging.Fields{
			"error": err.Error(),
		})
		return sentinelFinding(b.name, elapsed)
	}

	var parsed struct {
		Analysis        string   `json:"analysis"`
		Confidence      float64  `json:"confidence"`
		KeyFindings     []string `json:"key_findings"`
		Recommendations []string `json:"recommendations"`
	}
	if jsonErr := json.Unmarshal([]byte(resp.Content), &parsed); jsonErr != nil {
		b.logger.WarnContext(ctx, "analyst response unparseable, returning sentinel finding", logging.Fields{
			"error": jsonErr.Error(),
		})
		return sentinelFinding(b.name, elapsed)
	}

	return domain.AgentFinding{
		AgentName:        b.name,
		Analysis:         parsed.Analysis,
		Confidence:       parsed.Confidence,
		KeyFindings:      parsed.KeyFindings,
		Recommendations:  parsed.Recommendations,
		ProcessingTimeMS: elapsed.Milliseconds(),
	}
}

func sentinelFinding(name string, elapsed time.Duration) domain.AgentFinding {
	return domain.AgentFinding{
		AgentName:        name,
		Analysis:         fmt.Sprintf("%s did not complete in time or the provider failed; treated as inconclusive", name),
		Confidence:       0,
		KeyFindings:      []string{"Error"},
		Recommendations:  []string{"Manual review required"},
		ProcessingTimeMS: elapsed.Milliseconds(),
	}
}

// NewHistorical builds the analyst reasoning over similar past incidents
// for this threat_type and customer_name.
func NewHistorical(client reasoning.Client, logger logging.Logger) Analyst {
	return newBase(domain.AnalystHistorical,
		"You are a security analyst comparing a new signal against similar past incidents for this customer. Respond with JSON: {analysis, confidence, key_findings, recommendations}.",
		func(signal domain.ThreatSignal, c Context) string {
			return fmt.Sprintf("Signal: %s threat for customer %s (source %s, %d requests / %d min)\nSimilar incidents: %+v",
				signal.ThreatType, signal.CustomerName, signal.SourceIP, signal.RequestCount, signal.TimeWindowMinutes, c.SimilarIncidents)
		}, client, logger)
}

// NewConfig builds the analyst reasoning over the customer's configuration.
func NewConfig(client reasoning.Client, logger logging.Logger) Analyst {
	return newBase(domain.AnalystConfig,
		"You are a security analyst assessing a signal against the customer's configured security policy. Respond with JSON: {analysis, confidence, key_findings, recommendations}.",
		func(signal domain.ThreatSignal, c Context) string {
			if !c.HasCustomerConfig {
				return fmt.Sprintf("Signal: %s threat for customer %s. No customer configuration available.", signal.ThreatType, signal.CustomerName)
			}
			return fmt.Sprintf("Signal: %s threat for customer %s\nCustomer config: auto_block_enabled=%v, escalation_contacts=%v",
				signal.ThreatType, signal.CustomerName, c.CustomerConfig.AutoBlockEnabled, c.CustomerConfig.EscalationContacts)
		}, client, logger)
}

// NewDevOps builds the analyst reasoning over recent infrastructure events
// (the last 60 minutes, assembled by the coordinator).
func NewDevOps(client reasoning.Client, logger logging.Logger) Analyst {
	return newBase(domain.AnalystDevOps,
		"You are a security analyst correlating a signal with recent deployments and infrastructure changes. Respond with JSON: {analysis, confidence, key_findings, recommendations}.",
		func(signal domain.ThreatSignal, c Context) string {
			return fmt.Sprintf("Signal: %s threat (detected %s)\nRecent infra events: %+v", signal.ThreatType, signal.DetectedAt, c.InfraEvents)
		}, client, logger)
}

// NewContext builds the analyst reasoning over threat intelligence filtered
// by {customer_name, threat_type}.
func NewContext(client reasoning.Client, logger logging.Logger) Analyst {
	return newBase(domain.AnalystContext,
		"You are a security analyst correlating a signal against external threat intelligence relevant to this customer and threat type. Respond with JSON: {analysis, confidence, key_findings, recommendations}.",
		func(signal domain.ThreatSignal, c Context) string {
			return fmt.Sprintf("Signal: %s threat for customer %s\nRelevant intel: %+v", signal.ThreatType, signal.CustomerName, c.Intel)
		}, client, logger)
}

// NewPriority builds the analyst reasoning only from the signal itself,
// with deliberately no external context bag (phase 1 assigns it empty).
// Its analysis text drives severity decision: the coordinator
// substring-matches "critical"/"high"/"low" in that priority order,
// defaulting to "medium".
func NewPriority(client reasoning.Client, logger logging.Logger) Analyst {
	return newBase(domain.AnalystPriority,
		"You are a security analyst triaging a signal's urgency from its own content alone. State the severity plainly as critical, high, medium, or low. Respond with JSON: {analysis, confidence, key_findings, recommendations}.",
		func(signal domain.ThreatSignal, _ Context) string {
			return fmt.Sprintf("Signal: %s threat, %d requests over %d minutes from %s", signal.ThreatType, signal.RequestCount, signal.TimeWindowMinutes, signal.SourceIP)
		}, client, logger)
}
