// Package coordinator orchestrates the end-to-end per-signal pipeline:
// context assembly, analyst fan-out, the three sequential analyzers, and
// record synthesis and publication, under a strict latency budget with
// partial-failure tolerance.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatanalysis/coordinator/internal/analyst"
	"github.com/threatanalysis/coordinator/internal/apierrors"
	"github.com/threatanalysis/coordinator/internal/domain"
	"github.com/threatanalysis/coordinator/internal/fpanalysis"
	"github.com/threatanalysis/coordinator/internal/knowledge"
	"github.com/threatanalysis/coordinator/internal/logging"
	"github.com/threatanalysis/coordinator/internal/response"
	"github.com/threatanalysis/coordinator/internal/store"
	"github.com/threatanalysis/coordinator/internal/telemetryhook"
	"github.com/threatanalysis/coordinator/internal/timeline"
)

// mitreMapping is the static table keyed by threat_type.
var mitreMapping = map[string]struct {
	Tactics    []string
	Techniques []string
}{
	domain.ThreatBotTraffic:         {[]string{"initial_access"}, []string{"application_layer_protocol"}},
	domain.ThreatCredentialStuffing: {[]string{"credential_access"}, []string{"credential_stuffing", "brute_force"}},
	domain.ThreatAccountTakeover:    {[]string{"credential_access", "persistence"}, []string{"valid_accounts"}},
	domain.ThreatDataScraping:       {[]string{"collection"}, []string{"automated_collection", "data_from_info_repos"}},
	domain.ThreatBruteForce:         {[]string{"credential_access"}, []string{"brute_force"}},
	domain.ThreatGeoAnomaly:         {nil, nil},
	domain.ThreatRateLimitBreach:    {nil, nil},
}

// Timeouts configures the coordinator's per-analyst and total deadlines.
type Timeouts struct {
	AnalystTimeout time.Duration
	TotalTimeout   time.Duration
}

// Coordinator ties every component together. It is stateless beyond its
// injected collaborators and is safe to call concurrently for many signals.
type Coordinator struct {
	analysts   []analyst.Analyst
	knowledge  knowledge.Store
	fpAnalyzer *fpanalysis.Analyzer
	response   *response.Engine
	timeline   *timeline.Builder
	store      store.Store
	timeouts   Timeouts
	logger     logging.Logger
	telemetry  telemetryhook.Telemetry
}

// New builds a Coordinator from its collaborators.
func New(analysts []analyst.Analyst, ks knowledge.Store, fp *fpanalysis.Analyzer, re *response.Engine, tb *timeline.Builder, st store.Store, timeouts Timeouts, logger logging.Logger, telemetry telemetryhook.Telemetry) *Coordinator {
	if logger == nil {
		logger = logging.NoOp{}
	}
	if telemetry == nil {
		telemetry = telemetryhook.NoOp{}
	}
	return &Coordinator{
		analysts:   analysts,
		knowledge:  ks,
		fpAnalyzer: fp,
		response:   re,
		timeline:   tb,
		store:      st,
		timeouts:   timeouts,
		logger:     logger.With("coordinator"),
		telemetry:  telemetry,
	}
}

// Analyze runs the full eight-phase pipeline for one signal.
func (c *Coordinator) Analyze(ctx context.Context, signal domain.ThreatSignal) (domain.EnhancedAnalysisRecord, error) {
	start := time.Now()

	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if err := validateSignal(signal); err != nil {
		return domain.EnhancedAnalysisRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.totalTimeout())
	defer cancel()

	ctx, span := c.telemetry.StartSpan(ctx, "coordinator.analyze")
	defer span.End()

	ctx = logging.ContextWithBaggage(ctx, logging.TraceBaggage{TenantID: signal.CustomerID, SignalID: signal.ID})
	c.logger.InfoContext(ctx, "analysis started", logging.Fields{"threat_type": signal.ThreatType})

	// Phase 1: context assembly.
	analystCtx, similarIncidents, customerConfig, hasCustomerConfig, err := c.assembleContext(ctx, signal)
	if err != nil {
		span.SetError(err)
		return domain.EnhancedAnalysisRecord{}, err
	}

	// Phase 2: fan-out.
	findings := c.fanOutAnalysts(ctx, signal, analystCtx)

	if ctx.Err() != nil {
		err := apierrors.Wrap("coordinator.Analyze", "timeout", signal.ID, fmt.Errorf("%w: total deadline exceeded", apierrors.ErrTimeout))
		span.SetError(err)
		return domain.EnhancedAnalysisRecord{}, err
	}

	// Phase 3: severity decision.
	severity := decideSeverity(findings[domain.AnalystPriority])

	// Phase 4: FP analysis.
	fpScore := c.fpAnalyzer.Analyze(signal, findings, similarIncidents)

	// Phase 5: response planning.
	plan := c.response.GeneratePlan(signal, severity, fpScore, customerConfig, hasCustomerConfig)

	// Phase 6: timeline construction.
	investigationTimeline := c.timeline.Build(signal, findings, fpScore, plan, severity)

	// Phase 7: synthesis.
	record := c.synthesize(signal, findings, fpScore, plan, investigationTimeline, severity, start)

	// Phase 8: publish.
	if err := c.store.SaveAndPublish(ctx, record); err != nil {
		wrapped := apierrors.Wrap("coordinator.Analyze", "persistence_failure", signal.ID, fmt.Errorf("%w: %v", apierrors.ErrPersistenceFailure, err))
		span.SetError(wrapped)
		c.logger.ErrorContext(ctx, "failed to publish record", logging.Fields{"error": err.Error()})
		return domain.EnhancedAnalysisRecord{}, wrapped
	}

	c.logger.InfoContext(ctx, "analysis complete", logging.Fields{
		"severity":         severity,
		"fp_score":         fpScore.Score,
		"duration_ms":      record.TotalProcessingTimeMS,
	})
	return record, nil
}

func (c *Coordinator) totalTimeout() time.Duration {
	if c.timeouts.TotalTimeout <= 0 {
		return 5 * time.Second
	}
	return c.timeouts.TotalTimeout
}

func (c *Coordinator) analystTimeout() time.Duration {
	if c.timeouts.AnalystTimeout <= 0 {
		return 1 * time.Second
	}
	return c.timeouts.AnalystTimeout
}

func validateSignal(s domain.ThreatSignal) error {
	if !domain.ValidThreatTypes[s.ThreatType] {
		return apierrors.Wrap("coordinator.Analyze", "invalid_signal", s.ID,
			fmt.Errorf("%w: unrecognized threat_type %q", apierrors.ErrInvalidSignal, s.ThreatType))
	}
	if s.RequestCount < 0 {
		return apierrors.Wrap("coordinator.Analyze", "invalid_signal", s.ID,
			fmt.Errorf("%w: request_count must be >= 0", apierrors.ErrInvalidSignal))
	}
	if s.TimeWindowMinutes < 1 {
		return apierrors.Wrap("coordinator.Analyze", "invalid_signal", s.ID,
			fmt.Errorf("%w: time_window_minutes must be >= 1", apierrors.ErrInvalidSignal))
	}
	return nil
}

// assembleContext runs the four independent KnowledgeStore lookups
// concurrently (the priority analyst's context bag is always empty) and
// returns ContextUnavailable only when every lookup failed.
func (c *Coordinator) assembleContext(ctx context.Context, signal domain.ThreatSignal) (analyst.Context, []domain.SimilarIncident, domain.CustomerConfig, bool, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "coordinator.context_assembly")
	defer span.End()

	var (
		wg                sync.WaitGroup
		similarIncidents  []domain.SimilarIncident
		customerConfig    domain.CustomerConfig
		hasCustomerConfig bool
		infraEvents       []knowledge.InfraEvent
		intel             []knowledge.IntelRecord
		okCount           int
		mu                sync.Mutex
	)

	lookups := []func(){
		func() {
			incidents, ok := c.knowledge.SimilarIncidents(signal.ThreatType, signal.CustomerName)
			mu.Lock()
			defer mu.Unlock()
			similarIncidents = incidents
			if ok {
				okCount++
			}
		},
		func() {
			cfg, ok := c.knowledge.CustomerConfig(signal.CustomerName)
			mu.Lock()
			defer mu.Unlock()
			customerConfig = cfg
			hasCustomerConfig = ok
			if ok {
				okCount++
			}
		},
		func() {
			events, ok := c.knowledge.RecentInfraEvents(60)
			mu.Lock()
			defer mu.Unlock()
			infraEvents = events
			if ok {
				okCount++
			}
		},
		func() {
			records, ok := c.knowledge.RelevantIntel([]string{signal.CustomerName, signal.ThreatType})
			mu.Lock()
			defer mu.Unlock()
			intel = records
			if ok {
				okCount++
			}
		},
	}

	wg.Add(len(lookups))
	for _, lookup := range lookups {
		go func(l func()) {
			defer wg.Done()
			l()
		}(lookup)
	}
	wg.Wait()

	if okCount == 0 {
		err := apierrors.Wrap("coordinator.assembleContext", "context_unavailable", signal.ID,
			fmt.Errorf("%w: all knowledge store lookups failed", apierrors.ErrContextUnavailable))
		return analyst.Context{}, nil, domain.CustomerConfig{}, false, err
	}

	bag := analyst.Context{
		SimilarIncidents:  similarIncidents,
		CustomerConfig:    customerConfig,
		HasCustomerConfig: hasCustomerConfig,
		InfraEvents:       infraEvents,
		Intel:             intel,
	}
	return bag, similarIncidents, customerConfig, hasCustomerConfig, nil
}

// fanOutAnalysts invokes all five analysts concurrently, each bound by its
// own per-analyst deadline. A slow analyst's result is discarded in favor
// of a sentinel finding; the batch never waits past the per-task deadline
// for any single analyst.
func (c *Coordinator) fanOutAnalysts(ctx context.Context, signal domain.ThreatSignal, analystCtx analyst.Context) map[string]domain.AgentFinding {
	ctx, span := c.telemetry.StartSpan(ctx, "coordinator.fanout")
	defer span.End()

	type result struct {
		name    string
		finding domain.AgentFinding
	}

	findings := make(map[string]domain.AgentFinding, len(c.analysts))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, a := range c.analysts {
		wg.Add(1)
		go func(a analyst.Analyst) {
			defer wg.Done()

			taskCtx, cancel := context.WithTimeout(ctx, c.analystTimeout())
			defer cancel()

			done := make(chan result, 1)
			go func() {
				done <- result{name: a.Name(), finding: a.Analyze(taskCtx, signal, analystCtx)}
			}()

			select {
			case r := <-done:
				mu.Lock()
				findings[r.name] = r.finding
				mu.Unlock()
			case <-taskCtx.Done():
				mu.Lock()
				findings[a.Name()] = sentinelForTimeout(a.Name())
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	// Every one of the five fixed analyst names must be present even if an
	// analyst was never registered for some reason.
	for _, name := range domain.AnalystNames {
		if _, ok := findings[name]; !ok {
			findings[name] = sentinelForTimeout(name)
		}
	}
	return findings
}

func sentinelForTimeout(name string) domain.AgentFinding {
	return domain.AgentFinding{
		AgentName:       name,
		Analysis:        fmt.Sprintf("%s exceeded its analysis deadline", name),
		Confidence:      0,
		KeyFindings:     []string{"Error"},
		Recommendations: []string{"Manual review required"},
	}
}

// decideSeverity substring-matches the priority analyst's analysis text in
// fixed priority order; a sentinel priority finding always defaults to
// medium regardless of its (fixed, uninformative) analysis text.
func decideSeverity(priorityFinding domain.AgentFinding) string {
	if domain.IsSentinelFinding(priorityFinding) {
		return domain.SeverityMedium
	}
	text := strings.ToLower(priorityFinding.Analysis)
	switch {
	case strings.Contains(text, "critical"):
		return domain.SeverityCritical
	case strings.Contains(text, "high"):
		return domain.SeverityHigh
	case strings.Contains(text, "low"):
		return domain.SeverityLow
	default:
		return domain.SeverityMedium
	}
}

func (c *Coordinator) synthesize(signal domain.ThreatSignal, findings map[string]domain.AgentFinding, fp domain.FPScore, plan domain.ResponsePlan, tl domain.InvestigationTimeline, severity string, start time.Time) domain.EnhancedAnalysisRecord {
	mitre := mitreMapping[signal.ThreatType]

	var reviewReasons []string
	if severity == domain.SeverityCritical {
		reviewReasons = append(reviewReasons, "severity is critical")
	}
	if fp.Score >= 0.3 && fp.Score <= 0.7 {
		reviewReasons = append(reviewReasons, "false-positive score is in the mid-confidence band")
	}
	if plan.PrimaryAction.RequiresApproval {
		reviewReasons = append(reviewReasons, "primary response action requires approval")
	}

	record := domain.EnhancedAnalysisRecord{
		SchemaVersion:         domain.SchemaVersion,
		ID:                    signal.ID,
		Signal:                signal,
		Findings:              findings,
		FPScore:               fp,
		ResponsePlan:          plan,
		Timeline:              tl,
		Severity:              severity,
		ExecutiveSummary:      executiveSummary(signal, findings, severity, fp),
		CustomerNarrative:     customerNarrative(plan, fp),
		MitreTactics:          mitre.Tactics,
		MitreTechniques:       mitre.Techniques,
		RequiresHumanReview:   len(reviewReasons) > 0,
		ReviewReason:          strings.Join(reviewReasons, "; "),
		TotalProcessingTimeMS: time.Since(start).Milliseconds(),
		AnalyzedAt:            time.Now(),
	}
	return record
}

func executiveSummary(signal domain.ThreatSignal, findings map[string]domain.AgentFinding, severity string, fp domain.FPScore) string {
	var items []string
	for _, name := range domain.AnalystNames {
		f, ok := findings[name]
		if !ok {
			continue
		}
		n := 2
		if len(f.KeyFindings) < n {
			n = len(f.KeyFindings)
		}
		items = append(items, f.KeyFindings[:n]...)
		if len(items) >= 3 {
			break
		}
	}
	if len(items) > 3 {
		items = items[:3]
	}

	suffix := ""
	switch {
	case fp.Score >= 0.7:
		suffix = " (Likely false positive)"
	case fp.Score <= 0.3:
		suffix = " (High confidence threat)"
	}

	base := fmt.Sprintf("%s severity %s signal detected for %s", severity, signal.ThreatType, signal.CustomerName)
	if len(items) > 0 {
		base += fmt.Sprintf(": %s", strings.Join(items, "; "))
	}
	return base + "." + suffix
}

func customerNarrative(plan domain.ResponsePlan, fp domain.FPScore) string {
	if fp.Score >= 0.7 {
		return "Our security team reviewed this activity and determined it does not represent a genuine threat to your account. No action is required on your part."
	}
	return fmt.Sprintf("Our security team detected suspicious activity and has initiated a %s response. We will keep you informed as the investigation proceeds.", plan.PrimaryAction.ActionType)
}
