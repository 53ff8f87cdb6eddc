// Package fpanalysis implements the false-positive scoring algorithm: a
// pure, deterministic, I/O-free function of a signal, its findings, and a
// slice of similar historical incidents. Same inputs always produce the
// same FPScore.
package fpanalysis

import (
	"math"
	"strings"

	"github.com/threatanalysis/coordinator/internal/domain"
)

// Baselines is the per-threat-type false-positive baseline rate table.
var Baselines = map[string]float64{
	domain.ThreatBotTraffic:         0.35,
	domain.ThreatCredentialStuffing: 0.15,
	domain.ThreatAccountTakeover:    0.10,
	domain.ThreatRateLimitBreach:    0.45,
	domain.ThreatGeoAnomaly:         0.55,
	domain.ThreatDataScraping:       0.40,
	domain.ThreatBruteForce:         0.20,
}

var benignBotAgents = []string{
	"googlebot", "bingbot", "slackbot", "facebookexternalhit",
	"twitterbot", "linkedinbot", "pingdom", "uptimerobot",
}

var suspiciousAgents = []string{"python-requests", "curl", "wget", "scanner"}

var benignIPPrefixes = []string{"66.249.", "157.55.", "40.77."}
var rfc1918Prefixes = []string{"10.", "192.168."}

var benignEndpoints = map[string]bool{"/health": true, "/ping": true, "/status": true, "/ready": true}

// Analyzer computes FPScore from a signal, its analyst findings, and the
// similar-incidents slice the coordinator assembled during context assembly.
type Analyzer struct{}

func New() *Analyzer { return &Analyzer{} }

// Analyze is a pure function: no I/O, no randomness, no clock reads.
func (a *Analyzer) Analyze(signal domain.ThreatSignal, findings map[string]domain.AgentFinding, similarIncidents []domain.SimilarIncident) domain.FPScore {
	baseline := Baselines[signal.ThreatType]

	var indicators []domain.FPIndicator
	weightSum := 0.0
	add := func(weight float64, name, description, source string) {
		weightSum += weight
		indicators = append(indicators, domain.FPIndicator{Name: name, Weight: weight, Description: description, Source: source})
	}

	// User-agent indicator.
	ua := strings.ToLower(signal.UserAgent)
	if matchAny(ua, benignBotAgents) {
		add(0.4, "benign_user_agent", "user agent matches a known benign bot/crawler", "signal.user_agent")
	} else if matchAny(ua, suspiciousAgents) {
		add(-0.2, "suspicious_user_agent", "user agent matches a known scripting/scanning tool", "signal.user_agent")
	}

	// IP indicator.
	if hasPrefix(signal.SourceIP, benignIPPrefixes) {
		add(0.5, "known_benign_ip_range", "source IP falls in a known benign range", "signal.source_ip")
	} else if hasPrefix(signal.SourceIP, rfc1918Prefixes) {
		add(0.3, "private_ip_range", "source IP is within an RFC1918 private range", "signal.source_ip")
	}

	// Request volume indicator.
	window := signal.TimeWindowMinutes
	if window < 1 {
		window = 1
	}
	rpm := float64(signal.RequestCount) / float64(window)
	if rpm < 10 {
		add(0.2, "low_request_volume", "request rate is low enough to be routine traffic", "signal.request_count")
	} else if rpm > 1000 {
		add(-0.3, "high_request_volume", "request rate is high enough to be an active attack", "signal.request_count")
	}

	// Historical indicator.
	var historicalFPRate *float64
	similarFP := 0
	similarTotal := len(similarIncidents)
	customerFPCount := 0
	customerTotal := 0
	for _, inc := range similarIncidents {
		if inc.ResolvedAsFP {
			similarFP++
		}
		if inc.CustomerName == signal.CustomerName {
			customerTotal++
			if inc.ResolvedAsFP {
				customerFPCount++
			}
		}
	}
	if similarTotal > 0 {
		rate := float64(similarFP) / float64(similarTotal)
		historicalFPRate = &rate
		if rate > 0.5 {
			add(0.3, "high_historical_fp_rate", "most similar past incidents resolved as false positives", "knowledge.similar_incidents")
		} else if rate < 0.2 {
			add(-0.3, "low_historical_fp_rate", "most similar past incidents resolved as real threats", "knowledge.similar_incidents")
		}
	}
	if customerTotal >= 3 && customerFPCount >= 2 {
		add(0.25, "repeat_customer_false_positives", "this customer has repeatedly triggered false positives for similar signals", "knowledge.similar_incidents")
	}

	// Agent confidence indicator.
	if len(findings) > 0 {
		sum := 0.0
		for _, f := range findings {
			sum += f.Confidence
		}
		mean := sum / float64(len(findings))
		if mean < 0.5 {
			add(0.2, "low_agent_confidence", "analysts reported low average confidence", "findings")
		} else if mean > 0.85 {
			add(-0.2, "high_agent_confidence", "analysts reported high average confidence", "findings")
		}
	}

	// Benign endpoint indicator.
	if endpoint, ok := signal.RawData["endpoint"].(string); ok && benignEndpoints[endpoint] {
		add(0.4, "benign_endpoint", "request targeted a known health/status endpoint", "signal.raw_data.endpoint")
	}

	score := round3(clamp(baseline+0.3*weightSum, 0, 1))

	confidence := 0.5
	confidence += math.Min(0.3, 0.05*float64(len(similarIncidents)))
	confidence += math.Min(0.2, 0.04*float64(len(indicators)))
	confidence = round3(clamp(confidence, 0, 1))

	recommendation := recommendationFor(score)

	return domain.FPScore{
		Score:                 score,
		Confidence:            confidence,
		Indicators:            indicators,
		HistoricalFPRate:      historicalFPRate,
		SimilarResolvedAsFP:   similarFP,
		SimilarResolvedAsReal: similarTotal - similarFP,
		Recommendation:        recommendation,
		Explanation:           explanationFor(recommendation),
	}
}

// recommendationFor applies the §3 FPScore invariant: likely_false_positive
// iff score >= 0.7; needs_review iff 0.4 <= score < 0.7; likely_real_threat
// iff score < 0.4.
func recommendationFor(score float64) string {
	switch {
	case score >= 0.7:
		return domain.RecommendationLikelyFalsePositive
	case score >= 0.4:
		return domain.RecommendationNeedsReview
	default:
		return domain.RecommendationLikelyRealThreat
	}
}

func explanationFor(recommendation string) string {
	switch recommendation {
	case domain.RecommendationLikelyFalsePositive:
		return "Signal characteristics strongly resemble benign traffic patterns; recommend monitoring only."
	case domain.RecommendationNeedsReview:
		return "Signal characteristics are ambiguous; human review recommended before escalation."
	default:
		return "Signal characteristics strongly resemble a real threat; recommend prompt response."
	}
}

func matchAny(haystack string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(haystack, s) {
			return true
		}
	}
	return false
}

func hasPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
