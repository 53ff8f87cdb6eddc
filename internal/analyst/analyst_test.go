package analyst

import (
	"context"
	"errors"
	"testing"

	"github.com/threatanalysis/coordinator/internal/domain"
	"github.com/threatanalysis/coordinator/internal/reasoning"
)

type stubClient struct {
	content string
	err     error
}

func (s *stubClient) GenerateResponse(ctx context.Context, prompt string, opts reasoning.Options) (*reasoning.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &reasoning.Response{Content: s.content}, nil
}

func TestAnalyze_ProviderErrorProducesSentinel(t *testing.T) {
	a := NewHistorical(&stubClient{err: errors.New("provider unreachable")}, nil)
	finding := a.Analyze(context.Background(), domain.ThreatSignal{ThreatType: domain.ThreatBotTraffic}, Context{})

	if !domain.IsSentinelFinding(finding) {
		t.Fatalf("expected a sentinel finding on provider error, got %+v", finding)
	}
	if finding.AgentName != domain.AnalystHistorical {
		t.Fatalf("expected sentinel to preserve the agent name, got %s", finding.AgentName)
	}
}

func TestAnalyze_UnparseableResponseProducesSentinel(t *testing.T) {
	a := NewConfig(&stubClient{content: "not json"}, nil)
	finding := a.Analyze(context.Background(), domain.ThreatSignal{ThreatType: domain.ThreatBotTraffic}, Context{})

	if !domain.IsSentinelFinding(finding) {
		t.Fatalf("expected a sentinel finding on unparseable response, got %+v", finding)
	}
}

func TestAnalyze_WellFormedResponseParsed(t *testing.T) {
	a := NewDevOps(&stubClient{content: `{"analysis":"looks fine","confidence":0.9,"key_findings":["a"],"recommendations":["b"]}`}, nil)
	finding := a.Analyze(context.Background(), domain.ThreatSignal{ThreatType: domain.ThreatBotTraffic}, Context{})

	if domain.IsSentinelFinding(finding) {
		t.Fatalf("did not expect a sentinel finding for a well-formed response")
	}
	if finding.Analysis != "looks fine" || finding.Confidence != 0.9 {
		t.Fatalf("expected parsed fields to survive, got %+v", finding)
	}
	if finding.AgentName != domain.AnalystDevOps {
		t.Fatalf("expected agent name %s, got %s", domain.AnalystDevOps, finding.AgentName)
	}
}

func TestAnalyze_NameMatchesConstructor(t *testing.T) {
	if NewHistorical(&stubClient{}, nil).Name() != domain.AnalystHistorical {
		t.Fatal("historical analyst name mismatch")
	}
	if NewConfig(&stubClient{}, nil).Name() != domain.AnalystConfig {
		t.Fatal("config analyst name mismatch")
	}
	if NewDevOps(&stubClient{}, nil).Name() != domain.AnalystDevOps {
		t.Fatal("devops analyst name mismatch")
	}
	if NewContext(&stubClient{}, nil).Name() != domain.AnalystContext {
		t.Fatal("context analyst name mismatch")
	}
	if NewPriority(&stubClient{}, nil).Name() != domain.AnalystPriority {
		t.Fatal("priority analyst name mismatch")
	}
}
