package reasoning

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMockClient_Deterministic(t *testing.T) {
	client := &MockClient{AgentName: "historical"}
	first, err := client.GenerateResponse(context.Background(), "signal prompt", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := client.GenerateResponse(context.Background(), "signal prompt", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Content != second.Content {
		t.Fatalf("MockClient must be deterministic for identical (agent, prompt): %q vs %q", first.Content, second.Content)
	}
}

func TestMockClient_DifferentPromptsDiffer(t *testing.T) {
	client := &MockClient{AgentName: "historical"}
	a, _ := client.GenerateResponse(context.Background(), "prompt a", Options{})
	b, _ := client.GenerateResponse(context.Background(), "prompt b", Options{})
	if a.Content == b.Content {
		t.Fatalf("expected different prompts to produce different mock content")
	}
}

func TestMockClient_FixedConfidence(t *testing.T) {
	client := &MockClient{AgentName: "priority"}
	resp, err := client.GenerateResponse(context.Background(), "p", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed mockFinding
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		t.Fatalf("mock content must be valid JSON: %v", err)
	}
	if parsed.Confidence != 0.85 {
		t.Fatalf("expected fixed 0.85 confidence, got %v", parsed.Confidence)
	}
}

func TestMockClient_ContentIsValidJSON(t *testing.T) {
	client := &MockClient{AgentName: "devops"}
	resp, err := client.GenerateResponse(context.Background(), "some prompt", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed mockFinding
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		t.Fatalf("MockClient content must unmarshal as the analyst package expects: %v", err)
	}
	if len(parsed.KeyFindings) == 0 || len(parsed.Recommendations) == 0 {
		t.Fatalf("expected non-empty key findings and recommendations, got %+v", parsed)
	}
}
