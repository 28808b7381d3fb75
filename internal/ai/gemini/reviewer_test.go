package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/ai"
)

type stubGenerator struct {
	response    string
	err         error
	lastSystem  string
	lastMessage string
}

func (s *stubGenerator) GenerateContent(_ context.Context, system, message string) (string, error) {
	s.lastSystem = system
	s.lastMessage = message
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestReviewerReview(t *testing.T) {
	stub := &stubGenerator{response: "```json\n{\"fit\": true, \"score\": 0.7, \"reason\": \"Опыт активных продаж\"}\n```"}
	reviewer := NewReviewer(stub, "Менеджер по продажам B2B", 0.5, 0, zap.NewNop())

	assessment, err := reviewer.Review(context.Background(), ai.Candidate{
		Document:    "ivanov.pdf",
		Position:    "Менеджер по продажам",
		Probability: 0.55,
		Text:        "Опыт работы: менеджер по продажам, холодные звонки",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !assessment.Fit || assessment.Score != 0.7 || assessment.Reason != "Опыт активных продаж" {
		t.Fatalf("unexpected assessment: %+v", assessment)
	}
	if assessment.Raw != stub.response {
		t.Fatalf("expected raw response to be kept")
	}

	if !strings.Contains(stub.lastSystem, "Менеджер по продажам B2B") || strings.Contains(stub.lastSystem, "{{VACANCY}}") {
		t.Fatalf("expected vacancy in system prompt, got %q", stub.lastSystem)
	}
	for _, want := range []string{"Document: ivanov.pdf", "Desired position: Менеджер по продажам", "Model probability: 0.55", "холодные звонки"} {
		if !strings.Contains(stub.lastMessage, want) {
			t.Fatalf("expected %q in message, got %q", want, stub.lastMessage)
		}
	}
}

func TestReviewerScoreThreshold(t *testing.T) {
	stub := &stubGenerator{response: `{"fit": "yes", "score": "0,3", "reason": "мало опыта"}`}
	reviewer := NewReviewer(stub, "", 0.5, 0, zap.NewNop())

	assessment, err := reviewer.Review(context.Background(), ai.Candidate{Document: "a", Text: "text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if assessment.Fit {
		t.Fatalf("expected fit to be dropped below the minimum score")
	}
	if assessment.Score != 0.3 {
		t.Fatalf("expected score 0.3, got %v", assessment.Score)
	}
	if !strings.Contains(stub.lastSystem, noVacancy) {
		t.Fatalf("expected default vacancy placeholder")
	}
}

func TestReviewerErrors(t *testing.T) {
	reviewer := NewReviewer(&stubGenerator{}, "", 0, 0, nil)
	if _, err := reviewer.Review(context.Background(), ai.Candidate{Document: "empty"}); err == nil {
		t.Fatalf("expected error for empty candidate text")
	}

	failing := &stubGenerator{err: errors.New("boom")}
	reviewer = NewReviewer(failing, "", 0, 0, nil)
	if _, err := reviewer.Review(context.Background(), ai.Candidate{Document: "a", Text: "x"}); err == nil {
		t.Fatalf("expected generator error to be returned")
	}

	garbage := &stubGenerator{response: "not json"}
	reviewer = NewReviewer(garbage, "", 0, 0, nil)
	if _, err := reviewer.Review(context.Background(), ai.Candidate{Document: "a", Text: "x"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseResponseCoercion(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		fit   bool
		score float64
	}{
		{name: "plain", raw: `{"fit": true, "score": 0.9}`, fit: true, score: 0.9},
		{name: "numeric fit", raw: `{"fit": 0, "score": 1}`, fit: false, score: 1},
		{name: "missing score", raw: `{"fit": "да"}`, fit: true, score: 0},
		{name: "bad score", raw: `{"fit": false, "score": "n/a"}`, fit: false, score: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponse(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Fit != tt.fit || got.Score != tt.score {
				t.Fatalf("expected fit=%v score=%v, got %+v", tt.fit, tt.score, got)
			}
		})
	}
}
