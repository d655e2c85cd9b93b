package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Rates "), genai.Text("unchanged.")}},
		}},
	}
	got, err := responseText(resp)
	if err != nil || got != "Rates unchanged." {
		t.Errorf("responseText = %q, %v", got, err)
	}
}

func TestResponseTextEmpty(t *testing.T) {
	for name, resp := range map[string]*genai.GenerateContentResponse{
		"nil":           nil,
		"no candidates": {},
		"blocked":       {Candidates: []*genai.Candidate{{}}},
		"no text":       {Candidates: []*genai.Candidate{{Content: &genai.Content{}}}},
	} {
		if _, err := responseText(resp); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
