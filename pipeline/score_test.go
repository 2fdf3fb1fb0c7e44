package pipeline

import (
	"testing"

	"pagelens/api/models"
)

func TestOverallScoreIsRoundedMean(t *testing.T) {
	tests := []struct {
		in   models.Scores
		want int
	}{
		{models.Scores{Clarity: 80, Value: 80, Proof: 80, Design: 80, Flow: 80}, 80},
		{models.Scores{Clarity: 81, Value: 72, Proof: 64, Design: 90, Flow: 77}, 77},
		{models.Scores{Clarity: 70, Value: 70, Proof: 70, Design: 70, Flow: 72}, 70},
		{models.Scores{Clarity: 70, Value: 70, Proof: 70, Design: 71, Flow: 71}, 70},
		{models.Scores{Clarity: 70, Value: 70, Proof: 71, Design: 71, Flow: 71}, 71},
		{models.Scores{}, 0},
	}
	for _, tt := range tests {
		if got := OverallScore(tt.in); got != tt.want {
			t.Errorf("OverallScore(%+v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAggregateScoresEmpty(t *testing.T) {
	if got := AggregateScores(nil); got != (models.Scores{}) {
		t.Fatalf("AggregateScores(nil) = %+v", got)
	}
}

func TestParseAnswerStripsCodeFence(t *testing.T) {
	ans, err := parseAnswer("```json\n{\"summary\":\"x\",\"pages\":[{\"url\":\"https://a.example/\"}]}\n```")
	if err != nil {
		t.Fatalf("parseAnswer: %v", err)
	}
	got := ans.assign([]string{"https://a.example", "https://b.example", "https://c.example", "https://other.example"})
	if got[0] == nil {
		t.Fatal("trailing slash should not prevent a url match")
	}
	if got[3] != nil {
		t.Fatal("unexpected match for unknown page")
	}
}

func TestAssignUsesEachEntryOnce(t *testing.T) {
	ans := &llmAnswer{Pages: []llmPage{
		{URL: "https://shop.example/checkout", Feedback: "checkout"},
		{URL: "https://shop.example/landing-v2", Feedback: "landing"},
	}}
	// The model reordered its answer and mangled the first URL.
	got := ans.assign([]string{"https://shop.example/landing", "https://shop.example/checkout"})
	if got[1] == nil || got[1].Feedback != "checkout" {
		t.Fatalf("checkout page got %+v", got[1])
	}
	if got[0] != nil {
		t.Fatalf("landing page reused an entry claimed by another page: %+v", got[0])
	}
}
