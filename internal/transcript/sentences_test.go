package transcript

import (
	"testing"
)

func TestSplitSentences_Complete(t *testing.T) {
	sentences, incomplete := SplitSentences("I went for a walk. It was raining.")
	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(sentences), sentences)
	}
	if incomplete {
		t.Error("both sentences are terminated, incomplete should be false")
	}
	if sentences[0] != "I went for a walk." {
		t.Errorf("unexpected first sentence: %q", sentences[0])
	}
}

func TestSplitSentences_TrailingFragment(t *testing.T) {
	sentences, incomplete := SplitSentences("I went for a walk. Then I")
	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(sentences), sentences)
	}
	if !incomplete {
		t.Error("trailing fragment should mark incomplete")
	}
}

func TestSplitSentences_Empty(t *testing.T) {
	sentences, incomplete := SplitSentences("")
	if len(sentences) != 0 {
		t.Errorf("expected no sentences, got %v", sentences)
	}
	if !incomplete {
		t.Error("empty text should be incomplete")
	}
}

func TestNormalizeLines(t *testing.T) {
	got := NormalizeLines("First thought. Second thought.\nstill going")
	want := "First thought.\nSecond thought.\nstill going"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNormalizeLines_DropsBlankBlocks(t *testing.T) {
	got := NormalizeLines("\n\nOnly line.\n\n")
	if got != "Only line." {
		t.Errorf("expected single line, got %q", got)
	}
}

func TestEndsAtBoundary(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Done.", true},
		{"Really?", true},
		{"Wow!", true},
		{"Quoted.\"", true},
		{"trailing space. ", true},
		{"mid sentence", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := EndsAtBoundary(tt.text); got != tt.want {
			t.Errorf("EndsAtBoundary(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
