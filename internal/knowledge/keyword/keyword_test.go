package keyword

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractKeyTerms(t *testing.T) {
	s := NewScorer()

	cases := []struct {
		name  string
		query string
		want  []string
	}{
		{"stopwords and short tokens drop", "What is the venue capacity?", []string{"venue", "capacity"}},
		{"duplicates collapse", "catering menu catering options", []string{"catering", "menu", "options"}},
		{"case folds", "WiFi PASSWORD", []string{"wifi", "password"}},
		{"only stopwords", "is it the and", nil},
		{"empty query", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.ExtractKeyTerms(tc.query)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ExtractKeyTerms(%q) = %v, want %v", tc.query, got, tc.want)
			}
		})
	}
}

func TestScoreBounds(t *testing.T) {
	s := NewScorer()
	terms := s.ExtractKeyTerms("venue capacity")

	contents := []string{
		"The main venue holds two thousand people at full capacity.",
		"Capacity capacity capacity venue venue venue capacity capacity.",
		strings.Repeat("venue capacity ", 100),
	}
	for _, content := range contents {
		score := s.Score(content, terms)
		if score <= 0 || score > 1 {
			t.Errorf("Score(%.30q...) = %f, want in (0, 1]", content, score)
		}
	}
}

func TestScoreZeroWhenNoTermMatches(t *testing.T) {
	s := NewScorer()
	terms := s.ExtractKeyTerms("venue capacity")

	if score := s.Score("Parking passes are distributed at the gate.", terms); score != 0 {
		t.Errorf("Score with no matching term = %f, want 0", score)
	}
	if score := s.Score("", terms); score != 0 {
		t.Errorf("Score on empty content = %f, want 0", score)
	}
	if score := s.Score("venue capacity", nil); score != 0 {
		t.Errorf("Score with no terms = %f, want 0", score)
	}
}

func TestScoreRewardsCoverage(t *testing.T) {
	s := NewScorer()
	terms := s.ExtractKeyTerms("venue capacity catering")

	full := s.Score("The venue capacity covers catering staff too.", terms)
	partial := s.Score("The venue is downtown.", terms)
	if full <= partial {
		t.Errorf("full coverage score %f not greater than partial coverage score %f", full, partial)
	}
}

func TestScoreFrequencyIsCapped(t *testing.T) {
	s := NewScorer()
	terms := s.ExtractKeyTerms("capacity")

	stuffed := s.Score(strings.Repeat("capacity ", 500), terms)
	if stuffed > 1 {
		t.Errorf("stuffed content score = %f, want at most 1", stuffed)
	}
}

func TestScoreNormalizesByContentLength(t *testing.T) {
	s := NewScorer()
	terms := s.ExtractKeyTerms("capacity")

	focused := s.Score("The hall capacity is two thousand.", terms)
	diluted := s.Score("The hall capacity is two thousand. "+
		strings.Repeat("Unrelated filler about nothing in particular. ", 40), terms)
	if diluted >= focused {
		t.Errorf("diluted score %f not below focused score %f at equal coverage", diluted, focused)
	}
}

func TestSnippetPicksMatchingSentence(t *testing.T) {
	s := NewScorer()
	terms := s.ExtractKeyTerms("capacity")
	content := "Doors open at eight. Parking is behind the hall. " +
		"The venue capacity is two thousand. Catering arrives at noon. Cleanup starts at midnight."

	snippet := s.Snippet(content, terms, 3)
	if !strings.Contains(snippet, "capacity") {
		t.Errorf("snippet %q does not contain the matching sentence", snippet)
	}
}

func TestSnippetFallsBackToOpening(t *testing.T) {
	s := NewScorer()
	terms := s.ExtractKeyTerms("badges")
	content := "Doors open at eight. Parking is behind the hall. The stage is in hall two. Cleanup starts at midnight."

	snippet := s.Snippet(content, terms, 2)
	if !strings.HasPrefix(snippet, "Doors open at eight.") {
		t.Errorf("snippet %q should start with the opening sentence", snippet)
	}
}

func TestSnippetWithoutSentenceTerminators(t *testing.T) {
	s := NewScorer()
	content := "wifi password for staff network"

	snippet := s.Snippet(content, s.ExtractKeyTerms("wifi"), 3)
	if snippet != content {
		t.Errorf("snippet = %q, want the full content %q", snippet, content)
	}
}
