package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitKeywords(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"gold", "silver"}, SplitKeywords("gold, silver"))
	require.Equal(t, []string{"单个"}, SplitKeywords("单个,"))
	require.Nil(t, SplitKeywords(""))
}

func TestMatchesKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		keywords []string
		mode     string
		want     bool
	}{
		{"any matches either", "gold and silver", []string{"gold", "silver"}, FilterAny, true},
		{"all matches both", "gold and silver", []string{"gold", "silver"}, FilterAll, true},
		{"any matches one", "gold", []string{"gold", "silver"}, FilterAny, true},
		{"all needs both", "gold", []string{"gold", "silver"}, FilterAll, false},
		{"any case-insensitive", "GOLD rush", []string{"gold"}, FilterAny, true},
		{"any no match", "copper", []string{"gold", "silver"}, FilterAny, false},
		{"regex match", "price is 1234 yuan", []string{`\d{4}`}, FilterRegex, true},
		{"regex no match", "no digits", []string{`\d{4}`}, FilterRegex, false},
		{"empty keywords pass", "anything", nil, FilterAll, true},
		{"unknown mode behaves as any", "gold", []string{"gold"}, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, MatchesKeywords(tc.content, tc.keywords, tc.mode, nil))
		})
	}
}

func TestMatchesKeywordsSkipsInvalidPattern(t *testing.T) {
	t.Parallel()

	// The broken pattern is skipped with a warning; the valid one still fires.
	got := MatchesKeywords("hello world", []string{"([", "world"}, FilterRegex, nil)
	require.True(t, got)

	// Only broken patterns: nothing can match, but nothing blows up either.
	require.False(t, MatchesKeywords("hello", []string{"(["}, FilterRegex, nil))
}
