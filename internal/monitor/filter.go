package monitor

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Keyword filter modes.
const (
	FilterAny   = "any"
	FilterAll   = "all"
	FilterRegex = "regex"
)

// SplitKeywords parses the stored comma-separated keyword list, dropping
// empties.
func SplitKeywords(raw string) []string {
	var out []string
	for _, kw := range strings.Split(raw, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// MatchesKeywords reports whether content passes the target's keyword
// filter. An empty keyword list passes everything. Substring matching is
// case-insensitive; in regex mode an invalid pattern is skipped with a
// warning rather than failing the item.
func MatchesKeywords(content string, keywords []string, mode string, logger *zap.Logger) bool {
	if len(keywords) == 0 {
		return true
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lower := strings.ToLower(content)

	switch mode {
	case FilterAll:
		for _, kw := range keywords {
			if !strings.Contains(lower, strings.ToLower(kw)) {
				return false
			}
		}
		return true
	case FilterRegex:
		for _, pat := range keywords {
			re, err := regexp.Compile(pat)
			if err != nil {
				logger.Warn("invalid keyword pattern skipped",
					zap.String("pattern", pat), zap.Error(err))
				continue
			}
			if re.MatchString(content) {
				return true
			}
		}
		return false
	default: // FilterAny
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}
}
