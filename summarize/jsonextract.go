package summarize

import "strings"

// extractJSONArray pulls the outermost JSON array out of model output.
// Models wrap JSON in code fences or prefix it with prose despite the
// prompt; everything outside the first '[' and the last ']' is discarded.
// Returns false when no array is present at all.
func extractJSONArray(raw string) ([]byte, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(s[start : end+1]), true
}
