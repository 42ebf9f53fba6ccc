package agent

import "strings"

// searchTriggers is the curated heuristic list for questions that
// need live information. A match forces tool_choice to "required" for
// the first model call of the turn.
var searchTriggers = []string{
	"search for",
	"search the web",
	"look up",
	"look this up",
	"latest news",
	"current news",
	"what's the weather",
	"whats the weather",
	"weather today",
	"stock price",
	"price of",
	"exchange rate",
	"who won",
	"what happened today",
	"recent developments",
	"up to date",
	"as of today",
}

// NeedsSearch reports whether the user message matches the curated
// web-search trigger list. The rule is deterministic on the lowercased
// message text.
func NeedsSearch(message string) bool {
	lower := strings.ToLower(message)
	for _, trigger := range searchTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}
