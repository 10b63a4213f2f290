// Package assistant answers finalized utterances: it routes a prompt to a
// model profile, asks Gemini for a reply, and synthesizes replies to speech.
package assistant

import "strings"

// Route names the model profile a prompt is sent to.
type Route string

const (
	RouteDefault Route = "default"
	RouteQuick   Route = "quick"
	RouteNews    Route = "news"
	RoutePlan    Route = "plan"
)

var (
	planTerms  = []string{"plan", "campaign", "detailed report"}
	newsTerms  = []string{"news", "current events", "who won", "near me"}
	quickTerms = []string{"what's the weather", "set a timer"}
)

// Classify picks a route by keyword. Earlier routes win when several match.
func Classify(prompt string) Route {
	text := strings.ToLower(strings.TrimSpace(prompt))
	text = strings.ReplaceAll(text, "’", "'")

	switch {
	case containsAny(text, planTerms):
		return RoutePlan
	case containsAny(text, newsTerms):
		return RouteNews
	case containsAny(text, quickTerms), strings.HasPrefix(text, "how do you spell"):
		return RouteQuick
	default:
		return RouteDefault
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
