package domain

// Page sections an assistant reply may point the visitor at.
const (
	SectionAbout        = "about"
	SectionSubsidiaries = "subsidiaries"
	SectionContact      = "contact"
	SectionSchedule     = "schedule"
	SectionDomains      = "domains"
)

// IntentFallback names the route taken when no rule matches.
const IntentFallback = "fallback"

// IntentRule maps a set of keywords to a canned reply.
// Keywords are matched as case-insensitive substrings of the input.
type IntentRule struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Response string   `json:"response" yaml:"response"`
	Target   string   `json:"target,omitempty" yaml:"target,omitempty"`
}

// Route is the result of classifying one input.
type Route struct {
	Intent   string `json:"intent"`
	Response string `json:"response"`
	Target   string `json:"target,omitempty"`
}

func (r Route) HasTarget() bool {
	return r.Target != ""
}

// IntentRouter classifies free text into a Route. Implementations must be
// deterministic and free of side effects.
type IntentRouter interface {
	Route(text string) Route
}
