package agent

import (
	"strings"

	"lumos/internal/domain"
)

// Router classifies incoming messages against an ordered rule table.
// Rules are evaluated in order and the first rule with a matching keyword
// wins; when nothing matches the fallback reply is used.
//
// A Router is immutable after construction and safe for concurrent use.
type Router struct {
	rules         []domain.IntentRule
	lowerKeywords [][]string // pre-computed lowercase keywords per rule
	fallback      string
}

func NewRouter(rules []domain.IntentRule, fallback string) *Router {
	if fallback == "" {
		fallback = DefaultFallback
	}
	owned := make([]domain.IntentRule, len(rules))
	copy(owned, rules)

	// Pre-compute lowercase keywords to avoid repeated ToLower on every message.
	lowerKW := make([][]string, len(owned))
	for i, rule := range owned {
		kws := make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			if kw = strings.ToLower(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		lowerKW[i] = kws
	}

	return &Router{
		rules:         owned,
		lowerKeywords: lowerKW,
		fallback:      fallback,
	}
}

// NewDefaultRouter returns a Router over the built-in CLUMOSS rule table.
func NewDefaultRouter() *Router {
	return NewRouter(DefaultRules(), DefaultFallback)
}

// Route returns the reply and optional navigation target for message.
func (r *Router) Route(message string) domain.Route {
	lower := strings.ToLower(message)
	for i, rule := range r.rules {
		for _, kw := range r.lowerKeywords[i] {
			if strings.Contains(lower, kw) {
				return domain.Route{
					Intent:   rule.Name,
					Response: rule.Response,
					Target:   rule.Target,
				}
			}
		}
	}
	return domain.Route{Intent: domain.IntentFallback, Response: r.fallback}
}

// Rules returns a copy of the rule table in evaluation order.
func (r *Router) Rules() []domain.IntentRule {
	out := make([]domain.IntentRule, len(r.rules))
	copy(out, r.rules)
	return out
}

func (r *Router) Fallback() string { return r.fallback }
