package agent

import (
	"fmt"
	"os"
	"strings"

	"lumos/internal/domain"

	"gopkg.in/yaml.v3"
)

const DefaultFallback = "Thank you for your message. How else can I assist you with CLUMOSS services? I can help you navigate to different sections or answer questions about our AI solutions."

// DefaultRules is the built-in rule table, in priority order.
func DefaultRules() []domain.IntentRule {
	return []domain.IntentRule{
		{
			Name:     "about",
			Keywords: []string{"about", "who are you"},
			Response: "CLUMOSS is at the forefront of artificial intelligence innovation. You can learn more in our About section.",
		},
		{
			Name:     "subsidiaries",
			Keywords: []string{"subsidiaries", "companies"},
			Response: "We have several specialized AI subsidiaries including MistrAI, Cura AI, Lawsuit AI, and more. Check our Subsidiaries section for details.",
			Target:   domain.SectionSubsidiaries,
		},
		{
			Name:     "contact",
			Keywords: []string{"contact", "talk to"},
			Response: "You can reach us through our Contact form. I'm taking you there now.",
			Target:   domain.SectionContact,
		},
		{
			Name:     "schedule",
			Keywords: []string{"schedule", "appointment", "meeting", "demo"},
			Response: "You can schedule a demo or consultation through our scheduling section. I'm directing you there now.",
			Target:   domain.SectionSchedule,
		},
		{
			Name:     "domains",
			Keywords: []string{"domain", "industries"},
			Response: "We serve various domains including AI Research, Medical, Legal, Defense, and more. I'll show you the details.",
			Target:   domain.SectionDomains,
		},
	}
}

// RuleSet is the on-disk form of a rule table.
//
//	fallback: "..."
//	rules:
//	  - name: schedule
//	    keywords: [schedule, demo]
//	    response: "..."
//	    target: schedule
type RuleSet struct {
	Fallback string              `yaml:"fallback"`
	Rules    []domain.IntentRule `yaml:"rules"`
}

// LoadRules reads and validates a YAML rule file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate rejects tables that would misroute: unnamed rules, rules without
// a reply, and blank keywords (a blank substring matches every input).
func (rs *RuleSet) Validate() error {
	var errs []string
	if len(rs.Rules) == 0 {
		errs = append(errs, "at least one rule is required")
	}
	seen := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("rules[%d]: name is required", i))
		} else if seen[r.Name] {
			errs = append(errs, fmt.Sprintf("rules[%d]: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = true
		if strings.TrimSpace(r.Response) == "" {
			errs = append(errs, fmt.Sprintf("rules[%d]: response is required", i))
		}
		if len(r.Keywords) == 0 {
			errs = append(errs, fmt.Sprintf("rules[%d]: at least one keyword is required", i))
		}
		for _, kw := range r.Keywords {
			if strings.TrimSpace(kw) == "" {
				errs = append(errs, fmt.Sprintf("rules[%d]: blank keyword", i))
				break
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("rule validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Router builds a Router over the rule set.
func (rs *RuleSet) Router() *Router {
	return NewRouter(rs.Rules, rs.Fallback)
}

// MarshalDefaultRules renders the built-in table as YAML, used by `lumos init`.
func MarshalDefaultRules() ([]byte, error) {
	return yaml.Marshal(RuleSet{Fallback: DefaultFallback, Rules: DefaultRules()})
}
