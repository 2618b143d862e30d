package diagnosis

import "strings"

type Specialty string

const (
	Dermatologist   Specialty = "dermatologist"
	Pulmonologist   Specialty = "pulmonologist"
	Endocrinologist Specialty = "endocrinologist"
	Physician       Specialty = "physician"
)

// Rule maps a set of label keywords to a specialty.
type Rule struct {
	Specialty Specialty `yaml:"specialty" json:"specialty"`
	Keywords  []string  `yaml:"keywords" json:"keywords"`
}

// DefaultRules is evaluated top to bottom; the first rule with a keyword
// contained in the lower-cased label wins.
var DefaultRules = []Rule{
	{Specialty: Dermatologist, Keywords: []string{"dermatitis", "psoriasis", "tinea", "rash"}},
	{Specialty: Pulmonologist, Keywords: []string{"pneumonia"}},
	{Specialty: Endocrinologist, Keywords: []string{"diabetes"}},
}

// Router resolves diagnosis labels to specialties using an ordered rule list.
type Router struct {
	rules    []Rule
	fallback Specialty
}

// NewRouter builds a router over rules. A nil or empty rule list falls back
// to DefaultRules; an empty fallback means Physician.
func NewRouter(rules []Rule, fallback Specialty) *Router {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	if fallback == "" {
		fallback = Physician
	}
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		normalized = append(normalized, Rule{Specialty: r.Specialty, Keywords: kws})
	}
	return &Router{rules: normalized, fallback: fallback}
}

func (r *Router) Route(label string) Specialty {
	d := strings.ToLower(label)
	for _, rule := range r.rules {
		for _, k := range rule.Keywords {
			if strings.Contains(d, k) {
				return rule.Specialty
			}
		}
	}
	return r.fallback
}

var defaultRouter = NewRouter(DefaultRules, Physician)

// Route resolves label with the default rule table.
func Route(label string) Specialty {
	return defaultRouter.Route(label)
}
