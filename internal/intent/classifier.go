// Package intent maps raw chat input onto a coarse topical label and the
// similarity threshold that label demands.
package intent

import (
	"fmt"
	"strings"
)

// Intent is a coarse topical label.
type Intent string

const (
	FAQ      Intent = "faq"
	Contact  Intent = "contact"
	Location Intent = "location"
	Info     Intent = "info"
	Unknown  Intent = "unknown"
)

// All lists every intent in classification priority order.
var All = []Intent{FAQ, Contact, Location, Info, Unknown}

type rule struct {
	intent Intent
	terms  []string
}

// priority order: first match wins
var rules = []rule{
	{FAQ, []string{
		"faq", "enrollment", "enrolment", "enroll", "admission", "tuition", "scholarship", "deadline",
		"requirement", "apply", "application", "fee", "course", "curriculum", "grading",
	}},
	{Contact, []string{"email", "e-mail", "gmail", "contact", "phone", "call", "reach", "number"}},
	{Location, []string{"where", "location", "locate", "room", "building", "floor", "map", "direction"}},
	{Info, []string{
		"tell me about", "who is", "who are", "what is", "what are", "how to", "how do", "what does",
		"show me", "information",
	}},
}

// Classify returns the first intent whose terms occur in text.
func Classify(text string) Intent {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, term := range r.terms {
			if strings.Contains(lower, term) {
				return r.intent
			}
		}
	}
	return Unknown
}

// MatchesCategory reports whether a rule category counts as matching the intent.
// Location intent also matches the locations and visuals categories.
func (i Intent) MatchesCategory(category string) bool {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return false
	}
	if c == string(i) {
		return true
	}
	return i == Location && (c == "locations" || c == "visuals")
}

// Thresholds is the per-intent minimum similarity policy table.
type Thresholds map[Intent]float64

const (
	ProfileLenient = "lenient"
	ProfileStrict  = "strict"
)

// Profile returns a copy of a named reference threshold set.
func Profile(name string) (Thresholds, error) {
	switch strings.ToLower(name) {
	case "", ProfileLenient:
		return Thresholds{Location: 0.25, Contact: 0.30, FAQ: 0.35, Info: 0.30, Unknown: 0.40}, nil
	case ProfileStrict:
		return Thresholds{Location: 0.70, Contact: 0.75, FAQ: 0.80, Info: 0.75, Unknown: 0.85}, nil
	default:
		return nil, fmt.Errorf("unknown threshold profile %q", name)
	}
}

// For returns the threshold of intent i, falling back to the unknown threshold.
func (t Thresholds) For(i Intent) float64 {
	if v, ok := t[i]; ok {
		return v
	}
	return t[Unknown]
}

// Merge returns a copy of t with the given overrides applied.
func (t Thresholds) Merge(overrides map[string]float64) (Thresholds, error) {
	out := make(Thresholds, len(t))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		i := Intent(strings.ToLower(k))
		if !i.valid() {
			return nil, fmt.Errorf("unknown intent %q in threshold overrides", k)
		}
		out[i] = v
	}
	return out, nil
}

// Validate checks every intent has a threshold within [0, 1].
func (t Thresholds) Validate() error {
	for _, i := range All {
		v, ok := t[i]
		if !ok {
			return fmt.Errorf("missing threshold for intent %q", i)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold for %q out of range: %v", i, v)
		}
	}
	return nil
}

func (i Intent) valid() bool {
	for _, k := range All {
		if k == i {
			return true
		}
	}
	return false
}
