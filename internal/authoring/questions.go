// Package authoring turns loosely authored location and visual records into
// rules with usable question sets. It runs offline over seed data only.
package authoring

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"doran/internal/domain"
)

var placeName = regexp.MustCompile(`(?i)([\p{L}\p{N}_]+)\s+(room|office|building)`)

// placeholderQuestions is the templated set left behind when a visual had no subject.
var placeholderQuestions = []string{
	"What is ?",
	"Can you show me ?",
	"Where can I find information about ?",
	"Tell me about .",
	"What are the details on ?",
}

var personTitles = []string{
	"research coordinator", "program head", "director", "adviser",
	"professor", "instructor", "lecturer", "aide",
}

// LocationQuestions derives three to five questions for a place from its
// description, falling back to the first keyword for the place name.
func LocationQuestions(keywords []string, description string) []string {
	name := locationName(keywords, description)
	lower := strings.ToLower(description)

	var qs []string
	switch {
	case strings.Contains(lower, "room"):
		qs = []string{
			fmt.Sprintf("Where is the %s room?", name),
			fmt.Sprintf("How do I get to %s room?", name),
			fmt.Sprintf("What is the location of %s room?", name),
			fmt.Sprintf("Can you show me %s room?", name),
			fmt.Sprintf("Where can I find %s room?", name),
		}
	case strings.Contains(lower, "office"):
		qs = []string{
			fmt.Sprintf("Where is the %s office?", name),
			fmt.Sprintf("How do I find %s office?", name),
			fmt.Sprintf("What is the location of %s office?", name),
			fmt.Sprintf("Where can I locate %s office?", name),
		}
	case strings.Contains(lower, "building"):
		qs = []string{
			fmt.Sprintf("Where is the %s building?", name),
			fmt.Sprintf("How do I get to %s building?", name),
			fmt.Sprintf("What is the location of %s building?", name),
		}
	default:
		qs = []string{
			fmt.Sprintf("Where is %s?", name),
			fmt.Sprintf("How do I find %s?", name),
			fmt.Sprintf("What is the location of %s?", name),
			fmt.Sprintf("Can you show me %s?", name),
		}
	}
	return qs
}

func locationName(keywords []string, description string) string {
	if m := placeName.FindStringSubmatch(description); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, w := range strings.Fields(description) {
		r := []rune(w)
		if unicode.IsUpper(r[0]) && strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			return w
		}
	}
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			return k
		}
	}
	return "this location"
}

// VisualQuestions builds the generic question set for a visual from its keywords.
func VisualQuestions(keywords []string) []string {
	subject := strings.ToLower(strings.Join(keywords, " "))
	return []string{
		fmt.Sprintf("What is %s?", subject),
		fmt.Sprintf("Can you show me %s?", subject),
		fmt.Sprintf("Where can I find information about %s?", subject),
		fmt.Sprintf("Tell me about %s.", subject),
		fmt.Sprintf("What are the details on %s?", subject),
	}
}

// IsPlaceholder reports whether qs is the subject-less templated set.
func IsPlaceholder(qs []string) bool {
	if len(qs) != len(placeholderQuestions) {
		return false
	}
	for i, q := range qs {
		if strings.TrimSpace(q) != placeholderQuestions[i] {
			return false
		}
	}
	return true
}

// ExpandVisual replaces a placeholder question set with entity-specific
// questions guessed from the description: uniforms, councils, ICTzen roles
// and named staff.
func ExpandVisual(description string) []string {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "uniform"):
		school := title(strings.TrimSpace(strings.SplitN(desc, "uniform", 2)[0]))
		return []string{
			fmt.Sprintf("What is the uniform for %s?", school),
			"Can you show me the uniform?",
			"Tell me about the uniform.",
			"What are the details on the uniform?",
			"Where can I find information about the uniform?",
		}
	case strings.Contains(desc, "council"):
		council := "Student Council"
		if strings.Contains(desc, "ict") {
			council = "ICT Student Council"
		}
		return []string{
			fmt.Sprintf("Who are the %s members?", council),
			fmt.Sprintf("Can you show me the %s?", council),
			fmt.Sprintf("Tell me about the %s.", council),
			fmt.Sprintf("What are the details on the %s?", council),
			fmt.Sprintf("Where can I find information about the %s?", council),
		}
	case strings.Contains(desc, "ictzen"):
		role := "ICTzen staff"
		if _, after, ok := strings.Cut(desc, "is the"); ok {
			before, _, _ := strings.Cut(after, "a.y")
			role = title(strings.TrimSpace(before))
		}
		return personQuestions(role, true)
	case containsAny(desc, personTitles):
		name, _, found := strings.Cut(description, ",")
		if !found {
			name, _, _ = strings.Cut(description, " is ")
		}
		return personQuestions(strings.TrimSpace(name), false)
	default:
		return []string{
			"What is this?",
			"Can you show me this?",
			"Tell me about this.",
			"What are the details on this?",
			"Where can I find information about this?",
		}
	}
}

func personQuestions(who string, withArticle bool) []string {
	if withArticle {
		who = "the " + who
	}
	return []string{
		fmt.Sprintf("Who is %s?", who),
		fmt.Sprintf("Can you show me %s?", who),
		fmt.Sprintf("Tell me about %s.", who),
		fmt.Sprintf("What is %s's role?", who),
		fmt.Sprintf("Where can I find information about %s?", who),
	}
}

// title upper-cases the first letter of each word. Casers are stateful, so one per call.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// Normalize fills in questions for location and visual rules that lack usable
// ones. It returns the rewritten rules and how many were changed; rules of
// other buckets pass through.
func Normalize(rules []domain.Rule) ([]domain.Rule, int) {
	out := make([]domain.Rule, len(rules))
	changed := 0
	for i, r := range rules {
		switch r.Bucket {
		case domain.BucketLocations:
			if len(r.Questions) == 0 {
				r.Questions = domain.NewQuestionSet(LocationQuestions(r.Keywords, r.Description)...)
				changed++
			}
		case domain.BucketVisuals:
			switch {
			case IsPlaceholder(r.Questions):
				r.Questions = domain.NewQuestionSet(ExpandVisual(r.Description)...)
				changed++
			case len(r.Questions) == 0 && len(r.Keywords) > 0:
				r.Questions = domain.NewQuestionSet(VisualQuestions(r.Keywords)...)
				changed++
			}
		}
		out[i] = r
	}
	return out, changed
}
