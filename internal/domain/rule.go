package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bucket names the knowledge source a rule belongs to. Every rule lives in exactly one bucket.
type Bucket string

const (
	BucketRules     Bucket = "rules"
	BucketGuest     Bucket = "guest_rules"
	BucketLocations Bucket = "location_rules"
	BucketVisuals   Bucket = "visual_rules"
	BucketFAQs      Bucket = "faq_rules"
)

// Buckets lists every bucket in corpus order.
var Buckets = []Bucket{BucketRules, BucketGuest, BucketLocations, BucketVisuals, BucketFAQs}

// Valid reports whether b is a known bucket.
func (b Bucket) Valid() bool {
	for _, k := range Buckets {
		if k == b {
			return true
		}
	}
	return false
}

// DefaultUserType is the visibility assumed for rules of this bucket that carry none.
func (b Bucket) DefaultUserType() UserType {
	switch b {
	case BucketRules:
		return UserTypeUser
	case BucketGuest:
		return UserTypeGuest
	default:
		return UserTypeBoth
	}
}

// DefaultCategory is the fixed category of buckets that have one.
func (b Bucket) DefaultCategory() string {
	switch b {
	case BucketLocations:
		return CategoryLocations
	case BucketVisuals:
		return CategoryVisuals
	case BucketFAQs:
		return CategoryFAQs
	default:
		return ""
	}
}

const (
	CategoryLocations = "locations"
	CategoryVisuals   = "visuals"
	CategoryFAQs      = "faqs"
)

// UserType controls which chat roles may see a rule.
type UserType string

const (
	UserTypeUser  UserType = "user"
	UserTypeGuest UserType = "guest"
	UserTypeBoth  UserType = "both"
)

// ParseUserType maps free-form input onto a UserType, defaulting to def.
func ParseUserType(s string, def UserType) UserType {
	switch UserType(strings.ToLower(strings.TrimSpace(s))) {
	case UserTypeUser:
		return UserTypeUser
	case UserTypeGuest:
		return UserTypeGuest
	case UserTypeBoth:
		return UserTypeBoth
	default:
		return def
	}
}

// Role is the caller's chat role.
type Role string

const (
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// VisibleTo applies the role filter: guests never see user-only rules and
// everyone else never sees guest-only rules.
func (u UserType) VisibleTo(role Role) bool {
	if role == RoleGuest {
		return u != UserTypeUser
	}
	return u != UserTypeGuest
}

// QuestionSet is the canonical flat list of question variants of a rule.
// It decodes from a single string, a flat list, or a nested list of strings;
// anything else inside the list is dropped.
type QuestionSet []string

// NewQuestionSet flattens and trims the given variants, dropping blanks.
func NewQuestionSet(questions ...string) QuestionSet {
	out := make(QuestionSet, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *QuestionSet) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode questions: %w", err)
	}
	*q = flattenQuestions(raw)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (q *QuestionSet) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decode questions: %w", err)
	}
	*q = flattenQuestions(raw)
	return nil
}

func flattenQuestions(raw any) QuestionSet {
	out := QuestionSet{}
	var walk func(v any, depth int)
	walk = func(v any, depth int) {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, s)
			}
		case []any:
			// flat or one level of nesting
			if depth > 1 {
				return
			}
			for _, item := range t {
				walk(item, depth+1)
			}
		}
	}
	walk(raw, 0)
	return out
}

// Rule maps a question set to a response, with visibility and category metadata.
type Rule struct {
	ID          string      `json:"id" yaml:"id"`
	Bucket      Bucket      `json:"bucket" yaml:"bucket"`
	Category    string      `json:"category" yaml:"category"`
	Questions   QuestionSet `json:"questions" yaml:"questions"`
	Response    string      `json:"response,omitempty" yaml:"response,omitempty"`
	Answer      string      `json:"answer,omitempty" yaml:"answer,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	UserType    UserType    `json:"user_type" yaml:"user_type"`
	Keywords    []string    `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	MediaURLs   []string    `json:"urls,omitempty" yaml:"urls,omitempty"`
}

type ruleFields Rule

// ruleWire accepts the singular question key some rule sources use.
type ruleWire struct {
	ruleFields `yaml:",inline"`
	Question   QuestionSet `json:"question" yaml:"question"`
}

func (w ruleWire) rule() Rule {
	r := Rule(w.ruleFields)
	if len(r.Questions) == 0 {
		r.Questions = w.Question
	}
	return r
}

// UnmarshalJSON implements json.Unmarshaler, folding "question" into Questions
// when "questions" is absent or empty.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var w ruleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = w.rule()
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	var w ruleWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	*r = w.rule()
	return nil
}

// Normalize fills bucket defaults and canonicalises the question set.
func (r Rule) Normalize() Rule {
	r.Questions = NewQuestionSet(r.Questions...)
	if r.Bucket.DefaultCategory() != "" {
		r.Category = r.Bucket.DefaultCategory()
	}
	r.UserType = ParseUserType(string(r.UserType), r.Bucket.DefaultUserType())
	return r
}

// Validate checks the fields every store requires.
func (r Rule) Validate() error {
	if !r.Bucket.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownBucket, r.Bucket)
	}
	if len(r.Questions) == 0 {
		return fmt.Errorf("%w: rule has no questions", ErrInvalidRule)
	}
	if r.Text() == "" && len(r.MediaURLs) == 0 {
		return fmt.Errorf("%w: rule has no response", ErrInvalidRule)
	}
	return nil
}

// Text returns the reply text of the rule, preferring response, then answer, then description.
func (r Rule) Text() string {
	switch {
	case r.Response != "":
		return r.Response
	case r.Answer != "":
		return r.Answer
	default:
		return r.Description
	}
}

// EmailEntry is one row of the email directory.
type EmailEntry struct {
	ID     int64  `json:"id" yaml:"id"`
	School string `json:"school" yaml:"school"`
	Email  string `json:"email" yaml:"email"`
}

// Exchange is one turn of a conversation.
type Exchange struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}
