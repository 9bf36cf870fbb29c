package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"doran/internal/domain"
	"doran/internal/media"
)

// Seed is the YAML bootstrap document: one list per bucket plus the email directory.
type Seed struct {
	Rules         []domain.Rule       `yaml:"rules"`
	GuestRules    []domain.Rule       `yaml:"guest_rules"`
	LocationRules []domain.Rule       `yaml:"location_rules"`
	VisualRules   []domain.Rule       `yaml:"visual_rules"`
	FAQRules      []domain.Rule       `yaml:"faq_rules"`
	Emails        []domain.EmailEntry `yaml:"emails"`
}

// LoadSeed reads a seed document from path.
func LoadSeed(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &s, nil
}

// Buckets returns the seed rules keyed by bucket, with each rule's bucket set.
func (s *Seed) Buckets() map[domain.Bucket][]domain.Rule {
	out := map[domain.Bucket][]domain.Rule{
		domain.BucketRules:     s.Rules,
		domain.BucketGuest:     s.GuestRules,
		domain.BucketLocations: s.LocationRules,
		domain.BucketVisuals:   s.VisualRules,
		domain.BucketFAQs:      s.FAQRules,
	}
	for b, rules := range out {
		tagged := make([]domain.Rule, len(rules))
		for i, r := range rules {
			r.Bucket = b
			tagged[i] = r
		}
		out[b] = tagged
	}
	return out
}

// Apply writes the seed into st in one AddRules call, rendering media responses
// with rd, then adds the email directory. It returns the number of rules written.
func (s *Seed) Apply(ctx context.Context, st Store, rd *media.Renderer) (int, error) {
	if rd == nil {
		rd = media.NewRenderer("")
	}
	var all []domain.Rule
	buckets := s.Buckets()
	for _, b := range domain.Buckets {
		for _, r := range buckets[b] {
			all = append(all, rd.RenderRule(r))
		}
	}
	if len(all) > 0 {
		if err := st.AddRules(ctx, all...); err != nil {
			return 0, fmt.Errorf("seed rules: %w", err)
		}
	}
	for _, e := range s.Emails {
		if _, err := st.AddEmail(ctx, e.School, e.Email); err != nil {
			return len(all), fmt.Errorf("seed email %s: %w", e.School, err)
		}
	}
	return len(all), nil
}

// IsEmpty reports whether st holds no rules in any bucket.
func IsEmpty(ctx context.Context, st domain.RuleSource) (bool, error) {
	for _, b := range domain.Buckets {
		rules, err := st.ListRules(ctx, b)
		if err != nil {
			return false, err
		}
		if len(rules) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// LoadAll reads every bucket of src.
func LoadAll(ctx context.Context, src domain.RuleSource) (map[domain.Bucket][]domain.Rule, error) {
	out := make(map[domain.Bucket][]domain.Rule, len(domain.Buckets))
	for _, b := range domain.Buckets {
		rules, err := src.ListRules(ctx, b)
		if err != nil {
			return nil, err
		}
		out[b] = rules
	}
	return out, nil
}
