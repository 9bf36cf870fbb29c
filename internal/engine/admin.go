package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"doran/internal/domain"
)

// NewRule is an admin request to add a rule. When Bucket is empty the target
// is chosen from Category (locations, visuals, faqs) and then UserType; a
// keyword rule for both roles is written to the rules and guest_rules buckets
// under one id.
type NewRule struct {
	Bucket      domain.Bucket
	Category    string
	Questions   []string
	Response    string
	Description string
	UserType    domain.UserType
	Keywords    []string
	MediaURLs   []string
}

func (n NewRule) targets() []domain.Bucket {
	if n.Bucket != "" {
		return []domain.Bucket{n.Bucket}
	}
	switch strings.ToLower(strings.TrimSpace(n.Category)) {
	case domain.CategoryLocations:
		return []domain.Bucket{domain.BucketLocations}
	case domain.CategoryVisuals:
		return []domain.Bucket{domain.BucketVisuals}
	case domain.CategoryFAQs:
		return []domain.Bucket{domain.BucketFAQs}
	}
	switch domain.ParseUserType(string(n.UserType), domain.UserTypeUser) {
	case domain.UserTypeGuest:
		return []domain.Bucket{domain.BucketGuest}
	case domain.UserTypeBoth:
		return []domain.Bucket{domain.BucketRules, domain.BucketGuest}
	default:
		return []domain.Bucket{domain.BucketRules}
	}
}

// AddRule stores the rule and rebuilds the corpus. It returns the id written
// per bucket. Nothing is written when the store rejects any copy.
func (e *Engine) AddRule(ctx context.Context, n NewRule) (map[domain.Bucket]string, error) {
	targets := n.targets()
	id := uuid.NewString()
	split := len(targets) > 1

	rules := make([]domain.Rule, 0, len(targets))
	for _, b := range targets {
		r := domain.Rule{
			ID:          id,
			Bucket:      b,
			Category:    n.Category,
			Questions:   domain.NewQuestionSet(n.Questions...),
			Description: n.Description,
			UserType:    n.UserType,
			Keywords:    n.Keywords,
			MediaURLs:   n.MediaURLs,
		}
		if b == domain.BucketFAQs {
			r.Answer = n.Response
		} else {
			r.Response = n.Response
		}
		if split {
			// each copy is visible only through its own bucket
			r.UserType = b.DefaultUserType()
		}
		rules = append(rules, e.renderer.RenderRule(r))
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.rules.AddRules(ctx, rules...); err != nil {
		return nil, fmt.Errorf("add rule: %w", err)
	}
	e.rebuildLocked(ctx)

	out := make(map[domain.Bucket]string, len(targets))
	for _, b := range targets {
		out[b] = id
	}
	e.logger.Info().Str("id", id).Int("buckets", len(targets)).Msg("rule added")
	return out, nil
}

// RulePatch lists the fields an edit changes; nil fields are kept.
type RulePatch struct {
	Category    *string
	Questions   []string
	Response    *string
	Description *string
	UserType    *domain.UserType
	Keywords    []string
	MediaURLs   []string
}

func (p RulePatch) apply(r domain.Rule) domain.Rule {
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Questions != nil {
		r.Questions = domain.NewQuestionSet(p.Questions...)
	}
	if p.Response != nil {
		if r.Bucket == domain.BucketFAQs {
			r.Answer = *p.Response
		} else {
			r.Response = *p.Response
		}
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.UserType != nil {
		r.UserType = *p.UserType
	}
	if p.Keywords != nil {
		r.Keywords = p.Keywords
	}
	if p.MediaURLs != nil {
		r.MediaURLs = p.MediaURLs
	}
	return r
}

// EditRule applies patch to the rule with id. An empty bucket searches every
// bucket and edits every copy with that id, so both copies of a rule added for
// both roles stay in step. It returns the first edited copy.
func (e *Engine) EditRule(ctx context.Context, bucket domain.Bucket, id string, patch RulePatch) (domain.Rule, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	found, err := e.findAll(ctx, bucket, id)
	if err != nil {
		return domain.Rule{}, err
	}
	edited := make([]domain.Rule, 0, len(found))
	for _, r := range found {
		r = e.renderer.RenderRule(patch.apply(r))
		if err := e.rules.UpdateRule(ctx, r); err != nil {
			if len(edited) > 0 {
				e.rebuildLocked(ctx)
			}
			return domain.Rule{}, fmt.Errorf("edit rule: %w", err)
		}
		edited = append(edited, r)
	}
	e.rebuildLocked(ctx)
	e.logger.Info().Str("id", id).Int("copies", len(edited)).Msg("rule edited")
	return edited[0], nil
}

// DeleteRule removes the rule with id. An empty bucket removes it from every
// bucket, which deletes both copies of a rule added for both roles. It
// returns how many copies were removed.
func (e *Engine) DeleteRule(ctx context.Context, bucket domain.Bucket, id string) (int, error) {
	buckets := domain.Buckets
	if bucket != "" {
		if !bucket.Valid() {
			return 0, fmt.Errorf("%w: %q", domain.ErrUnknownBucket, bucket)
		}
		buckets = []domain.Bucket{bucket}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	removed := 0
	for _, b := range buckets {
		ok, err := e.rules.DeleteRule(ctx, b, id)
		if err != nil {
			if removed > 0 {
				e.rebuildLocked(ctx)
			}
			return removed, fmt.Errorf("delete rule: %w", err)
		}
		if ok {
			removed++
		}
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: rule %s", domain.ErrNotFound, id)
	}
	e.rebuildLocked(ctx)
	return removed, nil
}

func (e *Engine) findAll(ctx context.Context, bucket domain.Bucket, id string) ([]domain.Rule, error) {
	buckets := domain.Buckets
	if bucket != "" {
		if !bucket.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBucket, bucket)
		}
		buckets = []domain.Bucket{bucket}
	}
	var found []domain.Rule
	for _, b := range buckets {
		rules, err := e.rules.ListRules(ctx, b)
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			if r.ID == id {
				r.Bucket = b
				found = append(found, r)
				break
			}
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: rule %s", domain.ErrNotFound, id)
	}
	return found, nil
}

// ListRules returns the stored rules of one bucket.
func (e *Engine) ListRules(ctx context.Context, bucket domain.Bucket) ([]domain.Rule, error) {
	return e.rules.ListRules(ctx, bucket)
}

// Emails exposes the email directory to the admin surface. Directory edits
// need no rebuild: the short-circuit reads the directory on every request.
func (e *Engine) Emails() domain.EmailDirectory { return e.emails }
