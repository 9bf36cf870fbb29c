package store

import (
	"context"
	"fmt"
	"sync"

	"doran/internal/domain"
)

// Memory is a process-local Store. Rules keep insertion order within their bucket.
type Memory struct {
	mu     sync.RWMutex
	rules  map[domain.Bucket][]domain.Rule
	emails []domain.EmailEntry
	nextID int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rules: make(map[domain.Bucket][]domain.Rule), nextID: 1}
}

func (m *Memory) ListRules(_ context.Context, bucket domain.Bucket) ([]domain.Rule, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBucket, bucket)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Rule(nil), m.rules[bucket]...), nil
}

func (m *Memory) AddRules(_ context.Context, rules ...domain.Rule) error {
	prepared, err := prepare(rules)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// check every id before writing anything
	seen := make(map[domain.Bucket]map[string]bool)
	for _, r := range prepared {
		if m.indexOf(r.Bucket, r.ID) >= 0 || seen[r.Bucket][r.ID] {
			return fmt.Errorf("%w: duplicate id %s in %s", domain.ErrInvalidRule, r.ID, r.Bucket)
		}
		if seen[r.Bucket] == nil {
			seen[r.Bucket] = make(map[string]bool)
		}
		seen[r.Bucket][r.ID] = true
	}
	for _, r := range prepared {
		m.rules[r.Bucket] = append(m.rules[r.Bucket], r)
	}
	return nil
}

func (m *Memory) UpdateRule(_ context.Context, rule domain.Rule) error {
	prepared, err := prepare([]domain.Rule{rule})
	if err != nil {
		return err
	}
	r := prepared[0]
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(r.Bucket, rule.ID)
	if rule.ID == "" || i < 0 {
		return fmt.Errorf("%w: rule %s in %s", domain.ErrNotFound, rule.ID, rule.Bucket)
	}
	m.rules[r.Bucket][i] = r
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, bucket domain.Bucket, id string) (bool, error) {
	if !bucket.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrUnknownBucket, bucket)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(bucket, id)
	if i < 0 {
		return false, nil
	}
	rs := m.rules[bucket]
	m.rules[bucket] = append(rs[:i:i], rs[i+1:]...)
	return true, nil
}

func (m *Memory) indexOf(bucket domain.Bucket, id string) int {
	for i, r := range m.rules[bucket] {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) ListEmails(_ context.Context) ([]domain.EmailEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.EmailEntry(nil), m.emails...), nil
}

func (m *Memory) AddEmail(_ context.Context, school, email string) (int64, error) {
	if err := validEmail(school, email); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.emails = append(m.emails, domain.EmailEntry{ID: id, School: school, Email: email})
	return id, nil
}

func (m *Memory) UpdateEmail(_ context.Context, id int64, school, email string) (bool, error) {
	if err := validEmail(school, email); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.emails {
		if m.emails[i].ID == id {
			m.emails[i].School, m.emails[i].Email = school, email
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) DeleteEmail(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.emails {
		if m.emails[i].ID == id {
			m.emails = append(m.emails[:i:i], m.emails[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Close() error { return nil }
